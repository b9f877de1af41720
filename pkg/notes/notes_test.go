package notes

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

func newTestService(t *testing.T) (*Service, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, config.Default().Agent), store
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Weekend opening hours", "opening hours weekend"))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.Less(t, Similarity("Asked about insurance", "Booked a cleaning"), 0.1)
	assert.InDelta(t, 6.0/7.0,
		Similarity("Patients often ask about weekend opening hours",
			"Patients often ask about weekend opening hours and parking"), 0.001)
}

func TestCreateNoteDeduplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, dup, err := svc.CreateNote(ctx, &proto.AgentNote{
		TenantID: "t1", ConversationID: "c1", Category: proto.NoteCommonQuestions,
		Content: "Patient asked about weekend opening hours for the clinic",
	})
	require.NoError(t, err)
	assert.False(t, dup)

	second, dup, err := svc.CreateNote(ctx, &proto.AgentNote{
		TenantID: "t1", ConversationID: "c1", Category: proto.NoteCommonQuestions,
		Content: "The patient asked about the clinic weekend opening hours",
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)

	t.Run("other category is not a duplicate", func(t *testing.T) {
		n, dup, err := svc.CreateNote(ctx, &proto.AgentNote{
			TenantID: "t1", ConversationID: "c1", Category: proto.NoteInsights,
			Content: "Patient asked about weekend opening hours for the clinic",
		})
		require.NoError(t, err)
		assert.False(t, dup)
		assert.NotEqual(t, first.ID, n.ID)
	})

	t.Run("other conversation is not a duplicate", func(t *testing.T) {
		n, dup, err := svc.CreateNote(ctx, &proto.AgentNote{
			TenantID: "t1", ConversationID: "c2", Category: proto.NoteCommonQuestions,
			Content: "Patient asked about weekend opening hours for the clinic",
		})
		require.NoError(t, err)
		assert.False(t, dup)
		assert.NotEqual(t, first.ID, n.ID)
	})

	t.Run("dissimilar content is new", func(t *testing.T) {
		_, dup, err := svc.CreateNote(ctx, &proto.AgentNote{
			TenantID: "t1", ConversationID: "c1", Category: proto.NoteCommonQuestions,
			Content: "Patient wants to know whether insurance covers dental cleaning",
		})
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("unknown category maps to other", func(t *testing.T) {
		n, _, err := svc.CreateNote(ctx, &proto.AgentNote{
			TenantID: "t1", ConversationID: "c3", Category: "bogus", Content: "Something noteworthy happened",
		})
		require.NoError(t, err)
		assert.Equal(t, proto.NoteOther, n.Category)
	})

	_, _, err = svc.CreateNote(ctx, &proto.AgentNote{TenantID: "t1", Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyNote)
}

func TestCreateNoteConcurrentDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, _, err := svc.CreateNote(ctx, &proto.AgentNote{
				TenantID: "t1", ConversationID: "c1", Category: proto.NoteKeywords,
				Content: "Frequent keyword: teeth whitening price",
			})
			if err == nil {
				ids[i] = n.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestUpdateAndStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, _, err := svc.CreateNote(ctx, &proto.AgentNote{TenantID: "t1", ConversationID: "c1", Content: "Prefers morning slots"})
	require.NoError(t, err)
	assert.Equal(t, proto.NotePending, n.Status)

	reviewed, err := svc.SetStatus(ctx, "t1", n.ID, proto.NoteReviewed)
	require.NoError(t, err)
	assert.Equal(t, proto.NoteReviewed, reviewed.Status)

	_, err = svc.SetStatus(ctx, "t1", n.ID, "lost")
	assert.Error(t, err)

	_, err = svc.Get(ctx, "t2", n.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "t1", n.ID))
	list, err := svc.List(ctx, "t1", persistence.NoteFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConsolidate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	insert := func(conv string, cat proto.NoteCategory, content string, status proto.NoteStatus, offset time.Duration) *proto.AgentNote {
		n := &proto.AgentNote{
			TenantID: "t1", ConversationID: conv, Category: cat, Content: content,
			Status: status, CreatedAt: base.Add(offset),
		}
		require.NoError(t, store.InsertNote(ctx, n))
		return n
	}
	older := insert("c1", proto.NoteCommonQuestions, "Patients often ask about weekend opening hours", proto.NoteReviewed, 0)
	newer := insert("c2", proto.NoteCommonQuestions, "Patients often ask about weekend opening hours and parking", proto.NotePending, time.Hour)
	other := insert("c3", proto.NoteCommonQuestions, "Several people asked whether we accept insurance", proto.NotePending, 2*time.Hour)
	otherCategory := insert("c4", proto.NoteInsights, "Patients often ask about weekend opening hours", proto.NotePending, 3*time.Hour)
	archived := insert("c5", proto.NoteCommonQuestions, "Patients often ask about weekend opening hours", proto.NoteArchived, 4*time.Hour)

	report, err := svc.Consolidate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Examined)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, report.Deleted)

	_, err = store.GetNote(ctx, "t1", older.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	kept, err := store.GetNote(ctx, "t1", newer.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.NoteReviewed, kept.Status)
	assert.Equal(t, "Patients often ask about weekend opening hours and parking", kept.Content)

	for _, id := range []string{other.ID, otherCategory.ID, archived.ID} {
		_, err := store.GetNote(ctx, "t1", id)
		assert.NoError(t, err)
	}

	// A second pass finds nothing left to merge.
	report, err = svc.Consolidate(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, report.Merged)
}

func TestMergeContentAppendsNewWords(t *testing.T) {
	assert.Equal(t, "Asks about parking\nAsks about parking fees",
		mergeContent("Asks about parking", "Asks about parking fees"))
	assert.Equal(t, "Asks about parking fees", mergeContent("Asks about parking fees", "asks parking"))
}

type tenantList []string

func (l tenantList) ListTenantIDs(context.Context) ([]string, error) { return l, nil }

func TestConsolidateAll(t *testing.T) {
	svc, _ := newTestService(t)
	reports, err := svc.ConsolidateAll(context.Background(), tenantList{"t1", "t2"})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "t2", reports[1].TenantID)
}
