package learning_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/internal/mocks"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/learning"
	"github.com/vortexion256/caremax-sub002/pkg/memory"
	"github.com/vortexion256/caremax-sub002/pkg/notes"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

type fixture struct {
	store *persistence.Store
	conv  *proto.Conversation
	notes *notes.Service
}

func newFixture(t *testing.T, turns ...proto.ChatTurn) *fixture {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	conv := &proto.Conversation{TenantID: "t1", UserID: "u1"}
	require.NoError(t, store.CreateConversation(ctx, conv))
	for _, turn := range turns {
		require.NoError(t, store.AppendMessage(ctx, &proto.Message{
			TenantID: "t1", ConversationID: conv.ID, Role: turn.Role, Content: turn.Content,
		}))
	}
	return &fixture{store: store, conv: conv, notes: notes.NewService(store, config.Default().Agent)}
}

func handledConversation() []proto.ChatTurn {
	return []proto.ChatTurn{
		{Role: proto.RoleUser, Content: "Do you accept Delta Dental insurance?"},
		{Role: proto.RoleAssistant, Content: "Let me connect you with our team."},
		{Role: proto.RoleUser, Content: "Do you accept Delta Dental insurance for cleanings?"},
		{Role: proto.RoleHumanAgent, Content: "Yes, we accept Delta Dental PPO plans."},
		{Role: proto.RoleHumanAgent, Content: "Cleanings are covered twice a year."},
		{Role: proto.RoleUser, Content: "Is there parking at the clinic?"},
		{Role: proto.RoleHumanAgent, Content: "Free parking is behind the building."},
	}
}

func TestExtractStoresSummaryAndAnswers(t *testing.T) {
	f := newFixture(t, handledConversation()...)
	ctx := context.Background()

	client := mocks.NewMockLLMClient()
	client.RespondWithToolCall("summarize_conversation", map[string]any{
		"summary":  "Customer asked about Delta Dental coverage and parking; a staff member answered.",
		"topics":   []any{"Insurance", "parking"},
		"personal": false,
	})
	ex := learning.NewExtractor(f.store, memory.NewSummarizer(client, f.store, 5), f.notes)

	out, err := ex.Extract(ctx, f.conv)
	require.NoError(t, err)
	require.NotNil(t, out.Summary)
	assert.Equal(t, []string{"insurance", "parking"}, out.Summary.Topics)
	assert.Equal(t, 2, out.NotesCreated)

	stored, err := f.store.RecentSummaries(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, f.conv.ID, stored[0].ConversationID)

	list, err := f.notes.List(ctx, "t1", persistence.NoteFilter{ConversationID: f.conv.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	var contents []string
	for _, n := range list {
		assert.Equal(t, proto.NoteCommonQuestions, n.Category)
		contents = append(contents, n.Content)
	}
	assert.Contains(t, contents,
		"Q: Do you accept Delta Dental insurance for cleanings?\nA: Yes, we accept Delta Dental PPO plans. Cleanings are covered twice a year.")
	assert.Contains(t, contents, "Q: Is there parking at the clinic?\nA: Free parking is behind the building.")
}

func TestExtractTwiceDeduplicatesNotes(t *testing.T) {
	f := newFixture(t, handledConversation()...)
	ctx := context.Background()
	ex := learning.NewExtractor(f.store, memory.NewSummarizer(nil, f.store, 5), f.notes)

	_, err := ex.Extract(ctx, f.conv)
	require.NoError(t, err)
	out, err := ex.Extract(ctx, f.conv)
	require.NoError(t, err)
	assert.Equal(t, 0, out.NotesCreated)
	assert.Equal(t, 2, out.NotesDeduped)
	assert.Contains(t, out.Summary.Summary, "Earlier in this conversation")
}

func TestExtractEmptyConversation(t *testing.T) {
	f := newFixture(t)
	ex := learning.NewExtractor(f.store, memory.NewSummarizer(nil, f.store, 5), nil)
	out, err := ex.Extract(context.Background(), f.conv)
	require.NoError(t, err)
	assert.Nil(t, out.Summary)
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, *proto.Conversation, []proto.Message) (*proto.ConversationSummary, error) {
	return nil, errors.New("store unavailable")
}

func TestOnReturnReportsFailure(t *testing.T) {
	f := newFixture(t, handledConversation()...)
	ex := learning.NewExtractor(f.store, failingSummarizer{}, f.notes)
	err := ex.OnReturn(context.Background(), f.conv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}
