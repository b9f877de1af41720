// Package notes records the agent's distilled facts with duplicate
// detection, and consolidates overlapping notes across a tenant.
package notes

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/knowledge"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// ErrEmptyNote is returned for a note without content.
var ErrEmptyNote = errors.New("note content is required")

// ErrInvalidStatus is returned for a note status outside the known set.
var ErrInvalidStatus = errors.New("invalid note status")

// Store persists notes.
type Store interface {
	InsertNote(ctx context.Context, n *proto.AgentNote) error
	GetNote(ctx context.Context, tenantID, id string) (*proto.AgentNote, error)
	ListNotes(ctx context.Context, tenantID string, filter persistence.NoteFilter) ([]proto.AgentNote, error)
	UpdateNote(ctx context.Context, n *proto.AgentNote) error
	DeleteNote(ctx context.Context, tenantID, id string) error
	ReplaceNotes(ctx context.Context, keep *proto.AgentNote, drop []string) error
}

// Service is the note API used by the create_note tool and admin endpoints.
type Service struct {
	store                  Store
	dedupeThreshold        float64
	dedupeWindow           int
	consolidationThreshold float64
	logger                 *logx.Logger

	// Striped locks serialize the check-then-insert of one conversation.
	locks [32]sync.Mutex
}

// NewService creates a note service with the thresholds of cfg.
func NewService(store Store, cfg config.AgentConfig) *Service {
	return &Service{
		store:                  store,
		dedupeThreshold:        cfg.NoteDedupeThreshold,
		dedupeWindow:           cfg.NoteDedupeWindow,
		consolidationThreshold: cfg.ConsolidationThreshold,
		logger:                 logx.NewLogger("notes"),
	}
}

func (s *Service) lockFor(tenantID, conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID + "/" + conversationID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// Similarity is the share of significant words two texts have in common,
// relative to the larger of the two word sets. Identical texts score 1.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for w := range setA {
		if setB[w] {
			shared++
		}
	}
	larger := len(setA)
	if len(setB) > larger {
		larger = len(setB)
	}
	return float64(shared) / float64(larger)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range knowledge.Terms(text) {
		set[w] = true
	}
	return set
}

// CreateNote stores note unless a recent note of the same conversation and
// category is a duplicate, in which case that note is returned with true.
// Notes without a conversation are never deduplicated.
func (s *Service) CreateNote(ctx context.Context, note *proto.AgentNote) (*proto.AgentNote, bool, error) {
	note.Content = strings.TrimSpace(note.Content)
	if note.Content == "" {
		return nil, false, ErrEmptyNote
	}
	note.Category = proto.ParseNoteCategory(string(note.Category))

	if note.ConversationID != "" {
		mu := s.lockFor(note.TenantID, note.ConversationID)
		mu.Lock()
		defer mu.Unlock()

		existing, err := s.findDuplicate(ctx, note)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			logx.Debug(ctx, "notes", "note duplicates %s in conversation %s", existing.ID, note.ConversationID)
			return existing, true, nil
		}
	}

	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, false, fmt.Errorf("create note: %w", err)
	}
	s.logger.Info("note %s created (%s) for tenant %s", note.ID, note.Category, note.TenantID)
	return note, false, nil
}

func (s *Service) findDuplicate(ctx context.Context, note *proto.AgentNote) (*proto.AgentNote, error) {
	recent, err := s.store.ListNotes(ctx, note.TenantID, persistence.NoteFilter{
		ConversationID: note.ConversationID,
		Category:       note.Category,
		Limit:          s.dedupeWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("load recent notes: %w", err)
	}
	for i := range recent {
		if Similarity(note.Content, recent[i].Content) >= s.dedupeThreshold {
			return &recent[i], nil
		}
	}
	return nil, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (*proto.AgentNote, error) {
	n, err := s.store.GetNote(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// List returns the tenant's notes matching filter, newest first.
func (s *Service) List(ctx context.Context, tenantID string, filter persistence.NoteFilter) ([]proto.AgentNote, error) {
	list, err := s.store.ListNotes(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return list, nil
}

// Update rewrites the content, category and status of an existing note.
func (s *Service) Update(ctx context.Context, note *proto.AgentNote) error {
	note.Content = strings.TrimSpace(note.Content)
	if note.Content == "" {
		return ErrEmptyNote
	}
	note.Category = proto.ParseNoteCategory(string(note.Category))
	switch note.Status {
	case proto.NotePending, proto.NoteReviewed, proto.NoteArchived:
	default:
		return fmt.Errorf("%w %q", ErrInvalidStatus, note.Status)
	}
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

// SetStatus moves a note to status, e.g. when an admin reviews it.
func (s *Service) SetStatus(ctx context.Context, tenantID, id string, status proto.NoteStatus) (*proto.AgentNote, error) {
	n, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	n.Status = status
	if err := s.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.store.DeleteNote(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}
