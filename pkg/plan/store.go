package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// Backend persists plan revisions.
type Backend interface {
	SavePlan(ctx context.Context, p *proto.ExecutionPlan) error
	ActivePlan(ctx context.Context, tenantID, conversationID string) (*proto.ExecutionPlan, error)
	ListPlans(ctx context.Context, tenantID, conversationID string) ([]proto.ExecutionPlan, error)
}

// Store saves plans for a conversation. Saving a revision supersedes the
// previously active one.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Save stores p for the conversation. Steps are renumbered 1..n first.
func (s *Store) Save(ctx context.Context, tenantID, conversationID string, p *proto.ExecutionPlan) error {
	if p == nil {
		return fmt.Errorf("nil plan")
	}
	Renumber(p)
	p.TenantID = tenantID
	p.ConversationID = conversationID
	if err := s.backend.SavePlan(ctx, p); err != nil {
		return fmt.Errorf("save plan for %s: %w", conversationID, err)
	}
	return nil
}

// Active returns the active plan, or nil when the conversation has none.
func (s *Store) Active(ctx context.Context, tenantID, conversationID string) (*proto.ExecutionPlan, error) {
	p, err := s.backend.ActivePlan(ctx, tenantID, conversationID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// History returns every revision, oldest first.
func (s *Store) History(ctx context.Context, tenantID, conversationID string) ([]proto.ExecutionPlan, error) {
	return s.backend.ListPlans(ctx, tenantID, conversationID)
}

// Advance applies step results to the active plan and stores the resulting
// revision. It returns a zero Progress when no plan is active.
func (s *Store) Advance(ctx context.Context, tenantID, conversationID string, results []StepResult) (Progress, error) {
	active, err := s.Active(ctx, tenantID, conversationID)
	if err != nil || active == nil {
		return Progress{}, err
	}
	prog := TrackProgress(active, results)
	if err := s.Save(ctx, tenantID, conversationID, prog.Plan); err != nil {
		return prog, err
	}
	return prog, nil
}
