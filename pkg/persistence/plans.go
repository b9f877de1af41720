package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

const planColumns = `id, tenant_id, conversation_id, request, steps, current_step, missing_info, status, created_at`

// SavePlan stores p as a new revision. Any plan of the same conversation that
// is still active is marked superseded in the same transaction.
func (s *Store) SavePlan(ctx context.Context, p *proto.ExecutionPlan) error {
	if p.TenantID == "" || p.ConversationID == "" {
		return fmt.Errorf("tenant id and conversation id are required")
	}
	if p.ID == "" {
		p.ID = utils.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode plan steps: %w", err)
	}
	missing, err := json.Marshal(nonNilStrings(p.MissingInfo))
	if err != nil {
		return fmt.Errorf("failed to encode missing info: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE plans SET status = ?
		WHERE tenant_id = ? AND conversation_id = ? AND status IN (?, ?, ?, ?)`,
		string(proto.PlanSuperseded), p.TenantID, p.ConversationID,
		string(proto.PlanReady), string(proto.PlanExecuting), string(proto.PlanNeedsInfo), string(proto.PlanAwaitingConfirmation))
	if err != nil {
		return fmt.Errorf("failed to supersede plans of %s: %w", p.ConversationID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.ConversationID, p.Request, string(steps), p.CurrentStep,
		string(missing), string(p.Status), formatTS(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan returns one plan revision or ErrNotFound.
func (s *Store) GetPlan(ctx context.Context, tenantID, id string) (*proto.ExecutionPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE tenant_id = ? AND id = ?`, tenantID, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}
	return p, nil
}

// ActivePlan returns the latest plan of the conversation whose status is
// ready, executing, needs_info or awaiting_confirmation, or ErrNotFound.
func (s *Store) ActivePlan(ctx context.Context, tenantID, conversationID string) (*proto.ExecutionPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE tenant_id = ? AND conversation_id = ? AND status IN (?, ?, ?, ?)
		ORDER BY seq DESC LIMIT 1`,
		tenantID, conversationID,
		string(proto.PlanReady), string(proto.PlanExecuting), string(proto.PlanNeedsInfo), string(proto.PlanAwaitingConfirmation))
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active plan for %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active plan for %s: %w", conversationID, err)
	}
	return p, nil
}

// ListPlans returns every revision of the conversation's plans, oldest first.
func (s *Store) ListPlans(ctx context.Context, tenantID, conversationID string) ([]proto.ExecutionPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE tenant_id = ? AND conversation_id = ?
		ORDER BY seq ASC`, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans of %s: %w", conversationID, err)
	}
	defer closeRows(rows)

	var plans []proto.ExecutionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return plans, nil
}

func scanPlan(row rowScanner) (*proto.ExecutionPlan, error) {
	var (
		p                      proto.ExecutionPlan
		steps, missing, status string
		created                string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.ConversationID, &p.Request, &steps,
		&p.CurrentStep, &missing, &status, &created); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return nil, fmt.Errorf("malformed plan steps: %w", err)
	}
	if err := json.Unmarshal([]byte(missing), &p.MissingInfo); err != nil {
		return nil, fmt.Errorf("malformed missing info: %w", err)
	}
	p.Status = proto.PlanStatus(status)
	p.CreatedAt = parseTS(created)
	return &p, nil
}
