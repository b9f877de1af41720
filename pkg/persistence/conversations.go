package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

const conversationColumns = `id, tenant_id, user_id, external_id, channel, status,
	created_at, updated_at, handoff_requested_at, human_joined_at`

// CreateConversation inserts c with status open. Empty ids and timestamps are filled in.
func (s *Store) CreateConversation(ctx context.Context, c *proto.Conversation) error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if c.ID == "" {
		c.ID = utils.NewID()
	}
	if c.Status == "" {
		c.Status = proto.StatusOpen
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.UserID, c.ExternalID, c.Channel, string(c.Status),
		formatTS(c.CreatedAt), formatTS(c.UpdatedAt),
		formatNullTS(c.HandoffRequestedAt), formatNullTS(c.HumanJoinedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation returns the conversation or ErrNotFound. A conversation of
// another tenant is reported as not found.
func (s *Store) GetConversation(ctx context.Context, tenantID, id string) (*proto.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND id = ?`,
		tenantID, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return c, nil
}

// FindConversationByExternalID looks up a conversation by its channel-side id.
func (s *Store) FindConversationByExternalID(ctx context.Context, tenantID, channel, externalID string) (*proto.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = ? AND channel = ? AND external_id = ?`,
		tenantID, channel, externalID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s/%s: %w", channel, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation %s/%s: %w", channel, externalID, err)
	}
	return c, nil
}

// UpdateStatus moves a conversation from one status to another only if it is
// still in from. It reports whether this call performed the transition, so
// concurrent callers racing on the same transition see exactly one winner.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, id string, from, to proto.ConversationStatus) (bool, error) {
	now := formatTS(time.Now())
	query := `UPDATE conversations SET status = ?, updated_at = ?`
	args := []any{string(to), now}
	switch to {
	case proto.StatusHandoffRequested:
		query += `, handoff_requested_at = ?`
		args = append(args, now)
	case proto.StatusHumanJoined:
		query += `, human_joined_at = ?`
		args = append(args, now)
	case proto.StatusOpen:
		query += `, handoff_requested_at = NULL, human_joined_at = NULL`
	}
	query += ` WHERE tenant_id = ? AND id = ? AND status = ?`
	args = append(args, tenantID, id, string(from))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update status of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for %s: %w", id, err)
	}
	return n == 1, nil
}

// DeleteConversation removes a conversation with its messages, plans and
// execution logs. Notes and summaries outlive it.
func (s *Store) DeleteConversation(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	if err := requireAffected(res, "conversation "+id); err != nil {
		return err
	}
	for _, table := range []string{"messages", "plans", "execution_logs"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE tenant_id = ? AND conversation_id = ?`, tenantID, id); err != nil {
			return fmt.Errorf("failed to delete %s of %s: %w", table, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", id, err)
	}
	return nil
}

func scanConversation(row rowScanner) (*proto.Conversation, error) {
	var (
		c                   proto.Conversation
		status              string
		created, updated    string
		handoffAt, joinedAt sql.NullString
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.ExternalID, &c.Channel, &status,
		&created, &updated, &handoffAt, &joinedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	c.Status = proto.ConversationStatus(status)
	c.CreatedAt = parseTS(created)
	c.UpdatedAt = parseTS(updated)
	c.HandoffRequestedAt = parseNullTS(handoffAt)
	c.HumanJoinedAt = parseNullTS(joinedAt)
	return &c, nil
}
