package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// AppendMessage stores an immutable message and fills in ID, CreatedAt and Seq.
func (s *Store) AppendMessage(ctx context.Context, m *proto.Message) error {
	if m.TenantID == "" || m.ConversationID == "" {
		return fmt.Errorf("tenant id and conversation id are required")
	}
	if m.ID == "" {
		m.ID = utils.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.ConversationID, string(m.Role), m.Content, formatTS(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append message to %s: %w", m.ConversationID, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}
	return nil
}

// ListMessages returns the conversation's messages in chronological order,
// ties broken by insertion order. limit > 0 keeps only the most recent ones.
func (s *Store) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]proto.Message, error) {
	query := `
		SELECT seq, id, tenant_id, conversation_id, role, content, created_at FROM (
			SELECT seq, id, tenant_id, conversation_id, role, content, created_at
			FROM messages
			WHERE tenant_id = ? AND conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conversationID, err)
	}
	defer closeRows(rows)

	var msgs []proto.Message
	for rows.Next() {
		var (
			m       proto.Message
			role    string
			created string
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.TenantID, &m.ConversationID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = proto.Role(role)
		m.CreatedAt = parseTS(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return msgs, nil
}
