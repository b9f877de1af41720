package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// SaveSummary stores a conversation summary for long-term recall.
func (s *Store) SaveSummary(ctx context.Context, sum *proto.ConversationSummary) error {
	if sum.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if sum.ID == "" {
		sum.ID = utils.NewID()
	}
	if sum.Scope == "" {
		sum.Scope = proto.ScopeShared
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	topics, err := json.Marshal(nonNilStrings(sum.Topics))
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, tenant_id, conversation_id, user_id, scope, summary, topics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.TenantID, sum.ConversationID, sum.UserID, string(sum.Scope), sum.Summary,
		string(topics), formatTS(sum.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// RecentSummaries returns up to limit of the tenant's summaries, newest first.
// Scope filtering is left to the caller.
func (s *Store) RecentSummaries(ctx context.Context, tenantID string, limit int) ([]proto.ConversationSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, conversation_id, user_id, scope, summary, topics, created_at
		FROM summaries WHERE tenant_id = ?
		ORDER BY created_at DESC, seq DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer closeRows(rows)

	var out []proto.ConversationSummary
	for rows.Next() {
		var (
			sum                    proto.ConversationSummary
			scope, topics, created string
		)
		if err := rows.Scan(&sum.ID, &sum.TenantID, &sum.ConversationID, &sum.UserID,
			&scope, &sum.Summary, &topics, &created); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &sum.Topics); err != nil {
			return nil, fmt.Errorf("malformed summary topics: %w", err)
		}
		sum.Scope = proto.SummaryScope(scope)
		sum.CreatedAt = parseTS(created)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}
