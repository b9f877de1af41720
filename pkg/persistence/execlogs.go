package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// AppendExecutionLog records one tool attempt. Logs are never updated.
func (s *Store) AppendExecutionLog(ctx context.Context, l *proto.ExecutionLog) error {
	if l.TenantID == "" || l.ConversationID == "" {
		return fmt.Errorf("tenant id and conversation id are required")
	}
	if l.ID == "" {
		l.ID = utils.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Attempt == 0 {
		l.Attempt = 1
	}
	var verified sql.NullInt64
	if l.Verified != nil {
		verified = sql.NullInt64{Int64: int64(boolToInt(*l.Verified)), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (
			id, tenant_id, conversation_id, tool_name, arguments, success,
			result, error, verified, attempt, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.ConversationID, l.ToolName, l.Arguments, boolToInt(l.Success),
		l.Result, l.Error, verified, l.Attempt, formatTS(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// RecentExecutionLogs returns up to limit of the conversation's latest
// attempts in chronological order.
func (s *Store) RecentExecutionLogs(ctx context.Context, tenantID, conversationID string, limit int) ([]proto.ExecutionLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, conversation_id, tool_name, arguments, success, result, error, verified, attempt, created_at
		FROM (
			SELECT * FROM execution_logs
			WHERE tenant_id = ? AND conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs of %s: %w", conversationID, err)
	}
	defer closeRows(rows)

	var logs []proto.ExecutionLog
	for rows.Next() {
		var (
			l        proto.ExecutionLog
			verified sql.NullBool
			created  string
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ConversationID, &l.ToolName, &l.Arguments,
			&l.Success, &l.Result, &l.Error, &verified, &l.Attempt, &created); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		if verified.Valid {
			v := verified.Bool
			l.Verified = &v
		}
		l.CreatedAt = parseTS(created)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return logs, nil
}
