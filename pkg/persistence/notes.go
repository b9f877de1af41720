package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// NoteFilter narrows ListNotes. Zero fields match everything.
type NoteFilter struct {
	ConversationID string
	Category       proto.NoteCategory
	Status         proto.NoteStatus
	Limit          int
}

const noteColumns = `id, tenant_id, conversation_id, user_id, patient_ref, category, content, status, created_at, updated_at`

// InsertNote stores a new note. Empty id, status and timestamps are filled in.
func (s *Store) InsertNote(ctx context.Context, n *proto.AgentNote) error {
	if n.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if n.ID == "" {
		n.ID = utils.NewID()
	}
	if n.Status == "" {
		n.Status = proto.NotePending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.ConversationID, n.UserID, n.PatientRef, string(n.Category),
		n.Content, string(n.Status), formatTS(n.CreatedAt), formatTS(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// GetNote returns a note of tenantID or ErrNotFound.
func (s *Store) GetNote(ctx context.Context, tenantID, id string) (*proto.AgentNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE tenant_id = ? AND id = ?`, tenantID, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes returns the tenant's notes matching filter, newest first.
func (s *Store) ListNotes(ctx context.Context, tenantID string, filter NoteFilter) ([]proto.AgentNote, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if filter.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	query := `SELECT ` + noteColumns + ` FROM notes WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer closeRows(rows)

	var notes []proto.AgentNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return notes, nil
}

// UpdateNote rewrites category, content and status of an existing note.
func (s *Store) UpdateNote(ctx context.Context, n *proto.AgentNote) error {
	n.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET category = ?, content = ?, status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(n.Category), n.Content, string(n.Status), formatTS(n.UpdatedAt), n.TenantID, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", n.ID, err)
	}
	return requireAffected(res, "note "+n.ID)
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return requireAffected(res, "note "+id)
}

// ReplaceNotes updates keep and deletes drop in one transaction.
func (s *Store) ReplaceNotes(ctx context.Context, keep *proto.AgentNote, drop []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keep.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE notes SET category = ?, content = ?, status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(keep.Category), keep.Content, string(keep.Status), formatTS(keep.UpdatedAt), keep.TenantID, keep.ID)
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", keep.ID, err)
	}
	if err := requireAffected(res, "note "+keep.ID); err != nil {
		return err
	}
	if len(drop) > 0 {
		args := []any{keep.TenantID}
		for _, id := range drop {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM notes WHERE tenant_id = ? AND id IN (`+placeholders(len(drop))+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete merged notes: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit note merge: %w", err)
	}
	return nil
}

func scanNote(row rowScanner) (*proto.AgentNote, error) {
	var (
		n                proto.AgentNote
		category, status string
		created, updated string
	)
	if err := row.Scan(&n.ID, &n.TenantID, &n.ConversationID, &n.UserID, &n.PatientRef,
		&category, &n.Content, &status, &created, &updated); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	n.Category = proto.NoteCategory(category)
	n.Status = proto.NoteStatus(status)
	n.CreatedAt = parseTS(created)
	n.UpdatedAt = parseTS(updated)
	return &n, nil
}
