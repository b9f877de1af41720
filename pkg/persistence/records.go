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

// SaveRecord upserts an agent record and replaces its chunks.
func (s *Store) SaveRecord(ctx context.Context, r *proto.AgentRecord, chunks []proto.RecordChunk) error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if r.ID == "" {
		r.ID = utils.NewID()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveRecordTx(ctx, tx, r, chunks); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record %s: %w", r.ID, err)
	}
	return nil
}

func saveRecordTx(ctx context.Context, tx *sql.Tx, r *proto.AgentRecord, chunks []proto.RecordChunk) error {
	r.UpdatedAt = time.Now().UTC()

	// A record id owned by another tenant must not be overwritten.
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT tenant_id FROM records WHERE id = ?`, r.ID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to check record %s: %w", r.ID, err)
	case owner != r.TenantID:
		return fmt.Errorf("record %s: %w", r.ID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, tenant_id, title, content, category, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category = excluded.category,
			updated_at = excluded.updated_at`,
		r.ID, r.TenantID, r.Title, r.Content, r.Category, formatTS(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_chunks WHERE tenant_id = ? AND record_id = ?`, r.TenantID, r.ID); err != nil {
		return fmt.Errorf("failed to clear chunks of %s: %w", r.ID, err)
	}
	for i := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_chunks (record_id, tenant_id, chunk_index, text) VALUES (?, ?, ?, ?)`,
			r.ID, r.TenantID, chunks[i].Index, chunks[i].Text); err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", chunks[i].Index, r.ID, err)
		}
	}
	return nil
}

func deleteRecordTx(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if err := requireAffected(res, "record "+id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_chunks WHERE tenant_id = ? AND record_id = ?`, tenantID, id); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", id, err)
	}
	return nil
}

// GetRecord returns one record or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, tenantID, id string) (*proto.AgentRecord, error) {
	var (
		r       proto.AgentRecord
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, title, content, category, updated_at
		FROM records WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&r.ID, &r.TenantID, &r.Title, &r.Content, &r.Category, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	r.UpdatedAt = parseTS(updated)
	return &r, nil
}

// ListRecords returns the tenant's records ordered by title.
func (s *Store) ListRecords(ctx context.Context, tenantID string) ([]proto.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, title, content, category, updated_at
		FROM records WHERE tenant_id = ? ORDER BY title, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer closeRows(rows)

	var out []proto.AgentRecord
	for rows.Next() {
		var (
			r       proto.AgentRecord
			updated string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Title, &r.Content, &r.Category, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.UpdatedAt = parseTS(updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// DeleteRecord removes a record and its chunks.
func (s *Store) DeleteRecord(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := deleteRecordTx(ctx, tx, tenantID, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", id, err)
	}
	return nil
}

// ListChunks returns every chunk of the tenant's records with the record title.
func (s *Store) ListChunks(ctx context.Context, tenantID string) ([]proto.RetrievedChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.record_id, r.title, c.text
		FROM record_chunks c JOIN records r ON r.id = c.record_id AND r.tenant_id = c.tenant_id
		WHERE c.tenant_id = ?
		ORDER BY r.title, c.record_id, c.chunk_index`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer closeRows(rows)

	var out []proto.RetrievedChunk
	for rows.Next() {
		var c proto.RetrievedChunk
		if err := rows.Scan(&c.RecordID, &c.Title, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

const modificationColumns = `id, tenant_id, record_id, kind, proposed_title, proposed_content, reason, status, created_at, resolved_at`

// CreateModification stores a pending modification request.
func (s *Store) CreateModification(ctx context.Context, m *proto.ModificationRequest) error {
	if m.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if m.ID == "" {
		m.ID = utils.NewID()
	}
	m.Status = proto.ModificationPending
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modification_requests (`+modificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		m.ID, m.TenantID, m.RecordID, string(m.Kind), m.ProposedTitle, m.ProposedContent,
		m.Reason, string(m.Status), formatTS(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create modification request: %w", err)
	}
	return nil
}

// GetModification returns one request or ErrNotFound.
func (s *Store) GetModification(ctx context.Context, tenantID, id string) (*proto.ModificationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modificationColumns+` FROM modification_requests WHERE tenant_id = ? AND id = ?`, tenantID, id)
	m, err := scanModification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("modification request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get modification request %s: %w", id, err)
	}
	return m, nil
}

// ListModifications returns the tenant's requests, oldest first. An empty
// status matches all.
func (s *Store) ListModifications(ctx context.Context, tenantID string, status proto.ModificationStatus) ([]proto.ModificationRequest, error) {
	query := `SELECT ` + modificationColumns + ` FROM modification_requests WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list modification requests: %w", err)
	}
	defer closeRows(rows)

	var out []proto.ModificationRequest
	for rows.Next() {
		m, err := scanModification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan modification request: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// ResolveModification moves a pending request to status and, when approved,
// applies it in the same transaction: a non-nil record is saved with chunks,
// a nil record deletes the request's target. ErrConflict means the request
// was no longer pending.
func (s *Store) ResolveModification(ctx context.Context, m *proto.ModificationRequest, status proto.ModificationStatus,
	record *proto.AgentRecord, chunks []proto.RecordChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE modification_requests SET status = ?, resolved_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(status), formatTS(now), m.TenantID, m.ID, string(proto.ModificationPending))
	if err != nil {
		return fmt.Errorf("failed to resolve modification request %s: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected for %s: %w", m.ID, err)
	} else if n == 0 {
		return fmt.Errorf("modification request %s is not pending: %w", m.ID, ErrConflict)
	}

	if status == proto.ModificationApproved {
		if record != nil {
			err = saveRecordTx(ctx, tx, record, chunks)
		} else {
			err = deleteRecordTx(ctx, tx, m.TenantID, m.RecordID)
		}
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit modification request %s: %w", m.ID, err)
	}
	m.Status = status
	m.ResolvedAt = &now
	return nil
}

func scanModification(row rowScanner) (*proto.ModificationRequest, error) {
	var (
		m                     proto.ModificationRequest
		kind, status, created string
		resolved              sql.NullString
	)
	if err := row.Scan(&m.ID, &m.TenantID, &m.RecordID, &kind, &m.ProposedTitle, &m.ProposedContent,
		&m.Reason, &status, &created, &resolved); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	m.Kind = proto.ModificationKind(kind)
	m.Status = proto.ModificationStatus(status)
	m.CreatedAt = parseTS(created)
	m.ResolvedAt = parseNullTS(resolved)
	return &m, nil
}
