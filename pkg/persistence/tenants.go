package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// UpsertTenantSettings inserts or replaces the agent settings of a tenant.
func (s *Store) UpsertTenantSettings(ctx context.Context, t *proto.TenantSettings) error {
	if t.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	features, err := json.Marshal(nonNilStrings(t.EnabledFeatures))
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	query := `
		INSERT INTO tenants (
			tenant_id, agent_name, model, temperature, system_prompt, enabled_features,
			pipeline_version, billing_active, sheet_id, whatsapp_number, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			agent_name = excluded.agent_name,
			model = excluded.model,
			temperature = excluded.temperature,
			system_prompt = excluded.system_prompt,
			enabled_features = excluded.enabled_features,
			pipeline_version = excluded.pipeline_version,
			billing_active = excluded.billing_active,
			sheet_id = excluded.sheet_id,
			whatsapp_number = excluded.whatsapp_number,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		t.TenantID, t.AgentName, t.Model, t.Temperature, t.SystemPrompt, string(features),
		t.PipelineVersion, boolToInt(t.BillingActive), t.SheetID, t.WhatsAppNumber, formatTS(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", t.TenantID, err)
	}
	return nil
}

// GetTenantSettings returns the settings of tenantID or ErrNotFound.
func (s *Store) GetTenantSettings(ctx context.Context, tenantID string) (*proto.TenantSettings, error) {
	query := `
		SELECT tenant_id, agent_name, model, temperature, system_prompt, enabled_features,
		       pipeline_version, billing_active, sheet_id, whatsapp_number
		FROM tenants WHERE tenant_id = ?
	`
	var (
		t        proto.TenantSettings
		features string
		active   bool
	)
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&t.TenantID, &t.AgentName, &t.Model, &t.Temperature, &t.SystemPrompt, &features,
		&t.PipelineVersion, &active, &t.SheetID, &t.WhatsAppNumber,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %s: %w", tenantID, err)
	}
	t.BillingActive = active
	if err := json.Unmarshal([]byte(features), &t.EnabledFeatures); err != nil {
		return nil, fmt.Errorf("tenant %s has malformed features: %w", tenantID, err)
	}
	return &t, nil
}

// SetBillingActive flips the billing flag of an existing tenant.
func (s *Store) SetBillingActive(ctx context.Context, tenantID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET billing_active = ?, updated_at = ? WHERE tenant_id = ?`,
		boolToInt(active), formatTS(time.Now()), tenantID)
	if err != nil {
		return fmt.Errorf("failed to update billing for %s: %w", tenantID, err)
	}
	return requireAffected(res, "tenant "+tenantID)
}

// ListTenantIDs returns every tenant id in lexical order.
func (s *Store) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer closeRows(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
