// Package billing answers whether a tenant's subscription allows automated replies.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// UnavailableReply is sent instead of running the agent for inactive tenants.
const UnavailableReply = "This service is temporarily unavailable. Please contact the clinic directly."

// Oracle reports the billing status of a tenant.
type Oracle interface {
	Active(ctx context.Context, tenantID string) (bool, error)
}

// Static is an in-memory Oracle. Tenants not listed get the default.
type Static struct {
	mu       sync.RWMutex
	status   map[string]bool
	fallback bool
}

// NewStatic creates a Static oracle that reports fallback for unknown tenants.
func NewStatic(fallback bool) *Static {
	return &Static{status: make(map[string]bool), fallback: fallback}
}

// Set records the status of one tenant.
func (s *Static) Set(tenantID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[tenantID] = active
}

func (s *Static) Active(_ context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if active, ok := s.status[tenantID]; ok {
		return active, nil
	}
	return s.fallback, nil
}

// SettingsReader loads tenant settings.
type SettingsReader interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*proto.TenantSettings, error)
}

// StoreOracle reads the billing flag from tenant settings. Unknown tenants
// are inactive.
type StoreOracle struct {
	settings SettingsReader
	notFound error
}

// NewStoreOracle creates an oracle over reader. notFound is the sentinel the
// reader wraps for missing tenants; such tenants are reported inactive
// without an error.
func NewStoreOracle(reader SettingsReader, notFound error) *StoreOracle {
	return &StoreOracle{settings: reader, notFound: notFound}
}

func (o *StoreOracle) Active(ctx context.Context, tenantID string) (bool, error) {
	t, err := o.settings.GetTenantSettings(ctx, tenantID)
	if err != nil {
		if o.notFound != nil && errors.Is(err, o.notFound) {
			return false, nil
		}
		return false, fmt.Errorf("billing status for %s: %w", tenantID, err)
	}
	return t.BillingActive, nil
}
