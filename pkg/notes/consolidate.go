package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// ConsolidationReport summarizes one consolidation pass over a tenant.
type ConsolidationReport struct {
	TenantID string `json:"tenant_id"`
	Examined int    `json:"examined"`
	Merged   int    `json:"merged"`  // Notes that absorbed others
	Deleted  int    `json:"deleted"` // Notes removed after being absorbed
}

// Consolidate merges overlapping notes across the whole tenant. Within each
// category, the newest note of a group of notes whose similarity reaches the
// consolidation threshold is kept; content from the others that adds new
// words is appended to it, and the others are deleted. Archived notes are
// left alone.
func (s *Service) Consolidate(ctx context.Context, tenantID string) (ConsolidationReport, error) {
	report := ConsolidationReport{TenantID: tenantID}
	all, err := s.store.ListNotes(ctx, tenantID, persistence.NoteFilter{})
	if err != nil {
		return report, fmt.Errorf("consolidate %s: %w", tenantID, err)
	}

	byCategory := make(map[proto.NoteCategory][]proto.AgentNote)
	var order []proto.NoteCategory
	for i := range all {
		if all[i].Status == proto.NoteArchived {
			continue
		}
		report.Examined++
		c := all[i].Category
		if _, seen := byCategory[c]; !seen {
			order = append(order, c)
		}
		byCategory[c] = append(byCategory[c], all[i])
	}

	for _, category := range order {
		// Newest first, as returned by the store.
		group := byCategory[category]
		absorbed := make([]bool, len(group))
		for i := range group {
			if absorbed[i] {
				continue
			}
			keep := group[i]
			var drop []string
			for j := i + 1; j < len(group); j++ {
				if absorbed[j] || Similarity(keep.Content, group[j].Content) < s.consolidationThreshold {
					continue
				}
				absorbed[j] = true
				drop = append(drop, group[j].ID)
				keep.Content = mergeContent(keep.Content, group[j].Content)
				if group[j].Status == proto.NoteReviewed {
					keep.Status = proto.NoteReviewed
				}
			}
			if len(drop) == 0 {
				continue
			}
			if err := s.store.ReplaceNotes(ctx, &keep, drop); err != nil {
				return report, fmt.Errorf("consolidate %s: %w", tenantID, err)
			}
			report.Merged++
			report.Deleted += len(drop)
			s.logger.Info("merged %d %s notes into %s for tenant %s", len(drop), category, keep.ID, tenantID)
		}
	}
	return report, nil
}

// mergeContent appends other to base when other carries words base lacks.
func mergeContent(base, other string) string {
	have := wordSet(base)
	for w := range wordSet(other) {
		if !have[w] {
			return strings.TrimSpace(base) + "\n" + strings.TrimSpace(other)
		}
	}
	return base
}

// TenantLister enumerates the tenants to consolidate.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// ConsolidateAll runs Consolidate for every tenant. A failing tenant is
// logged and skipped.
func (s *Service) ConsolidateAll(ctx context.Context, lister TenantLister) ([]ConsolidationReport, error) {
	ids, err := lister.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	reports := make([]ConsolidationReport, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, fmt.Errorf("consolidation interrupted: %w", err)
		}
		r, err := s.Consolidate(ctx, id)
		if err != nil {
			s.logger.Warn("consolidation of tenant %s failed: %v", id, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}
