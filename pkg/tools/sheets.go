package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SheetBackend reads and appends spreadsheet rows. Ranges use A1 notation,
// e.g. "Bookings!A:F".
type SheetBackend interface {
	ReadRows(ctx context.Context, sheetID, rng string) ([][]string, error)
	AppendRow(ctx context.Context, sheetID, rng string, row []string) (string, error)
}

// MemorySheets is an in-process SheetBackend keyed by sheet id and tab name.
type MemorySheets struct {
	mu   sync.RWMutex
	tabs map[string][][]string
}

// NewMemorySheets creates an empty in-memory spreadsheet store.
func NewMemorySheets() *MemorySheets {
	return &MemorySheets{tabs: make(map[string][][]string)}
}

func tabKey(sheetID, rng string) string {
	tab := rng
	if idx := strings.IndexByte(rng, '!'); idx >= 0 {
		tab = rng[:idx]
	}
	return sheetID + "|" + tab
}

// Seed replaces the rows of the tab addressed by rng.
func (m *MemorySheets) Seed(sheetID, rng string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([][]string, len(rows))
	for i := range rows {
		copied[i] = append([]string(nil), rows[i]...)
	}
	m.tabs[tabKey(sheetID, rng)] = copied
}

// ReadRows returns a copy of the tab's rows.
func (m *MemorySheets) ReadRows(_ context.Context, sheetID, rng string) ([][]string, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("sheet id is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tabs[tabKey(sheetID, rng)]
	out := make([][]string, len(rows))
	for i := range rows {
		out[i] = append([]string(nil), rows[i]...)
	}
	return out, nil
}

// AppendRow appends row and returns the A1 row reference it landed on.
func (m *MemorySheets) AppendRow(_ context.Context, sheetID, rng string, row []string) (string, error) {
	if sheetID == "" {
		return "", fmt.Errorf("sheet id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tabKey(sheetID, rng)
	m.tabs[key] = append(m.tabs[key], append([]string(nil), row...))
	tab := strings.TrimPrefix(key, sheetID+"|")
	return fmt.Sprintf("%s!%d:%d", tab, len(m.tabs[key]), len(m.tabs[key])), nil
}
