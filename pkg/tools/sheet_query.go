package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// SheetQueryTool searches the tenant's availability/price sheet.
type SheetQueryTool struct {
	backend SheetBackend
	sheetID string
	rng     string
}

// NewSheetQueryTool binds the tool to one tenant sheet range.
func NewSheetQueryTool(backend SheetBackend, sheetID, rng string) *SheetQueryTool {
	return &SheetQueryTool{backend: backend, sheetID: sheetID, rng: rng}
}

func (t *SheetQueryTool) Name() string {
	return ToolSheetQuery
}

func (t *SheetQueryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSheetQuery,
		Description: "Look up rows in the clinic's schedule sheet (available slots, services, prices). Rows matching the most query words are returned first.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Words to match, e.g. 'dentist tuesday'"},
				"limit": {Type: "integer", Description: "Maximum rows to return (default 10)"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SheetQueryTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, _ := args["query"].(string)
	limit := utils.GetInt(args, "limit", 10)
	if limit <= 0 {
		limit = 10
	}

	rows, err := t.backend.ReadRows(ctx, t.sheetID, t.rng)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) == 0 {
		return jsonResult(map[string]any{"success": true, "rows": []any{}, "note": "sheet is empty"})
	}

	header := rows[0]
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		row   map[string]string
		score int
	}
	var matches []scored
	for _, row := range rows[1:] {
		joined := strings.ToLower(strings.Join(row, " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(joined, term) {
				score++
			}
		}
		if score == 0 && len(terms) > 0 {
			continue
		}
		record := make(map[string]string, len(header))
		for c, name := range header {
			if c < len(row) {
				record[name] = row[c]
			}
		}
		matches = append(matches, scored{row: record, score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]map[string]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.row)
	}
	return jsonResult(map[string]any{
		"success":   true,
		"query":     query,
		"row_count": len(out),
		"rows":      out,
	})
}
