package tools

import (
	"context"
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// KnowledgeSearcher ranks a tenant's record chunks for a query.
type KnowledgeSearcher interface {
	Search(ctx context.Context, tenantID, query string, limit int) ([]proto.RetrievedChunk, error)
}

// SearchKnowledgeTool queries the tenant's curated knowledge records.
type SearchKnowledgeTool struct {
	searcher KnowledgeSearcher
	tenantID string
}

func NewSearchKnowledgeTool(searcher KnowledgeSearcher, tenantID string) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{searcher: searcher, tenantID: tenantID}
}

func (t *SearchKnowledgeTool) Name() string {
	return ToolSearchKnowledge
}

func (t *SearchKnowledgeTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchKnowledge,
		Description: "Search the clinic's knowledge base (policies, services, opening hours, prices). Prefer this over guessing.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "What to look up"},
				"limit": {Type: "integer", Description: "Maximum chunks to return (default 3)"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchKnowledgeTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, _ := args["query"].(string)
	limit := utils.GetInt(args, "limit", 3)
	if limit <= 0 {
		limit = 3
	}
	hits, err := t.searcher.Search(ctx, t.tenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	response := map[string]any{
		"success":      true,
		"query":        query,
		"result_count": len(hits),
		"results":      hits,
	}
	if len(hits) == 0 {
		response["note"] = "Nothing in the knowledge base matches. Say so rather than guessing."
	}
	return jsonResult(response)
}
