package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// ChunkSource lists every indexed chunk of a tenant's records.
type ChunkSource interface {
	ListChunks(ctx context.Context, tenantID string) ([]proto.RetrievedChunk, error)
}

// titleWeight is the extra score for a query term found in the record title.
const titleWeight = 0.5

// Searcher ranks record chunks by keyword overlap with the query.
type Searcher struct {
	source ChunkSource
}

// NewSearcher creates a searcher over source.
func NewSearcher(source ChunkSource) *Searcher {
	return &Searcher{source: source}
}

// Search returns up to limit chunks of tenantID that share at least one key
// term with query, best first. The score is the fraction of query terms the
// chunk contains, plus a bonus for terms in the record title.
func (s *Searcher) Search(ctx context.Context, tenantID, query string, limit int) ([]proto.RetrievedChunk, error) {
	queryTerms := ExtractKeyTerms(query, 20)
	if len(queryTerms) == 0 {
		return nil, nil
	}
	chunks, err := s.source.ListChunks(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for %s: %w", tenantID, err)
	}

	hits := make([]proto.RetrievedChunk, 0, len(chunks))
	for i := range chunks {
		score := scoreChunk(queryTerms, chunks[i].Title, chunks[i].Text)
		if score == 0 {
			continue
		}
		hit := chunks[i]
		hit.Score = score
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	logx.Debug(ctx, "knowledge", "query %q terms=%v matched %d/%d chunks", query, queryTerms, len(hits), len(chunks))
	return hits, nil
}

func scoreChunk(queryTerms []string, title, text string) float64 {
	body := termSet(text)
	head := termSet(title)
	var matched, titled int
	for _, term := range queryTerms {
		term = fold(term)
		if body[term] || head[term] {
			matched++
		}
		if head[term] {
			titled++
		}
	}
	if matched == 0 {
		return 0
	}
	n := float64(len(queryTerms))
	return float64(matched)/n + titleWeight*float64(titled)/n
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, term := range Terms(text) {
		set[fold(term)] = true
	}
	return set
}

// fold strips a plural "s" so "appointments" matches "appointment".
func fold(term string) string {
	if len(term) > 3 && strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss") {
		return term[:len(term)-1]
	}
	return term
}
