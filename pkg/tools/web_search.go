package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/vortexion256/caremax-sub002/pkg/config"
)

const (
	maxSearchBody    = 1 << 20
	maxSearchResults = 5
	// maxQueryLen keeps customer text from being forwarded wholesale.
	maxQueryLen = 200
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// SearchProvider is a web search backend.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// WebSearchTool answers questions the tenant's own knowledge base cannot, such
// as public holidays or directions.
type WebSearchTool struct {
	provider SearchProvider
}

// NewWebSearchTool creates a web search tool backed by provider.
func NewWebSearchTool(provider SearchProvider) *WebSearchTool {
	return &WebSearchTool{provider: provider}
}

// SelectSearchProvider picks Google Custom Search when credentials are
// configured and DuckDuckGo otherwise.
func SelectSearchProvider(cfg config.SearchConfig) SearchProvider {
	apiKey, cx := cfg.APIKey, cfg.CX
	if apiKey == "" {
		apiKey = config.EnvOrEmpty(config.EnvSearchAPIKey)
	}
	if cx == "" {
		cx = config.EnvOrEmpty(config.EnvSearchCX)
	}
	if strings.EqualFold(cfg.Provider, "duckduckgo") || apiKey == "" || cx == "" {
		return NewDuckDuckGoProvider()
	}
	return NewGoogleSearchProvider(apiKey, cx)
}

func (t *WebSearchTool) Name() string {
	return ToolWebSearch
}

func (t *WebSearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: ToolWebSearch,
		Description: `Search the public web. Use only when the clinic's own knowledge base has no answer,
for example public transport directions or national holiday dates. Never include the customer's
name, phone number or other personal details in the query.`,
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Short search query"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *WebSearchTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, _ := args["query"].(string)
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return nil, fmt.Errorf("query is required and must be a string")
	}
	if r := []rune(query); len(r) > maxQueryLen {
		query = string(r[:maxQueryLen])
	}

	results, err := t.provider.Search(ctx, query, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", t.provider.Name(), err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	response := map[string]any{
		"success":      true,
		"query":        query,
		"provider":     t.provider.Name(),
		"result_count": len(results),
		"results":      results,
	}
	if len(results) == 0 {
		response["note"] = "No results. Tell the customer you could not find this information rather than guessing."
	}
	return jsonResult(response)
}

// GoogleSearchProvider queries a Programmable Search Engine through the
// Custom Search JSON API.
type GoogleSearchProvider struct {
	cx      string
	opts    []option.ClientOption
	timeout time.Duration
}

// NewGoogleSearchProvider creates a provider for engine cx. Extra options
// are passed to the API client after the key.
func NewGoogleSearchProvider(apiKey, cx string, opts ...option.ClientOption) *GoogleSearchProvider {
	return &GoogleSearchProvider{
		cx:      cx,
		opts:    append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...),
		timeout: 30 * time.Second,
	}
}

func (p *GoogleSearchProvider) Name() string {
	return "google"
}

// Search returns up to maxResults hits; the API caps a page at 10.
func (p *GoogleSearchProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	svc, err := customsearch.NewService(ctx, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search client: %w", err)
	}
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 10
	}
	resp, err := svc.Cse.List().Cx(p.cx).Q(query).Num(int64(maxResults)).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		results = append(results, SearchResult{Title: item.Title, Description: item.Snippet, URL: item.Link})
	}
	return results, nil
}

// DuckDuckGoProvider uses the Instant Answer API. It only knows
// encyclopedic answers, so many queries return nothing.
type DuckDuckGoProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewDuckDuckGoProvider creates the keyless fallback provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		baseURL:    "https://api.duckduckgo.com/",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

type ddgAnswer struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// hits flattens the answer, most specific first.
func (a *ddgAnswer) hits(max int) []SearchResult {
	var out []SearchResult
	add := func(r SearchResult) {
		if len(out) < max && r.Description != "" {
			out = append(out, r)
		}
	}
	add(SearchResult{Title: a.Heading, Description: a.AbstractText, URL: a.AbstractURL})
	add(SearchResult{Title: "Instant Answer", Description: a.Answer})
	for _, t := range a.Results {
		add(SearchResult{Description: t.Text, URL: t.FirstURL})
	}
	for _, t := range a.RelatedTopics {
		add(SearchResult{Description: t.Text, URL: t.FirstURL})
	}
	return out
}

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "caremax/1.0 (support agent)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemporary, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("duckduckgo returned %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %w", ErrTemporary, err)
		}
		return nil, err
	}

	var answer ddgAnswer
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchBody)).Decode(&answer); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if maxResults <= 0 {
		maxResults = maxSearchResults
	}
	return answer.hits(maxResults), nil
}
