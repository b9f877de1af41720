// Package metrics queries Prometheus for per-tenant usage of the agent.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TenantUsage aggregates model and tool usage of one tenant.
type TenantUsage struct {
	TenantID         string           `json:"tenant_id"`
	Window           string           `json:"window,omitempty"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	TotalTokens      int64            `json:"total_tokens"`
	TotalCost        float64          `json:"total_cost_usd"`
	Turns            map[string]int64 `json:"turns"`
	ToolCalls        map[string]int64 `json:"tool_calls"`
	ToolFailures     map[string]int64 `json:"tool_failures"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI  v1.API
	namespace string
	now       func() time.Time
}

// NewQueryService creates a query service for the series recorded under namespace.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return NewQueryServiceWithAPI(v1.NewAPI(client), namespace), nil
}

// NewQueryServiceWithAPI wraps an existing Prometheus API.
func NewQueryServiceWithAPI(queryAPI v1.API, namespace string) *QueryService {
	return &QueryService{queryAPI: queryAPI, namespace: namespace, now: time.Now}
}

func (q *QueryService) metric(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// counter renders a counter selector, as an increase over window when set.
func (q *QueryService) counter(name, selector string, window time.Duration) string {
	series := fmt.Sprintf("%s{%s}", q.metric(name), selector)
	if window <= 0 {
		return series
	}
	return fmt.Sprintf("increase(%s[%s])", series, model.Duration(window))
}

// GetTenantUsage retrieves token, cost, turn and tool totals for a tenant.
// A positive window limits the totals to that trailing period.
func (q *QueryService) GetTenantUsage(ctx context.Context, tenantID string, window time.Duration) (*TenantUsage, error) {
	usage := &TenantUsage{TenantID: tenantID}
	if window > 0 {
		usage.Window = model.Duration(window).String()
	}
	tenant := fmt.Sprintf("tenant=%q", tenantID)

	prompt, err := q.scalar(ctx, "sum("+q.counter("llm_tokens_total", tenant+`, type="prompt"`, window)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	completion, err := q.scalar(ctx, "sum("+q.counter("llm_tokens_total", tenant+`, type="completion"`, window)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	usage.PromptTokens = int64(prompt)
	usage.CompletionTokens = int64(completion)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	if usage.TotalCost, err = q.scalar(ctx, "sum("+q.counter("llm_costs_total", tenant, window)+")"); err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}

	if usage.Turns, err = q.byLabel(ctx, "outcome", "sum by (outcome) ("+q.counter("conversation_turns_total", tenant, window)+")"); err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	if usage.ToolCalls, err = q.byLabel(ctx, "tool", "sum by (tool) ("+q.counter("tool_calls_total", tenant, window)+")"); err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	if usage.ToolFailures, err = q.byLabel(ctx, "tool", "sum by (tool) ("+q.counter("tool_calls_total", tenant+`, status="error"`, window)+")"); err != nil {
		return nil, fmt.Errorf("failed to query tool failures: %w", err)
	}
	return usage, nil
}

// GetTenantUsageByModel breaks token and cost totals down by model.
func (q *QueryService) GetTenantUsageByModel(ctx context.Context, tenantID string, window time.Duration) (map[string]*TenantUsage, error) {
	tenant := fmt.Sprintf("tenant=%q", tenantID)
	models, err := q.byLabel(ctx, "model", "sum by (model) ("+q.counter("llm_tokens_total", tenant, window)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string]*TenantUsage, len(names))
	for _, name := range names {
		sel := fmt.Sprintf("%s, model=%q", tenant, name)
		u := &TenantUsage{TenantID: tenantID}
		prompt, err := q.scalar(ctx, "sum("+q.counter("llm_tokens_total", sel+`, type="prompt"`, window)+")")
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", name, err)
		}
		completion, err := q.scalar(ctx, "sum("+q.counter("llm_tokens_total", sel+`, type="completion"`, window)+")")
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", name, err)
		}
		u.PromptTokens = int64(prompt)
		u.CompletionTokens = int64(completion)
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		if u.TotalCost, err = q.scalar(ctx, "sum("+q.counter("llm_costs_total", sel, window)+")"); err != nil {
			return nil, fmt.Errorf("failed to query cost for model %s: %w", name, err)
		}
		result[name] = u
	}
	return result, nil
}

// scalar returns the first sample of an instant vector query, or 0.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	value, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return 0, err
	}
	if vector, ok := value.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// byLabel maps each sample's label value to its rounded value.
func (q *QueryService) byLabel(ctx context.Context, label, query string) (map[string]int64, error) {
	value, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	vector, ok := value.(model.Vector)
	if !ok {
		return out, nil
	}
	for _, sample := range vector {
		name, ok := sample.Metric[model.LabelName(label)]
		if !ok {
			continue
		}
		out[string(name)] = int64(float64(sample.Value) + 0.5)
	}
	return out, nil
}
