package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/llmerrors"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/resilience/circuit"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

type stubClient struct {
	resp llm.CompletionResponse
	err  error
}

func (s stubClient) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	return s.resp, s.err
}

func (s stubClient) GetModelName() string { return "claude-sonnet-4-5" }

type captured struct {
	NoopRecorder
	model, tenant, stage, errorType string
	prompt, completion              int
	success                         bool
}

func (c *captured) ObserveRequest(model, tenantID, stage string, p, comp int, _ float64, success bool, errorType string, _ time.Duration) {
	c.model, c.tenant, c.stage = model, tenantID, stage
	c.prompt, c.completion = p, comp
	c.success, c.errorType = success, errorType
}

func TestMiddlewareUsesProviderUsageAndContextLabels(t *testing.T) {
	rec := &captured{}
	client := llm.Chain(stubClient{resp: llm.CompletionResponse{
		Content: "hi",
		Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 3},
	}}, Middleware(rec, nil, nil))

	ctx := WithStage(logx.WithTenant(context.Background(), "t1"), "intent")
	_, err := client.Complete(ctx, llm.NewCompletionRequest(nil))
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", rec.model)
	assert.Equal(t, "t1", rec.tenant)
	assert.Equal(t, "intent", rec.stage)
	assert.Equal(t, 12, rec.prompt)
	assert.Equal(t, 3, rec.completion)
	assert.True(t, rec.success)
}

func TestMiddlewareEstimatesWhenUsageMissing(t *testing.T) {
	rec := &captured{}
	client := llm.Chain(stubClient{resp: llm.CompletionResponse{Content: "a short answer"}}, Middleware(rec, nil, nil))

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserMessage("what are your opening hours on saturday"),
	}))
	require.NoError(t, err)
	assert.Positive(t, rec.prompt)
	assert.Positive(t, rec.completion)
	assert.Equal(t, "unknown", rec.stage)
}

func TestErrorTypeLabels(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&circuit.Error{State: circuit.Open}, "circuit_breaker"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down"), "rate_limit"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorTypeOf(tt.err))
	}
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg, "test")

	rec.ObserveRequest("m", "t1", "respond", 10, 5, 0.01, true, "", time.Millisecond)
	rec.ObserveRequest("m", "t1", "respond", 0, 0, 0, false, "transient", time.Millisecond)
	rec.ObserveToolCall("t1", "sheet_query", true, time.Millisecond)
	rec.IncTurn("t1", "v2", "replied")

	assert.InDelta(t, 1, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("m", "t1", "respond", "success", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("m", "t1", "respond", "error", "transient")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(rec.tokensTotal.WithLabelValues("m", "t1", "respond", "prompt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.toolCallsTotal.WithLabelValues("t1", "sheet_query", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.turnsTotal.WithLabelValues("t1", "v2", "replied")), 0)
}
