// Package metrics provides metrics recording for LLM client operations and
// the conversation pipeline around them.
package metrics

import (
	"context"
	"time"
)

// Recorder defines the interface for recording orchestration metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, tenantID, stage string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)

	// ObserveToolCall records one tool attempt.
	ObserveToolCall(tenantID, tool string, success bool, duration time.Duration)

	// IncTurn counts one inbound turn by outcome (replied, fallback, handoff_ack, suppressed, throttled, billing_inactive).
	IncTurn(tenantID, pipeline, outcome string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {
}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// ObserveToolCall does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveToolCall(_, _ string, _ bool, _ time.Duration) {}

// IncTurn does nothing in the no-op recorder.
func (n *NoopRecorder) IncTurn(_, _, _ string) {}

type stageKey struct{}

// WithStage tags ctx with the pipeline stage issuing LLM calls (intent, decompose, plan, respond, ...).
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage set by WithStage, or "unknown".
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}
