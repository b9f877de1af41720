package ratelimit

import (
	"context"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

// Middleware acquires prompt plus max-output tokens from the provider's limiter
// before each request.
func Middleware(limiterMap *ProviderLimiterMap, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()

				limiter, err := limiterMap.GetLimiter(model)
				if err != nil {
					recorder.IncThrottle(model, "no_limiter")
					return llm.CompletionResponse{}, err
				}

				totalTokens := estimator.EstimatePrompt(req) + req.MaxTokens

				start := time.Now()
				release, err := limiter.Acquire(ctx, totalTokens, logx.TenantFrom(ctx))
				if err != nil {
					recorder.IncThrottle(model, "rate_limit")
					return llm.CompletionResponse{}, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}
				defer release()
				if wait := time.Since(start); wait > pollInterval {
					recorder.ObserveQueueWait(model, wait)
				}

				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
