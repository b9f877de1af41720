// Package timeout bounds each LLM request with its own deadline.
package timeout

import (
	"context"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
)

// Middleware gives each request a timeout context.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			next.GetModelName,
		)
	}
}
