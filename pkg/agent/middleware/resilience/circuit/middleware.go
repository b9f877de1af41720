package circuit

import (
	"context"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/llmerrors"
)

// Middleware rejects requests while the breaker is open. Bad-prompt errors
// are request-specific and do not count against provider health.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, &Error{State: breaker.GetState()}
				}
				resp, err := next.Complete(ctx, req)
				breaker.Record(err == nil || llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
				return resp, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
			next.GetModelName,
		)
	}
}
