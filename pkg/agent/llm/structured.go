package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// ErrNoToolCall is returned when a forced structured call produced no tool call.
var ErrNoToolCall = errors.New("model returned no structured tool call")

// CallTool binds a single tool, forces the model to call it and decodes the
// arguments into T. Callers treat any error as a signal to use their
// deterministic fallback.
func CallTool[T any](ctx context.Context, client LLMClient, system, user string, def tools.ToolDefinition) (T, error) {
	var zero T
	if client == nil {
		return zero, errors.New("no model client configured")
	}
	req := CompletionRequest{
		Messages: []CompletionMessage{
			NewSystemMessage(system),
			NewUserMessage(user),
		},
		Tools:       []tools.ToolDefinition{def},
		ToolChoice:  ToolChoiceAny,
		MaxTokens:   StructuredMaxTokens,
		Temperature: TemperatureStructured,
	}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return zero, fmt.Errorf("%s call failed: %w", def.Name, err)
	}
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Name != def.Name {
			continue
		}
		if err := tools.ValidateArgs(def.InputSchema, resp.ToolCalls[i].Parameters); err != nil {
			return zero, fmt.Errorf("%s: %w", def.Name, err)
		}
		out, err := tools.DecodeArgs[T](resp.ToolCalls[i].Parameters)
		if err != nil {
			return zero, fmt.Errorf("%s: %w", def.Name, err)
		}
		return out, nil
	}
	return zero, fmt.Errorf("%s: %w", def.Name, ErrNoToolCall)
}
