// Package ollama serves tenants that run their model on a self-hosted
// Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/llmerrors"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// DefaultHost is used when no host is configured.
const DefaultHost = "http://localhost:11434"

type Client struct {
	api   *api.Client
	model string
}

// NewOllamaClientWithModel talks to hostURL, falling back to DefaultHost
// when it is empty or unparsable.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	base, err := url.Parse(hostURL)
	if hostURL == "" || err != nil {
		base, _ = url.Parse(DefaultHost)
	}
	return &Client{api: api.NewClient(base, http.DefaultClient), model: model}
}

func (o *Client) GetModelName() string {
	return o.model
}

// Complete sends one non-streaming chat request. Ollama has no forced tool
// choice, so ToolChoiceAny only works as far as the prompt steers it.
//
//nolint:gocritic // request passed by value per llm.LLMClient
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	msgs, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, err.Error())
	}
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Tools:    convertToolsToOllama(in.Tools),
		Options:  map[string]any{"temperature": in.Temperature, "num_predict": in.MaxTokens},
	}

	var last api.ChatResponse
	if err := o.api.Chat(ctx, req, func(r api.ChatResponse) error { last = r; return nil }); err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if last.Message.Content == "" && len(last.Message.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "ollama returned neither text nor tool calls")
	}

	resp := llm.CompletionResponse{
		Content:    last.Message.Content,
		StopReason: getStopReason(&last),
		Usage:      llm.Usage{PromptTokens: last.PromptEvalCount, CompletionTokens: last.EvalCount},
	}
	if len(last.Message.ToolCalls) > 0 {
		resp.ToolCalls = convertToolCallsFromOllama(last.Message.ToolCalls)
	}
	return resp, nil
}

// convertMessagesToOllama emits each tool result as its own "tool" message,
// followed by any text that accompanied the results.
func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages to send")
	}
	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		m := &messages[i]
		for _, r := range m.ToolResults {
			out = append(out, api.Message{Role: "tool", Content: r.Content, ToolCallID: r.ToolCallID})
		}
		if len(m.ToolResults) > 0 && m.Content == "" {
			continue
		}
		msg := api.Message{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			args := api.NewToolCallFunctionArguments()
			for k, v := range tc.Parameters {
				args.Set(k, v)
			}
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:       tc.ID,
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

// convertToolsToOllama round-trips each schema through JSON so the SDK
// builds its ordered property map itself.
func convertToolsToOllama(defs []tools.ToolDefinition) api.Tools {
	if len(defs) == 0 {
		return nil
	}
	out := make(api.Tools, len(defs))
	for i := range defs {
		var params api.ToolFunctionParameters
		if raw, err := json.Marshal(defs[i].InputSchema.ToMap()); err == nil {
			_ = json.Unmarshal(raw, &params)
		}
		out[i] = api.Tool{
			Type:     "function",
			Function: api.ToolFunction{Name: defs[i].Name, Description: defs[i].Description, Parameters: params},
		}
	}
	return out
}

// convertToolCallsFromOllama numbers calls the server left without an id.
func convertToolCallsFromOllama(calls []api.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for i := range calls {
		c := &calls[i]
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		params := map[string]any{}
		if raw, err := json.Marshal(c.Function.Arguments); err == nil {
			_ = json.Unmarshal(raw, &params)
		}
		out = append(out, llm.ToolCall{ID: id, Name: c.Function.Name, Parameters: params})
	}
	return out
}

func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "", "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	}
	return resp.DoneReason
}

// classifyError leaves cancellation untouched so retries stop at once.
func classifyError(err error) error {
	var status api.StatusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &status):
		return llmerrors.NewErrorWithCause(llmerrors.TypeForStatus(status.StatusCode), err, "ollama API error")
	}
	msg := err.Error()
	if strings.Contains(msg, "model") && strings.Contains(msg, "not found") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "ollama model not pulled")
	}
	return llmerrors.Classify(err, "ollama") //nolint:wrapcheck // classified error carries the cause
}
