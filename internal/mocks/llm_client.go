package mocks

import (
	"context"
	"sync"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
)

type completeFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

// MockLLMClient is a scripted llm.LLMClient that records every request.
type MockLLMClient struct {
	mu sync.Mutex

	// CompleteCalls holds the requests seen so far, oldest first.
	CompleteCalls []llm.CompletionRequest

	handler completeFunc
}

// NewMockLLMClient returns a client that answers every request with
// "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{}
	m.RespondWith("Mock response")
	return m
}

func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	h := m.handler
	m.mu.Unlock()
	return h(ctx, req)
}

func (m *MockLLMClient) GetModelName() string {
	return "mock-model"
}

// OnComplete replaces the response handler.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

// FailCompleteWith makes every call fail with err.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	})
}

// RespondWith answers with plain text.
func (m *MockLLMClient) RespondWith(content string) {
	m.RespondWithSequence([]llm.CompletionResponse{{Content: content, StopReason: "end_turn"}})
}

// RespondWithToolCall answers with a single call of toolName.
func (m *MockLLMClient) RespondWithToolCall(toolName string, params map[string]any) {
	m.RespondWithSequence([]llm.CompletionResponse{{
		ToolCalls:  []llm.ToolCall{{ID: "mock-" + toolName, Name: toolName, Parameters: params}},
		StopReason: "tool_use",
	}})
}

// RespondWithSequence plays responses in order and then repeats the last.
func (m *MockLLMClient) RespondWithSequence(responses []llm.CompletionResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		return resp, nil
	})
}

// GetCompleteCallCount reports how many requests were made.
func (m *MockLLMClient) GetCompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastCompleteCall returns the latest request, or nil before the first.
func (m *MockLLMClient) LastCompleteCall() *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return nil
	}
	last := m.CompleteCalls[len(m.CompleteCalls)-1]
	return &last
}
