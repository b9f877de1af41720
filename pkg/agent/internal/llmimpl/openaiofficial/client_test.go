package openaiofficial

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

func TestBuildInputMapsToolTurns(t *testing.T) {
	instructions, items := buildInput([]llm.CompletionMessage{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("any slots friday?"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "sheet_query", Parameters: map[string]any{"query": "friday"}}}},
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolCallID: "call_1", Content: `{"rows":[]}`}}},
	})
	assert.Equal(t, "be brief", instructions)
	require.Len(t, items, 3)

	raw, err := json.Marshal(items)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "function_call", decoded[1]["type"])
	assert.Equal(t, "call_1", decoded[1]["call_id"])
	assert.Equal(t, "function_call_output", decoded[2]["type"])
}

func TestCompleteParsesFunctionCall(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "resp_1", "object": "response", "status": "completed", "model": "gpt-4o",
			"output": [{"type": "function_call", "id": "fc_1", "call_id": "call_9", "name": "decompose_question",
				"arguments": "{\"is_complex\":true,\"sub_questions\":[\"a?\",\"b?\"]}", "status": "completed"}],
			"usage": {"input_tokens": 20, "output_tokens": 4, "total_tokens": 24}
		}`)
	}))
	defer srv.Close()

	client := NewOfficialClientWithModel("test-key", "gpt-4o", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("a and b")})
	req.Tools = []tools.ToolDefinition{{Name: "decompose_question", InputSchema: tools.InputSchema{Type: "object"}}}
	req.ToolChoice = llm.ToolChoiceAny

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, true, resp.ToolCalls[0].Parameters["is_complex"])
	assert.Equal(t, 20, resp.Usage.PromptTokens)
	assert.Equal(t, "required", got["tool_choice"])
}

func TestGetModelName(t *testing.T) {
	client := NewOfficialClientWithModel("test-key", "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", client.GetModelName())
}
