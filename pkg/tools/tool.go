// Package tools defines the closed set of side-effect tools the support agent may call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTemporary marks a tool failure that may succeed when retried, such as a
// backend timeout or a 5xx response.
var ErrTemporary = errors.New("temporary tool failure")

// Tool names. The set is closed: the registry rejects anything else.
const (
	ToolSheetQuery      = "sheet_query"
	ToolAppendBooking   = "append_booking"
	ToolSearchKnowledge = "search_knowledge"
	ToolWebSearch       = "web_search"
	ToolCreateNote      = "create_note"
	ToolSendWhatsApp    = "send_whatsapp"
)

// KnownTools lists every tool name the registry accepts.
var KnownTools = []string{
	ToolSheetQuery,
	ToolAppendBooking,
	ToolSearchKnowledge,
	ToolWebSearch,
	ToolCreateNote,
	ToolSendWhatsApp,
}

// Property describes one argument in a tool's input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is what the model sees when a tool is bound to a request.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ExecResult is the text or JSON payload returned to the model.
type ExecResult struct {
	Content string
}

// Tool is a named handler with a typed argument schema.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// Verifier is implemented by tools whose side effects can be confirmed with a
// secondary read after a successful Exec.
type Verifier interface {
	Verify(ctx context.Context, args map[string]any, result *ExecResult) (bool, error)
}

// jsonResult marshals v into an ExecResult.
func jsonResult(v any) (*ExecResult, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}

// errorResult is a structured failure payload the model can read.
func errorResult(errMsg string) (*ExecResult, error) {
	return jsonResult(map[string]any{
		"success": false,
		"error":   errMsg,
	})
}
