// Package google serves Gemini models through the GenAI SDK.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/llmerrors"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// GeminiClient builds its SDK client lazily since construction needs a context.
type GeminiClient struct {
	apiKey string
	model  string

	once   sync.Once
	sdk    *genai.Client
	sdkErr error
}

func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) GetModelName() string {
	return g.model
}

func (g *GeminiClient) client(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.sdk, g.sdkErr = genai.NewClient(ctx, &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI})
		if g.sdkErr != nil {
			g.sdkErr = llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, g.sdkErr, "gemini client setup failed")
		}
	})
	return g.sdk, g.sdkErr
}

//nolint:gocritic // request passed by value per llm.LLMClient
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, system, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, err.Error())
	}
	sdk, err := g.client(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	res, err := sdk.Models.GenerateContent(ctx, g.model, contents, generationConfig(&in, system))
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, config.ProviderGoogle) //nolint:wrapcheck // classified error carries the cause
	}
	if res == nil || len(res.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "gemini returned no candidates")
	}

	out := llm.CompletionResponse{
		Content:    res.Text(),
		StopReason: string(res.Candidates[0].FinishReason),
		ToolCalls:  convertFunctionCallsFromGemini(res.FunctionCalls()),
	}
	if u := res.UsageMetadata; u != nil {
		out.Usage = llm.Usage{PromptTokens: int(u.PromptTokenCount), CompletionTokens: int(u.CandidatesTokenCount)}
	}
	return out, nil
}

func generationConfig(in *llm.CompletionRequest, system string) *genai.GenerateContentConfig {
	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // bounded by config
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(in.Tools) == 0 {
		return cfg
	}
	mode := genai.FunctionCallingConfigModeAuto
	if in.ToolChoice == llm.ToolChoiceAny {
		mode = genai.FunctionCallingConfigModeAny
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: convertToolsToGemini(in.Tools)}}
	cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	return cfg
}

// convertMessagesToGemini folds system messages into one instruction.
// Function responses are keyed by name, which is recovered from the
// assistant call that produced each result.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("no messages to send")
	}
	var (
		system   []string
		contents []*genai.Content
		names    = map[string]string{}
	)
	for i := range messages {
		m := &messages[i]
		var role genai.Role
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
			continue
		case llm.RoleUser:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, "", fmt.Errorf("gemini has no role %q", m.Role)
		}

		var parts []*genai.Part
		for _, r := range m.ToolResults {
			name := names[r.ToolCallID]
			if name == "" {
				name = r.ToolCallID
			}
			parts = append(parts, genai.NewPartFromFunctionResponse(name, map[string]any{"content": r.Content, "is_error": r.IsError}))
		}
		if m.Content != "" {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Name
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters}})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: string(role), Parts: parts})
		}
	}
	if len(contents) == 0 {
		return nil, "", errors.New("only system messages given")
	}
	return contents, strings.Join(system, "\n\n"), nil
}

func convertToolsToGemini(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for i := range defs {
		props := make(map[string]*genai.Schema, len(defs[i].InputSchema.Properties))
		for name, p := range defs[i].InputSchema.Properties {
			props[name] = schemaFor(&p)
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        defs[i].Name,
			Description: defs[i].Description,
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: props, Required: defs[i].InputSchema.Required},
		})
	}
	return out
}

var schemaTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// schemaFor treats unknown types as strings.
func schemaFor(p *tools.Property) *genai.Schema {
	t, ok := schemaTypes[p.Type]
	if !ok {
		t = genai.TypeString
	}
	s := &genai.Schema{Type: t, Description: p.Description}
	if len(p.Enum) > 0 {
		s.Enum = p.Enum
	}
	switch {
	case t == genai.TypeArray && p.Items != nil:
		s.Items = schemaFor(p.Items)
	case t == genai.TypeObject && p.Properties != nil:
		s.Properties = make(map[string]*genai.Schema, len(p.Properties))
		for name, child := range p.Properties {
			if child != nil {
				s.Properties[name] = schemaFor(child)
			}
		}
		s.Required = p.Required
	}
	return s
}

// convertFunctionCallsFromGemini uses the function name when Gemini omits the id.
func convertFunctionCallsFromGemini(calls []*genai.FunctionCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = c.Name
		}
		out = append(out, llm.ToolCall{ID: id, Name: c.Name, Parameters: c.Args})
	}
	return out
}
