// Package toolloop runs the model/tool conversation of one agent turn: the
// model is called with the bound tools, every requested tool is executed in
// order and its result fed back, until the model answers in plain text.
package toolloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

// HandoffMarker is the token the model puts in its answer to bring in a
// human. It is removed from the text returned to the customer.
const HandoffMarker = "[[HANDOFF]]"

// DefaultMaxIterations applies when Config.MaxIterations is not set.
const DefaultMaxIterations = 6

const wrapUpPrompt = "You have used all tool calls available for this turn. Answer the customer now using what you already found. Do not call tools."

// ToolLoop manages LLM interactions with tool calling.
type ToolLoop struct {
	llmClient llm.LLMClient
	logger    *logx.Logger
}

// New creates a new ToolLoop instance.
func New(llmClient llm.LLMClient, logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{
		llmClient: llmClient,
		logger:    logger,
	}
}

// Config defines how the tool loop behaves.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	// Messages is the conversation so far, system prompt first. The loop
	// appends to a copy.
	Messages []llm.CompletionMessage

	// Executor runs tool calls. A nil Executor binds no tools.
	Executor *Executor

	// Scope is recorded on every execution log entry.
	Scope Scope

	// MaxIterations bounds model calls that request tools.
	MaxIterations int

	MaxTokens   int
	Temperature float32

	// DebugLogging logs every message sent to the model.
	DebugLogging bool
}

// Run executes the loop. Tool calls of one response run sequentially in the
// order the model listed them. Tool failures are fed back to the model as
// error results and never end the loop.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) Outcome {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	ctx = metrics.WithStage(ctx, "respond")

	messages := append([]llm.CompletionMessage(nil), cfg.Messages...)
	var out Outcome

	req := llm.CompletionRequest{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	if cfg.Executor != nil {
		req.Tools = cfg.Executor.Definitions()
		if len(req.Tools) > 0 {
			req.ToolChoice = llm.ToolChoiceAuto
		}
	}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		out.Iteration = iteration
		if err := ctx.Err(); err != nil {
			out.Kind, out.Err = OutcomeCanceled, fmt.Errorf("%w: %w", ErrGracefulShutdown, err)
			return out
		}
		req.Messages = messages
		if cfg.DebugLogging {
			tl.logMessages(messages)
		}

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		if err != nil {
			tl.logger.Error("LLM call failed after %.3gs: %v", time.Since(start).Seconds(), err)
			out.Kind, out.Err = OutcomeLLMError, fmt.Errorf("LLM completion failed: %w", err)
			return out
		}
		logx.Debug(ctx, "toolloop", "model %s answered in %.3gs: %d chars, %d tool calls (iteration %d)",
			tl.llmClient.GetModelName(), time.Since(start).Seconds(), len(resp.Content), len(resp.ToolCalls), iteration)

		if len(resp.ToolCalls) == 0 || cfg.Executor == nil {
			return tl.finish(out, resp.Content)
		}

		messages = append(messages, llm.CompletionMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		// Every tool call must be answered, so all of them run even when
		// an earlier one failed.
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			exec := cfg.Executor.Execute(ctx, cfg.Scope, call)
			out.Executions = append(out.Executions, exec)
			results = append(results, exec.Result)
		}
		messages = append(messages, llm.CompletionMessage{Role: llm.RoleUser, ToolResults: results})
	}

	tl.logger.Warn("maximum tool iterations (%d) reached, asking for a final answer", cfg.MaxIterations)
	req.Messages = append(messages, llm.NewUserMessage(wrapUpPrompt))
	req.Tools, req.ToolChoice = nil, ""
	resp, err := tl.llmClient.Complete(ctx, req)
	if err == nil && strings.TrimSpace(resp.Content) != "" {
		return tl.finish(out, resp.Content)
	}
	out.Kind = OutcomeMaxIterations
	out.Err = fmt.Errorf("%w (%d)", ErrIterationLimit, cfg.MaxIterations)
	if err != nil {
		out.Err = errors.Join(out.Err, err)
	}
	return out
}

func (tl *ToolLoop) finish(out Outcome, content string) Outcome {
	text, handoff := StripHandoff(content)
	if text == "" && !handoff {
		out.Kind, out.Err = OutcomeLLMError, ErrEmptyReply
		return out
	}
	out.Kind = OutcomeReplied
	out.Text = text
	out.RequestHandoff = handoff
	return out
}

// StripHandoff removes HandoffMarker from text and reports whether it was present.
func StripHandoff(text string) (string, bool) {
	if !strings.Contains(text, HandoffMarker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, HandoffMarker, "")), true
}

// logMessages logs detailed message information for debugging.
func (tl *ToolLoop) logMessages(messages []llm.CompletionMessage) {
	tl.logger.Debug("messages sent to LLM:")
	for i := range messages {
		msg := &messages[i]
		preview := truncate(msg.Content, 100)
		toolInfo := ""
		if len(msg.ToolCalls) > 0 {
			toolInfo = fmt.Sprintf(", ToolCalls: %d", len(msg.ToolCalls))
		}
		if len(msg.ToolResults) > 0 {
			toolInfo += fmt.Sprintf(", ToolResults: %d", len(msg.ToolResults))
		}
		tl.logger.Debug("  [%d] Role: %s, Content: %q%s", i, msg.Role, preview, toolInfo)
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			tl.logger.Debug("    ToolCall[%d] ID=%s Name=%s Params=%v", j, tc.ID, tc.Name, tc.Parameters)
		}
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			tl.logger.Debug("    ToolResult[%d] ID=%s IsError=%v Content=%q", j, tr.ToolCallID, tr.IsError, truncate(tr.Content, 200))
		}
	}
}
