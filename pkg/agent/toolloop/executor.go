package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// DefaultMaxAttempts bounds retries of a temporarily failing tool.
const DefaultMaxAttempts = 2

// DefaultVerifyDelay is the pause before an unconfirmed side effect is checked again.
const DefaultVerifyDelay = 250 * time.Millisecond

// maxLoggedResult bounds the result text kept in an execution log entry.
const maxLoggedResult = 2000

// unverifiedSuffix is appended to results whose side effect could not be confirmed.
const unverifiedSuffix = "\n[unverified: the change could not be confirmed. Do not tell the customer it succeeded.]"

// ToolProvider resolves tool names for one run.
type ToolProvider interface {
	Get(name string) (tools.Tool, bool)
	Definitions() []tools.ToolDefinition
}

// LogStore appends execution log entries.
type LogStore interface {
	AppendExecutionLog(ctx context.Context, l *proto.ExecutionLog) error
}

// Scope identifies whose conversation tools run for.
type Scope struct {
	TenantID       string
	ConversationID string
}

// Executor runs single tool calls: it validates arguments, invokes the
// handler, verifies side effects where the tool supports it, and records
// every attempt as an execution log entry. It never returns an error;
// failures become error tool results.
type Executor struct {
	provider    ToolProvider
	logs        LogStore
	recorder    metrics.Recorder
	maxAttempts int
	verifyDelay time.Duration
	logger      *logx.Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithMaxAttempts sets how often a temporarily failing tool is tried.
func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithVerifyDelay sets the pause between verification checks.
func WithVerifyDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.verifyDelay = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewExecutor creates an executor. logs may be nil, in which case attempts
// are only returned to the caller.
func NewExecutor(provider ToolProvider, logs LogStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider:    provider,
		logs:        logs,
		recorder:    metrics.Nop(),
		maxAttempts: DefaultMaxAttempts,
		verifyDelay: DefaultVerifyDelay,
		logger:      logx.NewLogger("tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definitions returns the definitions of the available tools.
func (e *Executor) Definitions() []tools.ToolDefinition {
	return e.provider.Definitions()
}

// Execute runs call. Temporary failures are retried up to the configured
// number of attempts. A side effect that ran but could not be confirmed is
// never run again; only its verification is repeated. Every attempt and
// every repeated check is logged with its attempt number.
func (e *Executor) Execute(ctx context.Context, scope Scope, call llm.ToolCall) Execution {
	exec := Execution{Call: call}
	args := encodeArgs(call.Parameters)

	tool, ok := e.provider.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("tool %q is not available", call.Name)
		e.record(ctx, scope, &exec, args, 1, nil, errors.New(msg), nil, 0)
		exec.Result = errorToolResult(call.ID, msg)
		return exec
	}
	if err := tools.ValidateArgs(tool.Definition().InputSchema, call.Parameters); err != nil {
		e.record(ctx, scope, &exec, args, 1, nil, err, nil, 0)
		exec.Result = errorToolResult(call.ID, err.Error())
		return exec
	}

	verifier, _ := tool.(tools.Verifier)
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			exec.Result = errorToolResult(call.ID, ctx.Err().Error())
			return exec
		}
		start := time.Now()
		res, err := tool.Exec(ctx, call.Parameters)
		if err == nil && res == nil {
			err = errors.New("tool returned no result")
		}
		if err == nil {
			err = reportedFailure(res.Content)
		}

		var verified *bool
		if err == nil && verifier != nil {
			ok, verr := verifier.Verify(ctx, call.Parameters, res)
			if verr != nil {
				e.logger.Warn("verification of %s failed: %v", call.Name, verr)
			}
			ok = ok && verr == nil
			verified = &ok
		}
		e.record(ctx, scope, &exec, args, attempt, res, err, verified, time.Since(start))

		switch {
		case err == nil && (verified == nil || *verified):
			exec.Success = true
			exec.Verified = verified
			exec.Result = llm.ToolResult{ToolCallID: call.ID, Content: res.Content}
			return exec
		case err == nil:
			// Ran but the effect is not visible yet.
			return e.reverify(ctx, scope, &exec, args, attempt, verifier, res)
		case errors.Is(err, tools.ErrTemporary) && attempt < e.maxAttempts:
			e.logger.Warn("%s failed temporarily, retrying (attempt %d): %v", call.Name, attempt, err)
			continue
		default:
			exec.Result = errorToolResult(call.ID, err.Error())
			return exec
		}
	}
	return exec
}

// reverify repeats the verification of a side effect that already ran.
func (e *Executor) reverify(ctx context.Context, scope Scope, exec *Execution, args string, attempt int,
	verifier tools.Verifier, res *tools.ExecResult,
) Execution {
	call := exec.Call
	for attempt < e.maxAttempts && wait(ctx, e.verifyDelay) {
		attempt++
		e.logger.Warn("%s not verified, checking again (attempt %d)", call.Name, attempt)
		start := time.Now()
		ok, verr := verifier.Verify(ctx, call.Parameters, res)
		if verr != nil {
			e.logger.Warn("verification of %s failed: %v", call.Name, verr)
		}
		ok = ok && verr == nil
		e.record(ctx, scope, exec, args, attempt, res, nil, &ok, time.Since(start))
		if ok {
			exec.Success = true
			exec.Verified = &ok
			exec.Result = llm.ToolResult{ToolCallID: call.ID, Content: res.Content}
			return *exec
		}
	}
	unverified := false
	exec.Verified = &unverified
	exec.Result = llm.ToolResult{ToolCallID: call.ID, Content: res.Content + unverifiedSuffix}
	return *exec
}

// wait pauses for d and reports whether ctx is still live.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Executor) record(ctx context.Context, scope Scope, exec *Execution, args string, attempt int,
	res *tools.ExecResult, err error, verified *bool, elapsed time.Duration,
) {
	entry := proto.ExecutionLog{
		TenantID:       scope.TenantID,
		ConversationID: scope.ConversationID,
		ToolName:       exec.Call.Name,
		Arguments:      args,
		Success:        err == nil,
		Verified:       verified,
		Attempt:        attempt,
	}
	if err != nil {
		entry.Error = err.Error()
	} else if res != nil {
		entry.Result = truncate(res.Content, maxLoggedResult)
	}
	if e.logs != nil && scope.ConversationID != "" {
		if lerr := e.logs.AppendExecutionLog(ctx, &entry); lerr != nil {
			e.logger.Warn("failed to log %s attempt %d: %v", exec.Call.Name, attempt, lerr)
		}
	}
	exec.Attempts = append(exec.Attempts, entry)
	e.recorder.ObserveToolCall(scope.TenantID, exec.Call.Name, entry.Success, elapsed)

	if err != nil {
		e.logger.Warn("tool %s attempt %d failed after %.3fs: %v", exec.Call.Name, attempt, elapsed.Seconds(), err)
	} else {
		logx.Debug(ctx, "tools", "tool %s attempt %d ok in %.3fs", exec.Call.Name, attempt, elapsed.Seconds())
	}
}

// reportedFailure returns the error of a structured {"success": false} payload.
func reportedFailure(content string) error {
	var payload struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if json.Unmarshal([]byte(content), &payload) != nil || payload.Success == nil || *payload.Success {
		return nil
	}
	if payload.Error == "" {
		return errors.New("tool reported failure")
	}
	return errors.New(payload.Error)
}

func errorToolResult(callID, msg string) llm.ToolResult {
	return llm.ToolResult{ToolCallID: callID, Content: "Tool failed: " + msg, IsError: true}
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
