package toolloop

import (
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// OutcomeKind categorizes how a tool loop ended.
type OutcomeKind int

const (
	// OutcomeReplied means the model produced a final answer.
	OutcomeReplied OutcomeKind = iota

	// OutcomeMaxIterations means MaxIterations passed with the model still
	// calling tools and the wrap-up call produced nothing usable.
	OutcomeMaxIterations

	// OutcomeLLMError means a completion call failed. Err holds the cause.
	OutcomeLLMError

	// OutcomeCanceled means ctx was done before the loop finished.
	OutcomeCanceled
)

// String returns human-readable name for OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReplied:
		return "Replied"
	case OutcomeMaxIterations:
		return "MaxIterations"
	case OutcomeLLMError:
		return "LLMError"
	case OutcomeCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// Execution is the result of executing one tool call, with every attempt
// that was logged for it.
type Execution struct {
	Call    llm.ToolCall
	Result  llm.ToolResult
	Success bool
	// Verified is nil when the tool has no verifier.
	Verified *bool
	Attempts []proto.ExecutionLog
}

// Outcome is the result of a tool loop run.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Outcome struct {
	Kind OutcomeKind

	// Text is the final answer with any handoff marker removed. Empty for
	// every kind except OutcomeReplied.
	Text string

	// RequestHandoff is set when the model asked to bring in a human.
	RequestHandoff bool

	// Executions lists tool calls in the order they ran.
	Executions []Execution

	// Err is non-nil for all kinds except OutcomeReplied.
	Err error

	// Iteration is the 1-indexed iteration the loop ended in.
	Iteration int
}

// Succeeded returns the names of tools that completed successfully.
func (o *Outcome) Succeeded() []string {
	var names []string
	for i := range o.Executions {
		if o.Executions[i].Success {
			names = append(names, o.Executions[i].Call.Name)
		}
	}
	return names
}
