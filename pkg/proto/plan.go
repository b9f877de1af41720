package proto

import "time"

// PlanStatus is the lifecycle state of an execution plan revision.
type PlanStatus string

const (
	PlanReady                PlanStatus = "ready"
	PlanExecuting            PlanStatus = "executing"
	PlanNeedsInfo            PlanStatus = "needs_info"
	PlanAwaitingConfirmation PlanStatus = "awaiting_confirmation"
	PlanCompleted            PlanStatus = "completed"
	PlanSuperseded           PlanStatus = "superseded"
)

// Active reports whether the plan is non-terminal and should steer the agent.
func (s PlanStatus) Active() bool {
	switch s {
	case PlanReady, PlanExecuting, PlanNeedsInfo, PlanAwaitingConfirmation:
		return true
	}
	return false
}

// StepStatus only ever moves forward: pending -> in_progress -> completed.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

func (s StepStatus) rank() int {
	switch s {
	case StepInProgress:
		return 1
	case StepCompleted:
		return 2
	}
	return 0
}

// Advance returns the later of s and next.
func (s StepStatus) Advance(next StepStatus) StepStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

type PlanStep struct {
	StepNumber     int        `json:"step_number"`
	Action         string     `json:"action"`
	Description    string     `json:"description"`
	ToolToUse      string     `json:"tool_to_use,omitempty"`
	Status         StepStatus `json:"status"`
	NeedsUserInput bool       `json:"needs_user_input,omitempty"`
	UserPrompt     string     `json:"user_prompt,omitempty"`
}

// ExecutionPlan is a roadmap owned by one conversation. Progress produces a new
// revision; the previous one is marked superseded.
type ExecutionPlan struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ConversationID string     `json:"conversation_id"`
	Request        string     `json:"request"`
	Steps          []PlanStep `json:"steps"`
	CurrentStep    int        `json:"current_step"`
	MissingInfo    []string   `json:"missing_info,omitempty"`
	Status         PlanStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Clone returns a deep copy suitable for producing a new revision.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = append([]PlanStep(nil), p.Steps...)
	c.MissingInfo = append([]string(nil), p.MissingInfo...)
	return &c
}

// ExecutionLog is one tool invocation attempt. Append-only.
type ExecutionLog struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	ToolName       string    `json:"tool_name"`
	Arguments      string    `json:"arguments"`
	Success        bool      `json:"success"`
	Result         string    `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	Verified       *bool     `json:"verified,omitempty"`
	Attempt        int       `json:"attempt"`
	CreatedAt      time.Time `json:"created_at"`
}
