package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// StepResult reports the outcome of one executed step.
type StepResult struct {
	StepNumber int    `json:"step_number"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
}

// Progress is the state of a plan after applying step results.
type Progress struct {
	NextStep          int
	Guidance          string
	AllStepsCompleted bool
	// Plan is a new revision; the input plan is left unchanged.
	Plan *proto.ExecutionPlan
}

// TrackProgress applies completed step results to p. NextStep is one past
// the highest completed step, counting steps p already marks completed. The
// returned revision has a fresh identity so saving it supersedes p, and its
// steps are renumbered 1..n in plan order; results naming a step number the
// plan does not have are ignored. Step statuses only move forward.
func TrackProgress(p *proto.ExecutionPlan, completed []StepResult) Progress {
	if p == nil {
		return Progress{Guidance: "No plan is active."}
	}
	next := p.Clone()
	next.ID = ""
	next.CreatedAt = time.Time{}
	position := Renumber(next)

	highest := 0
	for i := range next.Steps {
		if next.Steps[i].Status == proto.StepCompleted {
			highest = max(highest, next.Steps[i].StepNumber)
		}
	}
	for _, r := range completed {
		pos, ok := position[r.StepNumber]
		if !r.Success || !ok {
			continue
		}
		step := &next.Steps[pos-1]
		step.Status = step.Status.Advance(proto.StepCompleted)
		highest = max(highest, pos)
	}

	completedCount := 0
	for i := range next.Steps {
		if next.Steps[i].Status == proto.StepCompleted {
			completedCount++
		}
	}

	prog := Progress{NextStep: highest + 1, Plan: next}
	if completedCount == len(next.Steps) {
		prog.AllStepsCompleted = true
		next.Status = proto.PlanCompleted
		next.CurrentStep = len(next.Steps)
		prog.Guidance = "All steps of the plan are complete. Summarize the results for the customer."
		return prog
	}

	if prog.NextStep > len(next.Steps) || next.Steps[prog.NextStep-1].Status == proto.StepCompleted {
		// Later steps finished before an earlier one; resume at the first gap.
		prog.NextStep = firstPending(next)
	}
	next.CurrentStep = prog.NextStep
	step := &next.Steps[prog.NextStep-1]
	step.Status = step.Status.Advance(proto.StepInProgress)

	switch {
	case step.NeedsUserInput:
		next.Status = proto.PlanNeedsInfo
	case step.Action == "confirm":
		next.Status = proto.PlanAwaitingConfirmation
	default:
		next.Status = proto.PlanExecuting
	}
	prog.Guidance = guidance(next, step)
	return prog
}

// Renumber numbers p's steps 1..n in plan order and returns the mapping from
// each previous step number to its new one. When a number was used twice the
// first step keeps it.
func Renumber(p *proto.ExecutionPlan) map[int]int {
	position := make(map[int]int, len(p.Steps))
	for i := range p.Steps {
		if _, dup := position[p.Steps[i].StepNumber]; !dup {
			position[p.Steps[i].StepNumber] = i + 1
		}
		p.Steps[i].StepNumber = i + 1
	}
	p.CurrentStep = position[p.CurrentStep]
	return position
}

// firstPending returns the number of the first step not yet completed.
// Steps must already be numbered 1..n.
func firstPending(p *proto.ExecutionPlan) int {
	for i := range p.Steps {
		if p.Steps[i].Status != proto.StepCompleted {
			return i + 1
		}
	}
	return len(p.Steps)
}

func guidance(p *proto.ExecutionPlan, step *proto.PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of %d: %s.", step.StepNumber, len(p.Steps), strings.TrimRight(step.Description, "."))
	if step.ToolToUse != "" {
		fmt.Fprintf(&b, " Use the %s tool.", step.ToolToUse)
	}
	if step.NeedsUserInput && step.UserPrompt != "" {
		fmt.Fprintf(&b, " Ask the customer: %s", step.UserPrompt)
	}
	return b.String()
}
