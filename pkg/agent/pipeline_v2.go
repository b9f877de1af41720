package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/toolloop"
	"github.com/vortexion256/caremax-sub002/pkg/decompose"
	"github.com/vortexion256/caremax-sub002/pkg/dispatch"
	"github.com/vortexion256/caremax-sub002/pkg/intent"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/plan"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// bookingFields must be known before append_booking may run.
var bookingFields = []string{"name", "phone", "date", "time"}

// runV2 is the structured pipeline: intent and decomposition first, then a
// plan for requests that need tools, then the tool loop steered by the
// plan's next step. Plan progress is saved after the reply.
func (r *Runner) runV2(ctx context.Context, req *dispatch.Request) (dispatch.Reply, error) {
	t, err := r.prepare(ctx, req)
	if err != nil {
		return dispatch.Reply{}, err
	}
	recent := t.context.ConversationMemory.RecentMessages

	it := intent.NewExtractor(t.client, r.cfg.Agent).Extract(ctx, t.userText, recent)
	logx.Debug(ctx, "agent", "intent %s (%.2f, %s) tools=%v", it.Intent, it.Confidence, it.Source, it.SuggestedTools)
	if it.Intent == intent.RequestHuman {
		return dispatch.Reply{Text: HandoffAck, RequestHandoff: true}, nil
	}

	dec := decompose.NewDecomposer(t.client, r.cfg.Agent).Decompose(ctx, t.userText, recent)

	p := t.context.Plan
	if needsNewPlan(p, it, dec) {
		p = plan.NewSupervisor(t.client).AnalyzeAndPlan(ctx, t.userText, t.registry.Names(), recent)
		r.savePlan(ctx, req, p)
		t.context.Plan = p
	}

	var missing plan.MissingInfo
	if it.Intent == intent.BookAppointment || (p != nil && planUses(p, tools.ToolAppendBooking)) {
		missing = plan.CheckMissingInfo(requiredFields(p), recent)
	}

	out, err := r.respond(ctx, t, guidanceV2(it, dec, p, missing))
	if err != nil {
		return dispatch.Reply{}, err
	}
	if p != nil {
		r.advancePlan(ctx, req, p, &out)
	}
	return dispatch.Reply{Text: out.Text, RequestHandoff: out.RequestHandoff}, nil
}

// needsNewPlan reports whether the turn starts new multi-step work. An
// active plan is kept while the customer continues it.
func needsNewPlan(active *proto.ExecutionPlan, it intent.Result, dec decompose.Result) bool {
	if !it.RequiresTools && !dec.IsComplex {
		return false
	}
	if active == nil {
		return true
	}
	if it.Intent == intent.ConfirmAction {
		return false
	}
	for _, name := range it.SuggestedTools {
		if planUses(active, name) {
			return false
		}
	}
	return true
}

func planUses(p *proto.ExecutionPlan, tool string) bool {
	for i := range p.Steps {
		if p.Steps[i].ToolToUse == tool && p.Steps[i].Status != proto.StepCompleted {
			return true
		}
	}
	return false
}

// requiredFields merges the booking fields with what the plan reports missing.
func requiredFields(p *proto.ExecutionPlan) []string {
	fields := append([]string(nil), bookingFields...)
	if p != nil {
		fields = append(fields, p.MissingInfo...)
	}
	return fields
}

func guidanceV2(it intent.Result, dec decompose.Result, p *proto.ExecutionPlan, missing plan.MissingInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The customer's intent looks like %s.\n", strings.ReplaceAll(string(it.Intent), "_", " "))
	if e := entitySummary(it.Entities); e != "" {
		fmt.Fprintf(&sb, "Details they gave: %s.\n", e)
	}
	if dec.IsComplex {
		sb.WriteString("They asked several things. Answer each one:\n")
		for i, q := range dec.SubQuestions {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, q)
		}
	}
	if p != nil {
		if g := plan.TrackProgress(p, nil).Guidance; g != "" {
			sb.WriteString(g)
			sb.WriteString("\n")
		}
	}
	if len(missing.MissingFields) > 0 {
		fmt.Fprintf(&sb, "Do not call %s yet. Ask for everything missing in one message, for example: %q\n",
			tools.ToolAppendBooking, missing.Prompt)
	}
	return sb.String()
}

func entitySummary(e intent.Entities) string {
	var parts []string
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, label+" "+v)
		}
	}
	add("name", e.Name)
	add("phone", e.Phone)
	add("email", e.Email)
	add("date", e.Date)
	add("time", e.Time)
	add("service", e.Service)
	return strings.Join(parts, ", ")
}

func (r *Runner) savePlan(ctx context.Context, req *dispatch.Request, p *proto.ExecutionPlan) {
	if r.deps.Plans == nil || req.ConversationID == "" {
		return
	}
	if err := r.deps.Plans.Save(ctx, req.TenantID, req.ConversationID, p); err != nil {
		r.logger.Warn("failed to save plan for %s: %v", req.ConversationID, err)
	}
}

// advancePlan marks the steps this turn completed and stores the next revision.
func (r *Runner) advancePlan(ctx context.Context, req *dispatch.Request, p *proto.ExecutionPlan, out *toolloop.Outcome) {
	results := StepResults(p, out.Succeeded(), out.Kind == toolloop.OutcomeReplied)
	if len(results) == 0 {
		return
	}
	prog := plan.TrackProgress(p, results)
	logx.Debug(ctx, "agent", "plan progress: next step %d, done=%t", prog.NextStep, prog.AllStepsCompleted)
	r.savePlan(ctx, req, prog.Plan)
}

// StepResults maps the tools that succeeded in a turn onto plan steps. Steps
// are credited in order: a tool step completes when its tool succeeded, and
// a step without a tool completes when the agent replied and every earlier
// step is done. The walk stops at the first step that is still open.
func StepResults(p *proto.ExecutionPlan, succeeded []string, replied bool) []plan.StepResult {
	remaining := make(map[string]int, len(succeeded))
	for _, name := range succeeded {
		remaining[name]++
	}
	var results []plan.StepResult
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Status == proto.StepCompleted {
			continue
		}
		switch {
		case s.ToolToUse != "" && remaining[s.ToolToUse] > 0:
			remaining[s.ToolToUse]--
		case s.ToolToUse == "" && replied && !s.NeedsUserInput:
		default:
			return results
		}
		results = append(results, plan.StepResult{StepNumber: s.StepNumber, Success: true})
	}
	return results
}
