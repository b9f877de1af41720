// Package plan breaks multi-step customer requests into execution plans,
// tracks their progress across turns and detects missing details.
package plan

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// ActionRespond is the action of a step that only needs a reply.
const ActionRespond = "respond"

const planToolName = "create_execution_plan"

type stepOutput struct {
	Action         string `json:"action" jsonschema:"required,description=Short verb phrase such as check_availability or book"`
	Description    string `json:"description" jsonschema:"required,description=What this step does for the customer"`
	ToolToUse      string `json:"tool_to_use" jsonschema:"description=Name of the tool this step calls or empty"`
	NeedsUserInput bool   `json:"needs_user_input" jsonschema:"description=True when the customer must provide something first"`
	UserPrompt     string `json:"user_prompt" jsonschema:"description=Question to ask the customer when input is needed"`
}

type planOutput struct {
	Steps       []stepOutput `json:"steps" jsonschema:"required,description=Ordered steps"`
	MissingInfo []string     `json:"missing_info" jsonschema:"description=Details the customer has not given yet such as name or date"`
}

const planSystemPrompt = `You plan the work of a customer support assistant.
Break the customer's request into the smallest ordered list of steps. Use only the tools listed.
A step that needs no tool has an empty tool_to_use. List details the customer still has to give
(for example name, phone, date, time) in missing_info.`

// Supervisor creates and advances execution plans.
type Supervisor struct {
	client llm.LLMClient
	def    tools.ToolDefinition
	logger *logx.Logger
}

// NewSupervisor creates a supervisor. A nil client always uses the fallback.
func NewSupervisor(client llm.LLMClient) *Supervisor {
	return &Supervisor{
		client: client,
		def: tools.ToolDefinition{
			Name:        planToolName,
			Description: "Record the execution plan for the customer's request.",
			InputSchema: tools.GenerateSchema[planOutput](),
		},
		logger: logx.NewLogger("plan"),
	}
}

// AnalyzeAndPlan returns a ready plan for request. It never returns nil:
// when the model is unavailable or returns nothing usable a single-step plan
// is derived from keywords. Steps are numbered from 1 and reference only
// tools in availableTools.
func (s *Supervisor) AnalyzeAndPlan(ctx context.Context, request string, availableTools []string, recentHistory []proto.ChatTurn) *proto.ExecutionPlan {
	var p *proto.ExecutionPlan
	if s.client != nil {
		out, err := llm.CallTool[planOutput](ctx, s.client, planSystemPrompt, planPrompt(request, availableTools, recentHistory), s.def)
		switch {
		case err != nil:
			s.logger.Warn("planning failed, using fallback: %v", err)
		case len(out.Steps) == 0:
			s.logger.Warn("model returned an empty plan, using fallback")
		default:
			p = fromModel(out, request)
		}
	}
	if p == nil {
		p = FallbackPlan(request)
	}
	normalize(p, availableTools)
	return p
}

func planPrompt(request string, available []string, history []proto.ChatTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Available tools: %s\n\n", strings.Join(available, ", "))
	if n := len(history); n > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range history[max(0, n-6):] {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Request:\n%s", request)
	return b.String()
}

func fromModel(out planOutput, request string) *proto.ExecutionPlan {
	p := &proto.ExecutionPlan{Request: request}
	for _, st := range out.Steps {
		if strings.TrimSpace(st.Action) == "" && strings.TrimSpace(st.Description) == "" {
			continue
		}
		p.Steps = append(p.Steps, proto.PlanStep{
			Action:         strings.TrimSpace(st.Action),
			Description:    strings.TrimSpace(st.Description),
			ToolToUse:      strings.TrimSpace(st.ToolToUse),
			NeedsUserInput: st.NeedsUserInput,
			UserPrompt:     strings.TrimSpace(st.UserPrompt),
		})
	}
	if len(p.Steps) == 0 {
		return nil
	}
	for _, m := range out.MissingInfo {
		if m = strings.TrimSpace(m); m != "" {
			p.MissingInfo = append(p.MissingInfo, m)
		}
	}
	return p
}

func normalize(p *proto.ExecutionPlan, available []string) {
	allowed := make(map[string]bool, len(available))
	for _, t := range available {
		allowed[t] = true
	}
	for i := range p.Steps {
		st := &p.Steps[i]
		st.StepNumber = i + 1
		st.Status = proto.StepPending
		if st.ToolToUse != "" && !allowed[st.ToolToUse] {
			st.ToolToUse = ""
		}
		if st.Action == "" {
			st.Action = ActionRespond
		}
	}
	p.CurrentStep = 1
	p.Status = proto.PlanReady
	if len(p.MissingInfo) > 0 {
		p.Status = proto.PlanNeedsInfo
	}
}

var (
	bookingWords      = regexp.MustCompile(`(?i)\b(book|booking|schedule|reschedule|reserve|appointment)\b`)
	availabilityWords = regexp.MustCompile(`(?i)\b(available|availability|slots?|openings|free time|when can)\b`)
	searchWords       = regexp.MustCompile(`(?i)\b(what|how|which|where|when|price|prices|cost|hours|policy|insurance|services?|information|info)\b|\?\s*$`)
)

// FallbackPlan derives a single-step plan from keywords in request.
func FallbackPlan(request string) *proto.ExecutionPlan {
	step := proto.PlanStep{Action: ActionRespond, Description: "Answer the customer directly"}
	switch {
	case bookingWords.MatchString(request):
		step = proto.PlanStep{
			Action:      "book",
			Description: "Record the booking the customer asked for",
			ToolToUse:   tools.ToolAppendBooking,
		}
	case availabilityWords.MatchString(request):
		step = proto.PlanStep{
			Action:      "check_availability",
			Description: "Look up open slots",
			ToolToUse:   tools.ToolSheetQuery,
		}
	case searchWords.MatchString(request):
		step = proto.PlanStep{
			Action:      "search",
			Description: "Find the answer in the knowledge base",
			ToolToUse:   tools.ToolSearchKnowledge,
		}
	}
	return &proto.ExecutionPlan{Request: request, Steps: []proto.PlanStep{step}}
}
