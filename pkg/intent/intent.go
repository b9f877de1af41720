// Package intent classifies a customer message into a closed set of intents,
// with a deterministic pattern-based fallback when the model is unavailable.
package intent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// Intent is one of the closed set of customer intents.
type Intent string

const (
	BookAppointment     Intent = "book_appointment"
	CheckAvailability   Intent = "check_availability"
	QueryInformation    Intent = "query_information"
	CreateNote          Intent = "create_note"
	GeneralConversation Intent = "general_conversation"
	RequestHuman        Intent = "request_human"
	ConfirmAction       Intent = "confirm_action"
)

// All lists every valid intent.
var All = []Intent{
	BookAppointment,
	CheckAvailability,
	QueryInformation,
	CreateNote,
	GeneralConversation,
	RequestHuman,
	ConfirmAction,
}

// Valid reports whether i is in the closed set.
func (i Intent) Valid() bool {
	for _, v := range All {
		if i == v {
			return true
		}
	}
	return false
}

// Source tells which path produced a Result.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Entities are the details found in the message. Missing ones are empty.
type Entities struct {
	Date    string `json:"date,omitempty" jsonschema:"description=Date mentioned by the customer as written"`
	Time    string `json:"time,omitempty" jsonschema:"description=Time of day mentioned by the customer"`
	Phone   string `json:"phone,omitempty" jsonschema:"description=Phone number"`
	Email   string `json:"email,omitempty" jsonschema:"description=Email address"`
	Name    string `json:"name,omitempty" jsonschema:"description=Person name the customer gave"`
	Service string `json:"service,omitempty" jsonschema:"description=Service or treatment requested"`
}

// Result is the classification of one message.
type Result struct {
	Intent         Intent   `json:"intent"`
	Confidence     float64  `json:"confidence"`
	Entities       Entities `json:"entities"`
	RequiresTools  bool     `json:"requires_tools"`
	SuggestedTools []string `json:"suggested_tools,omitempty"`
	Source         Source   `json:"source"`
}

const classifyToolName = "classify_intent"

type classification struct {
	Intent         string   `json:"intent" jsonschema:"required,enum=book_appointment,enum=check_availability,enum=query_information,enum=create_note,enum=general_conversation,enum=request_human,enum=confirm_action,description=The customer's primary intent"`
	Confidence     float64  `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
	Entities       Entities `json:"entities" jsonschema:"description=Details mentioned in the message"`
	RequiresTools  bool     `json:"requires_tools" jsonschema:"description=Whether answering needs a tool call"`
	SuggestedTools []string `json:"suggested_tools" jsonschema:"description=Tool names that would help"`
}

const classifySystemPrompt = `You classify messages sent to a customer support assistant.
Pick exactly one intent:
- book_appointment: wants to book, schedule or reschedule something
- check_availability: asks which times or dates are free
- query_information: asks a factual question about the business (hours, prices, services, policies)
- create_note: asks the assistant to remember or record something
- request_human: explicitly asks for a human, staff member or the care team
- confirm_action: confirms or agrees to something the assistant proposed (yes, go ahead, that works)
- general_conversation: greetings, thanks, small talk, anything else
Extract any dates, times, phone numbers, emails, names and requested services as written.`

// Extractor classifies messages.
type Extractor struct {
	client             llm.LLMClient
	fallbackConfidence float64
	def                tools.ToolDefinition
	logger             *logx.Logger
}

// NewExtractor creates an extractor. A nil client always uses the fallback.
func NewExtractor(client llm.LLMClient, cfg config.AgentConfig) *Extractor {
	return &Extractor{
		client:             client,
		fallbackConfidence: cfg.IntentFallbackConfidence,
		def: tools.ToolDefinition{
			Name:        classifyToolName,
			Description: "Record the intent of the customer's latest message.",
			InputSchema: tools.GenerateSchema[classification](),
		},
		logger: logx.NewLogger("intent"),
	}
}

// Extract classifies message in the light of recentHistory. It never fails
// and never returns an intent outside All.
func (e *Extractor) Extract(ctx context.Context, message string, recentHistory []proto.ChatTurn) Result {
	if strings.TrimSpace(message) == "" {
		return Result{Intent: GeneralConversation, Confidence: e.fallbackConfidence, Source: SourceFallback}
	}
	if e.client != nil {
		out, err := llm.CallTool[classification](ctx, e.client, classifySystemPrompt, classifyPrompt(message, recentHistory), e.def)
		if err == nil {
			if res, ok := e.fromModel(out, message); ok {
				return res
			}
			e.logger.Warn("model returned unknown intent %q, using fallback", out.Intent)
		} else {
			e.logger.Warn("intent classification failed, using fallback: %v", err)
		}
	}
	return e.Fallback(message)
}

func classifyPrompt(message string, history []proto.ChatTurn) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		start := 0
		if len(history) > 6 {
			start = len(history) - 6
		}
		for _, t := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Latest customer message:\n%s", message)
	return b.String()
}

func (e *Extractor) fromModel(out classification, message string) (Result, bool) {
	in := Intent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !in.Valid() {
		return Result{}, false
	}
	res := Result{
		Intent:         in,
		Confidence:     clamp(out.Confidence),
		Entities:       out.Entities,
		RequiresTools:  out.RequiresTools,
		SuggestedTools: knownTools(out.SuggestedTools),
		Source:         SourceModel,
	}
	// Fill gaps the model left with what the patterns can see.
	res.Entities = mergeEntities(res.Entities, ExtractEntities(message))
	if len(res.SuggestedTools) > 0 {
		res.RequiresTools = true
	}
	return res, true
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func knownTools(names []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if seen[n] {
			continue
		}
		for _, k := range tools.KnownTools {
			if n == k {
				seen[n] = true
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func mergeEntities(primary, extra Entities) Entities {
	if primary.Date == "" {
		primary.Date = extra.Date
	}
	if primary.Time == "" {
		primary.Time = extra.Time
	}
	if primary.Phone == "" {
		primary.Phone = extra.Phone
	}
	if primary.Email == "" {
		primary.Email = extra.Email
	}
	if primary.Name == "" {
		primary.Name = extra.Name
	}
	if primary.Service == "" {
		primary.Service = extra.Service
	}
	return primary
}
