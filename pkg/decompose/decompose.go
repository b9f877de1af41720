// Package decompose splits a compound customer question into independent
// sub-questions so each can be answered or planned separately.
package decompose

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// Result of decomposing one message. When IsComplex is false SubQuestions is
// exactly the original message.
type Result struct {
	IsComplex    bool     `json:"is_complex"`
	SubQuestions []string `json:"sub_questions"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

const decomposeToolName = "decompose_question"

type decomposition struct {
	IsComplex    bool     `json:"is_complex" jsonschema:"required,description=True only if the message asks two or more independent things"`
	SubQuestions []string `json:"sub_questions" jsonschema:"required,description=Self-contained sub-questions in the order asked"`
	Reasoning    string   `json:"reasoning" jsonschema:"description=One sentence on why"`
}

const decomposeSystemPrompt = `You prepare customer messages for a support assistant.
If the latest message asks two or more independent things, split it into self-contained
sub-questions, each answerable on its own, in the order they were asked. Otherwise mark it
as not complex and return the message unchanged as the only sub-question.`

// Decomposer splits compound questions.
type Decomposer struct {
	client         llm.LLMClient
	minFragmentLen int
	def            tools.ToolDefinition
	logger         *logx.Logger
}

// NewDecomposer creates a decomposer. A nil client always uses the fallback.
func NewDecomposer(client llm.LLMClient, cfg config.AgentConfig) *Decomposer {
	return &Decomposer{
		client:         client,
		minFragmentLen: cfg.MinFragmentLen,
		def: tools.ToolDefinition{
			Name:        decomposeToolName,
			Description: "Record whether the customer's message contains several questions.",
			InputSchema: tools.GenerateSchema[decomposition](),
		},
		logger: logx.NewLogger("decompose"),
	}
}

// Decompose never fails. A non-complex result always carries the message
// verbatim, also when the model rewrote it.
func (d *Decomposer) Decompose(ctx context.Context, message string, recentHistory []proto.ChatTurn) Result {
	if strings.TrimSpace(message) == "" {
		return identity(message, "empty message")
	}
	if d.client != nil {
		out, err := llm.CallTool[decomposition](ctx, d.client, decomposeSystemPrompt, decomposePrompt(message, recentHistory), d.def)
		if err == nil {
			return d.fromModel(out, message)
		}
		d.logger.Warn("decomposition failed, using fallback: %v", err)
	}
	return d.Fallback(message)
}

func decomposePrompt(message string, history []proto.ChatTurn) string {
	var b strings.Builder
	if n := len(history); n > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range history[max(0, n-4):] {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Latest customer message:\n%s", message)
	return b.String()
}

func (d *Decomposer) fromModel(out decomposition, message string) Result {
	var subs []string
	for _, s := range out.SubQuestions {
		if s = strings.TrimSpace(s); s != "" {
			subs = append(subs, s)
		}
	}
	if !out.IsComplex || len(subs) < 2 {
		return identity(message, out.Reasoning)
	}
	return Result{IsComplex: true, SubQuestions: subs, Reasoning: out.Reasoning}
}

func identity(message, reasoning string) Result {
	return Result{SubQuestions: []string{message}, Reasoning: reasoning}
}

var conjunctions = regexp.MustCompile(`(?i)\s*(?:,\s*)?\b(?:and also|and then|as well as|and|then|also|plus)\b\s*`)

// Fallback splits on conjunctions and keeps fragments of at least the
// configured length.
func (d *Decomposer) Fallback(message string) Result {
	question := strings.HasSuffix(strings.TrimSpace(message), "?")
	var frags []string
	for _, f := range conjunctions.Split(message, -1) {
		f = strings.Trim(strings.TrimSpace(f), ",;")
		f = strings.TrimSpace(f)
		if len(f) < d.minFragmentLen {
			continue
		}
		frags = append(frags, f)
	}
	if len(frags) < 2 {
		return identity(message, "single question")
	}
	if question {
		for i, f := range frags {
			f = strings.TrimRight(f, ".!? ")
			frags[i] = f + "?"
		}
	}
	return Result{
		IsComplex:    true,
		SubQuestions: frags,
		Reasoning:    fmt.Sprintf("split into %d parts on conjunctions", len(frags)),
	}
}
