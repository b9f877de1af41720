package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// SummaryWriter stores conversation summaries.
type SummaryWriter interface {
	SaveSummary(ctx context.Context, s *proto.ConversationSummary) error
}

const summarizeToolName = "summarize_conversation"

type summaryOutput struct {
	Summary  string   `json:"summary" jsonschema:"required,description=Two or three sentences on what the customer wanted and how it was resolved"`
	Topics   []string `json:"topics" jsonschema:"required,description=Up to five short lowercase topic keywords"`
	Personal bool     `json:"personal" jsonschema:"description=True when the summary contains details that only this customer should see"`
}

const summarizeSystemPrompt = `You write long-term memory for a customer support agent.
Summarize the conversation for future reference by the agent. Do not include phone numbers,
emails or payment details. Mark the summary personal when it is only useful for this specific customer.`

// Summarizer turns a finished stretch of conversation into a stored summary.
type Summarizer struct {
	client    llm.LLMClient
	store     SummaryWriter
	maxTopics int
	def       tools.ToolDefinition
	logger    *logx.Logger
}

// NewSummarizer creates a summarizer. client may be nil, in which case the
// deterministic synopsis is stored.
func NewSummarizer(client llm.LLMClient, store SummaryWriter, maxTopics int) *Summarizer {
	return &Summarizer{
		client:    client,
		store:     store,
		maxTopics: maxTopics,
		def: tools.ToolDefinition{
			Name:        summarizeToolName,
			Description: "Record the summary of a support conversation.",
			InputSchema: tools.GenerateSchema[summaryOutput](),
		},
		logger: logx.NewLogger("summarizer"),
	}
}

// Summarize produces and stores a summary of messages. Summaries marked
// personal by the model are stored user-scoped when the conversation has a
// user; everything else is shared.
func (s *Summarizer) Summarize(ctx context.Context, conv *proto.Conversation, messages []proto.Message) (*proto.ConversationSummary, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("nothing to summarize for conversation %s", conv.ID)
	}
	turns := proto.Turns(messages)
	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "%s: %s\n", t.Role, t.Content)
	}

	sum := &proto.ConversationSummary{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Scope:          proto.ScopeShared,
	}
	out, err := llm.CallTool[summaryOutput](ctx, s.client, summarizeSystemPrompt, transcript.String(), s.def)
	if err == nil && strings.TrimSpace(out.Summary) != "" {
		sum.Summary = strings.TrimSpace(out.Summary)
		sum.Topics = normalizeTopics(out.Topics, s.maxTopics)
		if out.Personal && conv.UserID != "" {
			sum.Scope = proto.ScopeUser
		}
	} else {
		if err != nil {
			s.logger.Warn("summary model call failed for %s, using synopsis: %v", conv.ID, err)
		}
		sum.Summary = Synopsis(turns, s.maxTopics)
		sum.Topics = ExtractTopics(transcript.String(), s.maxTopics)
	}
	if len(sum.Topics) == 0 {
		sum.Topics = ExtractTopics(transcript.String(), s.maxTopics)
	}

	if err := s.store.SaveSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("save summary of %s: %w", conv.ID, err)
	}
	logx.Debug(ctx, "memory", "stored %s summary %s for %s topics=%v", sum.Scope, sum.ID, conv.ID, sum.Topics)
	return sum, nil
}

func normalizeTopics(topics []string, max int) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
