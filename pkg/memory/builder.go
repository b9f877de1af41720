// Package memory assembles the bounded context handed to the agent pipelines
// from short-term history, structured state, tool activity, long-term
// summaries and retrieved knowledge.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/knowledge"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// NoteSource reads the notes of a conversation.
type NoteSource interface {
	ListNotes(ctx context.Context, tenantID string, filter persistence.NoteFilter) ([]proto.AgentNote, error)
}

// PlanSource reads the active plan of a conversation.
type PlanSource interface {
	ActivePlan(ctx context.Context, tenantID, conversationID string) (*proto.ExecutionPlan, error)
}

// SummarySource reads a tenant's summaries, newest first.
type SummarySource interface {
	RecentSummaries(ctx context.Context, tenantID string, limit int) ([]proto.ConversationSummary, error)
}

// maxContextNotes bounds the notes injected as structured state.
const maxContextNotes = 10

// Input is everything BuildContext needs for one turn.
type Input struct {
	TenantID       string
	ConversationID string
	UserID         string
	History        []proto.ChatTurn
	ExecutionLogs  []proto.ExecutionLog
	RAGText        string
}

// ConversationMemory is the short-term window of a conversation.
type ConversationMemory struct {
	RecentMessages []proto.ChatTurn
	// Summary describes the messages that fell out of the window. Empty when
	// the whole history fits.
	Summary       string
	TotalMessages int
}

// AgentContext is the assembled, bounded context of one turn.
type AgentContext struct {
	ConversationMemory ConversationMemory
	Notes              []proto.AgentNote
	Plan               *proto.ExecutionPlan
	ExecutionTrace     string
	Summaries          []proto.ConversationSummary
	RAGChunks          []string
	Keywords           []string
	TokenEstimate      int
}

// Builder assembles AgentContexts. Any source may be nil.
type Builder struct {
	notes     NoteSource
	plans     PlanSource
	summaries SummarySource
	cfg       config.AgentConfig
	logger    *logx.Logger
}

func NewBuilder(notes NoteSource, plans PlanSource, summaries SummarySource, cfg config.AgentConfig) *Builder {
	return &Builder{
		notes:     notes,
		plans:     plans,
		summaries: summaries,
		cfg:       cfg,
		logger:    logx.NewLogger("memory"),
	}
}

// BuildContext never fails: a source that errors is logged and left empty.
func (b *Builder) BuildContext(ctx context.Context, in Input) *AgentContext {
	ac := &AgentContext{}
	ac.ConversationMemory = b.window(in.History)
	ac.Keywords = currentKeywords(in.History, b.cfg.MaxTopics)

	if in.ConversationID != "" {
		ac.Notes = b.loadNotes(ctx, in.TenantID, in.ConversationID)
		ac.Plan = b.loadPlan(ctx, in.TenantID, in.ConversationID)
	}
	ac.ExecutionTrace = FormatExecutionLogs(in.ExecutionLogs, b.cfg.LogWindow)
	ac.Summaries = b.recall(ctx, in.TenantID, in.UserID, ac.Keywords)
	ac.RAGChunks = capParagraphs(in.RAGText, b.cfg.MaxRAGChunks)

	var tokens strings.Builder
	tokens.WriteString(ac.Render())
	for _, m := range ac.ConversationMemory.RecentMessages {
		tokens.WriteString(m.Content)
		tokens.WriteByte('\n')
	}
	ac.TokenEstimate = utils.CountTokens(tokens.String())

	logx.Debug(ctx, "memory", "context for %s: %d/%d messages, %d notes, plan=%t, %d summaries, %d chunks, ~%d tokens",
		in.ConversationID, len(ac.ConversationMemory.RecentMessages), len(in.History), len(ac.Notes),
		ac.Plan != nil, len(ac.Summaries), len(ac.RAGChunks), ac.TokenEstimate)
	return ac
}

// window keeps the last WindowSize turns verbatim and summarizes the rest.
func (b *Builder) window(history []proto.ChatTurn) ConversationMemory {
	mem := ConversationMemory{TotalMessages: len(history)}
	size := b.cfg.WindowSize
	if size <= 0 || len(history) <= size {
		mem.RecentMessages = append([]proto.ChatTurn(nil), history...)
		return mem
	}
	cut := len(history) - size
	mem.RecentMessages = append([]proto.ChatTurn(nil), history[cut:]...)
	mem.Summary = Synopsis(history[:cut], b.cfg.MaxTopics)
	return mem
}

// Synopsis describes turns by role counts and the topics they mention.
func Synopsis(turns []proto.ChatTurn, maxTopics int) string {
	var users, assistants, humans int
	var text strings.Builder
	for _, t := range turns {
		switch t.Role {
		case proto.RoleUser:
			users++
		case proto.RoleAssistant:
			assistants++
		case proto.RoleHumanAgent:
			humans++
		}
		text.WriteString(t.Content)
		text.WriteByte('\n')
	}
	s := fmt.Sprintf("Earlier in this conversation: %d user messages and %d assistant replies", users, assistants)
	if humans > 0 {
		s += fmt.Sprintf(" (plus %d from the care team)", humans)
	}
	s += "."
	if topics := ExtractTopics(text.String(), maxTopics); len(topics) > 0 {
		s += " Topics discussed: " + strings.Join(topics, ", ") + "."
	}
	return s
}

// currentKeywords are the vocabulary topics of the whole history plus the
// key terms of the latest user messages.
func currentKeywords(history []proto.ChatTurn, maxTopics int) []string {
	var all, recentUser strings.Builder
	seenUser := 0
	for i := len(history) - 1; i >= 0; i-- {
		all.WriteString(history[i].Content)
		all.WriteByte('\n')
		if history[i].Role == proto.RoleUser && seenUser < 3 {
			recentUser.WriteString(history[i].Content)
			recentUser.WriteByte('\n')
			seenUser++
		}
	}
	keywords := ExtractTopics(all.String(), maxTopics)
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		seen[k] = true
	}
	for _, term := range knowledge.ExtractKeyTerms(recentUser.String(), 10) {
		if !seen[term] {
			seen[term] = true
			keywords = append(keywords, term)
		}
	}
	return keywords
}

func (b *Builder) loadNotes(ctx context.Context, tenantID, conversationID string) []proto.AgentNote {
	if b.notes == nil {
		return nil
	}
	notes, err := b.notes.ListNotes(ctx, tenantID, persistence.NoteFilter{
		ConversationID: conversationID,
		Limit:          maxContextNotes * 2,
	})
	if err != nil {
		b.logger.Warn("notes unavailable for %s/%s: %v", tenantID, conversationID, err)
		return nil
	}
	out := notes[:0]
	for i := range notes {
		if notes[i].Status != proto.NoteArchived && len(out) < maxContextNotes {
			out = append(out, notes[i])
		}
	}
	return out
}

func (b *Builder) loadPlan(ctx context.Context, tenantID, conversationID string) *proto.ExecutionPlan {
	if b.plans == nil {
		return nil
	}
	plan, err := b.plans.ActivePlan(ctx, tenantID, conversationID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		b.logger.Warn("plan unavailable for %s/%s: %v", tenantID, conversationID, err)
		return nil
	}
	if !plan.Status.Active() {
		return nil
	}
	return plan
}

// recall picks visible summaries, preferring topic overlap with keywords and
// filling up with the most recent ones.
func (b *Builder) recall(ctx context.Context, tenantID, userID string, keywords []string) []proto.ConversationSummary {
	if b.summaries == nil || b.cfg.MaxSummaries <= 0 {
		return nil
	}
	candidates, err := b.summaries.RecentSummaries(ctx, tenantID, b.cfg.SummaryCandidates)
	if err != nil {
		b.logger.Warn("summaries unavailable for %s: %v", tenantID, err)
		return nil
	}

	type scored struct {
		summary proto.ConversationSummary
		score   int
		rank    int
	}
	var visible []scored
	for i := range candidates {
		if !candidates[i].VisibleTo(userID) {
			continue
		}
		visible = append(visible, scored{
			summary: candidates[i],
			score:   overlap(keywords, candidates[i].Topics),
			rank:    len(visible),
		})
	}
	// Overlapping first by score, then recency; the rest by recency.
	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].score != visible[j].score {
			return visible[i].score > visible[j].score
		}
		return visible[i].rank < visible[j].rank
	})
	if len(visible) > b.cfg.MaxSummaries {
		visible = visible[:b.cfg.MaxSummaries]
	}
	out := make([]proto.ConversationSummary, len(visible))
	for i := range visible {
		out[i] = visible[i].summary
	}
	return out
}

// capParagraphs splits retrieved text on blank lines and keeps at most max.
func capParagraphs(text string, max int) []string {
	paras := knowledge.Paragraphs(text)
	if max > 0 && len(paras) > max {
		paras = paras[:max]
	}
	return paras
}
