package learning

import (
	"context"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// MessageSource lists the messages of a conversation in order.
type MessageSource interface {
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]proto.Message, error)
}

// Summarizer stores a summary of a stretch of conversation.
type Summarizer interface {
	Summarize(ctx context.Context, conv *proto.Conversation, messages []proto.Message) (*proto.ConversationSummary, error)
}

// NoteWriter records notes, deduplicating near-identical ones.
type NoteWriter interface {
	CreateNote(ctx context.Context, note *proto.AgentNote) (*proto.AgentNote, bool, error)
}

// maxTranscript bounds how much of a conversation one extraction reads.
const maxTranscript = 200

// Outcome reports what an extraction produced.
type Outcome struct {
	Summary      *proto.ConversationSummary
	NotesCreated int
	NotesDeduped int
}

// Extractor learns from conversations a human agent handled: it stores a
// summary for long-term recall and records each question the human answered
// as a common_questions note.
type Extractor struct {
	messages   MessageSource
	summarizer Summarizer
	notes      NoteWriter
	logger     *logx.Logger
}

// NewExtractor creates an extractor. notes may be nil to skip note capture.
func NewExtractor(messages MessageSource, summarizer Summarizer, notes NoteWriter) *Extractor {
	return &Extractor{
		messages:   messages,
		summarizer: summarizer,
		notes:      notes,
		logger:     logx.NewLogger("learning"),
	}
}

// OnReturn matches conversation.ReturnHook.
func (e *Extractor) OnReturn(ctx context.Context, conv *proto.Conversation) error {
	_, err := e.Extract(ctx, conv)
	return err
}

// Extract runs one learning pass over conv.
func (e *Extractor) Extract(ctx context.Context, conv *proto.Conversation) (*Outcome, error) {
	ctx = logx.WithTenant(ctx, conv.TenantID)
	msgs, err := e.messages.ListMessages(ctx, conv.TenantID, conv.ID, maxTranscript)
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", conv.ID, err)
	}
	if len(msgs) == 0 {
		return &Outcome{}, nil
	}

	out := &Outcome{}
	sum, err := e.summarizer.Summarize(ctx, conv, msgs)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", conv.ID, err)
	}
	out.Summary = sum

	if e.notes != nil {
		for _, qa := range humanAnswers(msgs) {
			note := &proto.AgentNote{
				TenantID:       conv.TenantID,
				ConversationID: conv.ID,
				UserID:         conv.UserID,
				Category:       proto.NoteCommonQuestions,
				Content:        qa,
			}
			_, dup, err := e.notes.CreateNote(ctx, note)
			if err != nil {
				return out, fmt.Errorf("record answer from %s: %w", conv.ID, err)
			}
			if dup {
				out.NotesDeduped++
			} else {
				out.NotesCreated++
			}
		}
	}

	e.logger.Info("learned from %s: summary %s, %d notes (%d duplicates)",
		conv.ID, sum.ID, out.NotesCreated, out.NotesDeduped)
	return out, nil
}

// humanAnswers pairs each human agent reply with the customer message it
// followed. Consecutive replies to the same question are joined.
func humanAnswers(msgs []proto.Message) []string {
	var (
		out      []string
		question string
		answer   []string
	)
	flush := func() {
		if question != "" && len(answer) > 0 {
			out = append(out, fmt.Sprintf("Q: %s\nA: %s", question, strings.Join(answer, " ")))
		}
		answer = nil
	}
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case proto.RoleUser:
			flush()
			question = text
		case proto.RoleHumanAgent:
			answer = append(answer, text)
		case proto.RoleAssistant:
			flush()
			question = ""
		}
	}
	flush()
	return out
}
