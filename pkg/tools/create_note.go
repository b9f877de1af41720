package tools

import (
	"context"
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// NoteWriter persists agent notes, returning the existing note and true when
// the new one duplicates a recent note.
type NoteWriter interface {
	CreateNote(ctx context.Context, note *proto.AgentNote) (*proto.AgentNote, bool, error)
}

type createNoteArgs struct {
	Category   string `json:"category" jsonschema:"required,enum=common_questions,enum=keywords,enum=analytics,enum=insights,enum=other,description=Note category"`
	Content    string `json:"content" jsonschema:"required,description=The fact worth remembering in one or two sentences"`
	PatientRef string `json:"patient_ref,omitempty" jsonschema:"description=Optional patient or user reference"`
}

// CreateNoteTool lets the agent record a durable fact about the conversation.
type CreateNoteTool struct {
	writer         NoteWriter
	tenantID       string
	conversationID string
	userID         string
	schema         InputSchema
}

func NewCreateNoteTool(writer NoteWriter, tenantID, conversationID, userID string) *CreateNoteTool {
	return &CreateNoteTool{
		writer:         writer,
		tenantID:       tenantID,
		conversationID: conversationID,
		userID:         userID,
		schema:         GenerateSchema[createNoteArgs](),
	}
}

func (t *CreateNoteTool) Name() string {
	return ToolCreateNote
}

func (t *CreateNoteTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCreateNote,
		Description: "Save a short note for the clinic team: a recurring question, a useful keyword, or an insight about this patient.",
		InputSchema: t.schema,
	}
}

func (t *CreateNoteTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	a, err := DecodeArgs[createNoteArgs](args)
	if err != nil {
		return nil, err
	}
	note, duplicate, err := t.writer.CreateNote(ctx, &proto.AgentNote{
		TenantID:       t.tenantID,
		ConversationID: t.conversationID,
		UserID:         t.userID,
		PatientRef:     a.PatientRef,
		Category:       proto.ParseNoteCategory(a.Category),
		Content:        a.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return jsonResult(map[string]any{
		"success":   true,
		"note_id":   note.ID,
		"duplicate": duplicate,
	})
}
