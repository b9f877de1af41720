package proto

import "time"

// NoteCategory classifies an agent note.
type NoteCategory string

const (
	NoteCommonQuestions NoteCategory = "common_questions"
	NoteKeywords        NoteCategory = "keywords"
	NoteAnalytics       NoteCategory = "analytics"
	NoteInsights        NoteCategory = "insights"
	NoteOther           NoteCategory = "other"
)

// ParseNoteCategory maps unknown values to NoteOther.
func ParseNoteCategory(s string) NoteCategory {
	switch c := NoteCategory(s); c {
	case NoteCommonQuestions, NoteKeywords, NoteAnalytics, NoteInsights, NoteOther:
		return c
	}
	return NoteOther
}

type NoteStatus string

const (
	NotePending  NoteStatus = "pending"
	NoteReviewed NoteStatus = "reviewed"
	NoteArchived NoteStatus = "archived"
)

// AgentNote is a durable distilled fact recorded by the agent.
type AgentNote struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	UserID         string       `json:"user_id,omitempty"`
	PatientRef     string       `json:"patient_ref,omitempty"`
	Category       NoteCategory `json:"category"`
	Content        string       `json:"content"`
	Status         NoteStatus   `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// AgentRecord is a tenant-curated knowledge entry (the agent's "brain").
type AgentRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordChunk is an indexed slice of a record's content.
type RecordChunk struct {
	RecordID string `json:"record_id"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
}

type ModificationKind string

const (
	ModificationEdit   ModificationKind = "edit"
	ModificationDelete ModificationKind = "delete"
)

type ModificationStatus string

const (
	ModificationPending  ModificationStatus = "pending"
	ModificationApproved ModificationStatus = "approved"
	ModificationRejected ModificationStatus = "rejected"
)

// ModificationRequest is an agent-proposed change to a record awaiting admin review.
type ModificationRequest struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	RecordID        string             `json:"record_id"`
	Kind            ModificationKind   `json:"kind"`
	ProposedTitle   string             `json:"proposed_title,omitempty"`
	ProposedContent string             `json:"proposed_content,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	Status          ModificationStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
}

// TenantSettings is the per-tenant agent configuration.
type TenantSettings struct {
	TenantID        string   `json:"tenant_id" yaml:"tenant_id"`
	AgentName       string   `json:"agent_name" yaml:"agent_name"`
	Model           string   `json:"model" yaml:"model"`
	Temperature     float32  `json:"temperature" yaml:"temperature"`
	SystemPrompt    string   `json:"system_prompt" yaml:"system_prompt"`
	EnabledFeatures []string `json:"enabled_features" yaml:"enabled_features"`
	PipelineVersion string   `json:"pipeline_version" yaml:"pipeline_version"`
	BillingActive   bool     `json:"billing_active" yaml:"billing_active"`
	SheetID         string   `json:"sheet_id,omitempty" yaml:"sheet_id"`
	WhatsAppNumber  string   `json:"whatsapp_number,omitempty" yaml:"whatsapp_number"`
}

// Feature names accepted in TenantSettings.EnabledFeatures.
const (
	FeatureSheets    = "sheets"
	FeatureBooking   = "booking"
	FeatureKnowledge = "knowledge"
	FeatureWebSearch = "web_search"
	FeatureNotes     = "notes"
	FeatureWhatsApp  = "whatsapp"
)

// HasFeature reports whether name is enabled for the tenant.
func (t *TenantSettings) HasFeature(name string) bool {
	for _, f := range t.EnabledFeatures {
		if f == name {
			return true
		}
	}
	return false
}

// RetrievedChunk is one ranked result of a knowledge search.
type RetrievedChunk struct {
	RecordID string  `json:"record_id"`
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}
