// Package proto defines the tenant-scoped domain records shared by the orchestration core.
package proto

import "time"

// ConversationStatus is the handoff state of a conversation.
type ConversationStatus string

const (
	StatusOpen             ConversationStatus = "open"
	StatusHandoffRequested ConversationStatus = "handoff_requested"
	StatusHumanJoined      ConversationStatus = "human_joined"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusHandoffRequested, StatusHumanJoined:
		return true
	}
	return false
}

// Role is the author of a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleHumanAgent Role = "human_agent"
)

// Conversation is created on the first inbound message and never hard-deleted
// except by an explicit admin delete.
type Conversation struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenant_id"`
	UserID             string             `json:"user_id,omitempty"`
	ExternalID         string             `json:"external_id,omitempty"`
	Channel            string             `json:"channel,omitempty"`
	Status             ConversationStatus `json:"status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	HandoffRequestedAt *time.Time         `json:"handoff_requested_at,omitempty"`
	HumanJoinedAt      *time.Time         `json:"human_joined_at,omitempty"`
}

// Message is immutable once written. Seq breaks creation-time ties.
type Message struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Seq            int64     `json:"seq,omitempty"`
}

// ChatTurn is a role/content pair passed to the agent pipelines.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turns converts stored messages into pipeline history.
func Turns(msgs []Message) []ChatTurn {
	out := make([]ChatTurn, 0, len(msgs))
	for i := range msgs {
		out = append(out, ChatTurn{Role: msgs[i].Role, Content: msgs[i].Content})
	}
	return out
}

// ConversationSummary is a long-term memory unit.
type ConversationSummary struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	ConversationID string       `json:"conversation_id"`
	UserID         string       `json:"user_id,omitempty"`
	Scope          SummaryScope `json:"scope"`
	Summary        string       `json:"summary"`
	Topics         []string     `json:"topics"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SummaryScope controls who may recall a summary.
type SummaryScope string

const (
	ScopeShared SummaryScope = "shared"
	ScopeUser   SummaryScope = "user"
)

// VisibleTo reports whether the summary may be recalled for userID.
// User-scoped summaries are visible only to their owner.
func (s *ConversationSummary) VisibleTo(userID string) bool {
	switch s.Scope {
	case ScopeShared:
		return true
	case ScopeUser:
		return userID != "" && s.UserID == userID
	}
	return false
}
