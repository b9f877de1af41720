// Package conversation implements the handoff state machine of a
// conversation: open -> handoff_requested -> human_joined -> open.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/learning"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

var (
	// ErrInvalidTransition is returned when an event is not allowed in the
	// conversation's current status.
	ErrInvalidTransition = errors.New("invalid conversation transition")
	// ErrConcurrentTransition is returned when the status changed between
	// reading it and applying the transition.
	ErrConcurrentTransition = errors.New("conversation status changed concurrently")
)

// Event drives a transition.
type Event string

const (
	EventRequestHandoff Event = "request_handoff"
	EventHumanJoin      Event = "human_join"
	EventReturnToAgent  Event = "return_to_agent"
)

// TransitionTable maps a status and event to the next status.
type TransitionTable map[proto.ConversationStatus]map[Event]proto.ConversationStatus

// ValidTransitions is the handoff lifecycle. An operator may also return a
// conversation that is still waiting for a human.
var ValidTransitions = TransitionTable{
	proto.StatusOpen: {
		EventRequestHandoff: proto.StatusHandoffRequested,
	},
	proto.StatusHandoffRequested: {
		EventHumanJoin:     proto.StatusHumanJoined,
		EventReturnToAgent: proto.StatusOpen,
	},
	proto.StatusHumanJoined: {
		EventReturnToAgent: proto.StatusOpen,
	},
}

// Next returns the status event leads to from from.
func (t TransitionTable) Next(from proto.ConversationStatus, event Event) (proto.ConversationStatus, bool) {
	to, ok := t[from][event]
	return to, ok
}

// Store reads conversations and applies conditional status updates.
type Store interface {
	GetConversation(ctx context.Context, tenantID, id string) (*proto.Conversation, error)
	UpdateStatus(ctx context.Context, tenantID, id string, from, to proto.ConversationStatus) (bool, error)
}

// ReturnHook runs after a human hands a conversation back to the agent.
type ReturnHook func(ctx context.Context, conv *proto.Conversation) error

// Transition describes an applied event.
type Transition struct {
	From  proto.ConversationStatus
	To    proto.ConversationStatus
	Event Event
	// Task is the detached return hook, set only when a human-handled
	// conversation was returned to the agent.
	Task *learning.Task
}

// Machine applies events to stored conversations.
type Machine struct {
	store    Store
	table    TransitionTable
	onReturn ReturnHook
	logger   *logx.Logger
}

// Option customizes a Machine.
type Option func(*Machine)

// WithReturnHook sets the hook run in the background when a conversation
// goes from human_joined back to open.
func WithReturnHook(hook ReturnHook) Option {
	return func(m *Machine) {
		m.onReturn = hook
	}
}

// WithTransitionTable replaces ValidTransitions.
func WithTransitionTable(table TransitionTable) Option {
	return func(m *Machine) {
		m.table = table
	}
}

func NewMachine(store Store, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		table:  ValidTransitions,
		logger: logx.NewLogger("conversation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply moves the conversation according to event. The update is a
// compare-and-swap on the status that was read, so of several concurrent
// identical events exactly one succeeds; the others get
// ErrConcurrentTransition.
func (m *Machine) Apply(ctx context.Context, tenantID, conversationID string, event Event) (*Transition, error) {
	conv, err := m.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", event, err)
	}
	return m.ApplyTo(ctx, conv, event)
}

// ApplyTo is Apply for an already loaded conversation. conv.Status is
// updated on success.
func (m *Machine) ApplyTo(ctx context.Context, conv *proto.Conversation, event Event) (*Transition, error) {
	from := conv.Status
	to, ok := m.table.Next(from, event)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s conversation %s", ErrInvalidTransition, event, from, conv.ID)
	}
	swapped, err := m.store.UpdateStatus(ctx, conv.TenantID, conv.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("apply %s to %s: %w", event, conv.ID, err)
	}
	if !swapped {
		return nil, fmt.Errorf("%w: %s on %s", ErrConcurrentTransition, event, conv.ID)
	}
	conv.Status = to
	m.logger.Info("conversation %s: %s → %s (%s)", conv.ID, from, to, event)

	tr := &Transition{From: from, To: to, Event: event}
	if from == proto.StatusHumanJoined && to == proto.StatusOpen && m.onReturn != nil {
		snapshot := *conv
		tr.Task = learning.Go(ctx, "learning:"+conv.ID, func(ctx context.Context) error {
			return m.onReturn(ctx, &snapshot)
		}, learning.LogErrors(m.logger))
	}
	return tr, nil
}
