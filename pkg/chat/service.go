// Package chat handles inbound customer messages: it stores them, applies the
// conversation gates and asks the agent for a reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/billing"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/conversation"
	"github.com/vortexion256/caremax-sub002/pkg/limiter"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

const (
	// TruncationSuffix is appended to messages that exceed the max length.
	TruncationSuffix = " … [truncated]"

	// HandoffPendingAck answers repeated requests for a person while one is
	// already on the way.
	HandoffPendingAck = "A member of our team has already been notified and will join this conversation shortly."

	// ThrottleReply is returned when a conversation sends too fast.
	ThrottleReply = "You're sending messages a little too quickly. Please wait a moment and try again."
)

// Turn outcomes reported to metrics and callers.
const (
	OutcomeReplied         = "replied"
	OutcomeFallback        = "fallback"
	OutcomeHandoffAck      = "handoff_ack"
	OutcomeSuppressed      = "suppressed"
	OutcomeThrottled       = "throttled"
	OutcomeBillingInactive = "billing_inactive"
)

// pipelineNone labels turns that never reached a pipeline.
const pipelineNone = "none"

var (
	// ErrEmptyMessage is returned for inbound messages without text.
	ErrEmptyMessage = errors.New("message text is required")
	// ErrNotJoined is returned when staff post into a conversation no human has joined.
	ErrNotJoined = errors.New("no human has joined the conversation")
)

// Store is the persistence the service needs.
type Store interface {
	conversation.Store
	CreateConversation(ctx context.Context, c *proto.Conversation) error
	FindConversationByExternalID(ctx context.Context, tenantID, channel, externalID string) (*proto.Conversation, error)
	AppendMessage(ctx context.Context, m *proto.Message) error
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]proto.Message, error)
}

// Agent produces replies. *agent.Runner implements it.
type Agent interface {
	RunConfiguredAgent(ctx context.Context, tenantID string, history []proto.ChatTurn, opts agent.Options) (agent.Reply, error)
}

// InboundRequest is one customer message. ConversationID selects an existing
// conversation; otherwise ExternalID and Channel look one up, and a new
// conversation is created when none matches.
type InboundRequest struct {
	TenantID       string
	ConversationID string
	ExternalID     string
	Channel        string
	UserID         string
	Text           string
}

// InboundResult describes what happened to an inbound message.
// AssistantMessageID is empty when no reply was stored.
type InboundResult struct {
	ConversationID     string                   `json:"conversation_id"`
	UserMessageID      string                   `json:"user_message_id"`
	AssistantMessageID string                   `json:"assistant_message_id,omitempty"`
	Reply              string                   `json:"reply,omitempty"`
	RequestHandoff     bool                     `json:"request_handoff"`
	Status             proto.ConversationStatus `json:"status"`
	Outcome            string                   `json:"outcome"`
	Redacted           bool                     `json:"redacted,omitempty"`
}

// Service processes inbound messages for every tenant.
type Service struct {
	store    Store
	agent    Agent
	machine  *conversation.Machine
	limiter  *limiter.Limiter
	billing  billing.Oracle
	scanner  SecretScanner
	recorder metrics.Recorder
	config   config.ChatConfig
	logger   *logx.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithLimiter replaces the limiter built from the chat config.
func WithLimiter(l *limiter.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithBilling gates replies on the tenant's billing status.
func WithBilling(o billing.Oracle) Option {
	return func(s *Service) {
		s.billing = o
	}
}

// WithScanner replaces the default pattern scanner.
func WithScanner(sc SecretScanner) Option {
	return func(s *Service) {
		s.scanner = sc
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a chat service. machine must share store.
func NewService(store Store, a Agent, machine *conversation.Machine, cfg config.ChatConfig, opts ...Option) *Service {
	logger := logx.NewLogger("chat")
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = config.DefaultMaxMessageChars
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = config.DefaultHistoryLimit
	}

	s := &Service{
		store:    store,
		agent:    a,
		machine:  machine,
		limiter:  limiter.New(cfg.RateLimitCount, cfg.RateLimitWindow),
		recorder: metrics.Nop(),
		config:   cfg,
		logger:   logger,
	}
	if cfg.DisableRedaction {
		logger.Warn("Chat redaction disabled")
	} else {
		s.scanner = NewPatternScanner(cfg.ScanTimeoutMs)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limiter returns the inbound limiter so its sweeper can be started.
func (s *Service) Limiter() *limiter.Limiter {
	return s.limiter
}

// HandleInbound stores a customer message and produces the reply for it.
//
// The user message is always persisted. While a human has joined, no reply
// is generated. An explicit request for a person reserves the handoff with a
// conditional status update before the agent runs, so a duplicate request
// arriving meanwhile gets HandoffPendingAck instead of a second pipeline run.
func (s *Service) HandleInbound(ctx context.Context, req *InboundRequest) (*InboundResult, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, fmt.Errorf("%w: empty tenant id", agent.ErrUnknownTenant)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}
	ctx = logx.WithTenant(ctx, req.TenantID)

	text, redacted := s.prepareText(ctx, req.Text)

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = logx.WithConversation(ctx, conv.ID)

	userMsg := &proto.Message{TenantID: conv.TenantID, ConversationID: conv.ID, Role: proto.RoleUser, Content: text}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	res := &InboundResult{
		ConversationID: conv.ID,
		UserMessageID:  userMsg.ID,
		Status:         conv.Status,
		Redacted:       redacted,
	}

	if conv.Status == proto.StatusHumanJoined {
		logx.Debug(ctx, "chat", "human joined, reply suppressed")
		return s.finish(res, conv, pipelineNone, OutcomeSuppressed), nil
	}

	if err := s.limiter.Allow(req.TenantID + "/" + conv.ID); err != nil {
		s.logger.Warn("conversation %s throttled: %v", conv.ID, err)
		res.Reply = ThrottleReply
		return s.finish(res, conv, pipelineNone, OutcomeThrottled), nil
	}

	if !s.billingActive(ctx, req.TenantID) {
		if err := s.reply(ctx, res, conv, billing.UnavailableReply); err != nil {
			return nil, err
		}
		return s.finish(res, conv, pipelineNone, OutcomeBillingInactive), nil
	}

	reserved := false
	if conversation.IsHandoffRequest(text) {
		switch conv.Status {
		case proto.StatusHandoffRequested:
			return s.ack(ctx, res, conv)
		case proto.StatusOpen:
			_, err := s.machine.ApplyTo(ctx, conv, conversation.EventRequestHandoff)
			switch {
			case errors.Is(err, conversation.ErrConcurrentTransition):
				// Someone else moved the conversation first; answer for where it is now.
				latest, gerr := s.store.GetConversation(ctx, conv.TenantID, conv.ID)
				if gerr != nil {
					return nil, gerr
				}
				conv = latest
				switch conv.Status {
				case proto.StatusHumanJoined:
					logx.Debug(ctx, "chat", "human joined during handoff request, reply suppressed")
					return s.finish(res, conv, pipelineNone, OutcomeSuppressed), nil
				case proto.StatusHandoffRequested:
					return s.ack(ctx, res, conv)
				}
			case err != nil:
				return nil, err
			default:
				reserved = true
			}
		}
	}

	msgs, err := s.store.ListMessages(ctx, conv.TenantID, conv.ID, s.config.HistoryLimit)
	if err != nil {
		return nil, err
	}
	out, err := s.agent.RunConfiguredAgent(ctx, conv.TenantID, proto.Turns(msgs), agent.Options{
		UserID:         req.UserID,
		ConversationID: conv.ID,
	})
	if err != nil {
		return nil, err
	}

	if out.RequestHandoff && !reserved && conv.Status == proto.StatusOpen {
		if _, err := s.machine.ApplyTo(ctx, conv, conversation.EventRequestHandoff); err != nil {
			s.logger.Warn("agent handoff for %s not applied: %v", conv.ID, err)
			if latest, gerr := s.store.GetConversation(ctx, conv.TenantID, conv.ID); gerr == nil {
				conv = latest
			}
		}
	}
	res.RequestHandoff = out.RequestHandoff || reserved

	if err := s.reply(ctx, res, conv, out.Text); err != nil {
		return nil, err
	}
	outcome := OutcomeReplied
	if out.Degraded {
		outcome = OutcomeFallback
	}
	return s.finish(res, conv, string(out.Pipeline), outcome), nil
}

func (s *Service) ack(ctx context.Context, res *InboundResult, conv *proto.Conversation) (*InboundResult, error) {
	logx.Debug(ctx, "chat", "handoff already requested, acknowledging")
	if err := s.reply(ctx, res, conv, HandoffPendingAck); err != nil {
		return nil, err
	}
	return s.finish(res, conv, pipelineNone, OutcomeHandoffAck), nil
}

func (s *Service) reply(ctx context.Context, res *InboundResult, conv *proto.Conversation, text string) error {
	m := &proto.Message{TenantID: conv.TenantID, ConversationID: conv.ID, Role: proto.RoleAssistant, Content: text}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return err
	}
	res.AssistantMessageID = m.ID
	res.Reply = text
	return nil
}

func (s *Service) finish(res *InboundResult, conv *proto.Conversation, pipeline, outcome string) *InboundResult {
	res.Status = conv.Status
	res.Outcome = outcome
	s.recorder.IncTurn(conv.TenantID, pipeline, outcome)
	return res
}

// prepareText truncates and redacts inbound text. Scanner failures keep the
// original text.
func (s *Service) prepareText(ctx context.Context, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > s.config.MaxMessageChars {
		keep := max(s.config.MaxMessageChars-len([]rune(TruncationSuffix)), 0)
		text = string(r[:keep]) + TruncationSuffix
		logx.Debug(ctx, "chat", "truncated inbound message from %d runes", len(r))
	}
	if s.scanner == nil {
		return text, false
	}
	redacted, had, err := RedactSecrets(ctx, s.scanner, text)
	if err != nil {
		s.logger.Error("Secret scanner failed: %v (using original text)", err)
		return text, false
	}
	if had {
		logx.Debug(ctx, "chat", "sensitive data redacted from inbound message")
	}
	return redacted, had
}

func (s *Service) resolveConversation(ctx context.Context, req *InboundRequest) (*proto.Conversation, error) {
	if req.ConversationID != "" {
		return s.store.GetConversation(ctx, req.TenantID, req.ConversationID)
	}
	if req.ExternalID != "" {
		conv, err := s.store.FindConversationByExternalID(ctx, req.TenantID, req.Channel, req.ExternalID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return nil, err
		}
	}
	conv := &proto.Conversation{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		ExternalID: req.ExternalID,
		Channel:    req.Channel,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("conversation %s created for tenant %s", conv.ID, conv.TenantID)
	return conv, nil
}

// billingActive fails open when the oracle errors.
func (s *Service) billingActive(ctx context.Context, tenantID string) bool {
	if s.billing == nil {
		return true
	}
	active, err := s.billing.Active(ctx, tenantID)
	if err != nil {
		s.logger.Warn("billing status unavailable for %s, allowing reply: %v", tenantID, err)
		return true
	}
	return active
}

// Join marks that a human has taken over the conversation.
func (s *Service) Join(ctx context.Context, tenantID, conversationID string) (*conversation.Transition, error) {
	return s.machine.Apply(ctx, tenantID, conversationID, conversation.EventHumanJoin)
}

// Return hands the conversation back to the agent. When a human had joined,
// the returned transition carries the background learning task.
func (s *Service) Return(ctx context.Context, tenantID, conversationID string) (*conversation.Transition, error) {
	return s.machine.Apply(ctx, tenantID, conversationID, conversation.EventReturnToAgent)
}

// PostHumanMessage stores a staff reply in a conversation a human has joined.
func (s *Service) PostHumanMessage(ctx context.Context, tenantID, conversationID, text string) (*proto.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != proto.StatusHumanJoined {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotJoined, conv.ID, conv.Status)
	}
	m := &proto.Message{TenantID: tenantID, ConversationID: conv.ID, Role: proto.RoleHumanAgent, Content: strings.TrimSpace(text)}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
