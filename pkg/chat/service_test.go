package chat_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/agent"
	"github.com/vortexion256/caremax-sub002/pkg/billing"
	"github.com/vortexion256/caremax-sub002/pkg/chat"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/conversation"
	"github.com/vortexion256/caremax-sub002/pkg/dispatch"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// fakeAgent answers every turn with reply and records the histories it saw.
type fakeAgent struct {
	mu        sync.Mutex
	calls     atomic.Int32
	reply     agent.Reply
	err       error
	histories [][]proto.ChatTurn
}

func (f *fakeAgent) RunConfiguredAgent(_ context.Context, _ string, history []proto.ChatTurn, _ agent.Options) (agent.Reply, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.histories = append(f.histories, history)
	f.mu.Unlock()
	if f.err != nil {
		return agent.Reply{}, f.err
	}
	return f.reply, nil
}

type fixture struct {
	store   *persistence.Store
	agent   *fakeAgent
	service *chat.Service
}

func newFixture(t *testing.T, cfg config.ChatConfig, opts ...chat.Option) *fixture {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a := &fakeAgent{reply: agent.Reply{Text: "We're open 9 to 5.", Pipeline: dispatch.V1}}
	svc := chat.NewService(store, a, conversation.NewMachine(store), cfg, opts...)
	return &fixture{store: store, agent: a, service: svc}
}

func (f *fixture) send(t *testing.T, convID, text string) *chat.InboundResult {
	t.Helper()
	res, err := f.service.HandleInbound(context.Background(), &chat.InboundRequest{
		TenantID:       "t1",
		ConversationID: convID,
		UserID:         "u1",
		Text:           text,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) messages(t *testing.T, convID string) []proto.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), "t1", convID, 0)
	require.NoError(t, err)
	return msgs
}

func TestHandleInboundReplies(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})

	res := f.send(t, "", "What are your hours?")
	assert.NotEmpty(t, res.ConversationID)
	assert.NotEmpty(t, res.UserMessageID)
	assert.NotEmpty(t, res.AssistantMessageID)
	assert.Equal(t, "We're open 9 to 5.", res.Reply)
	assert.Equal(t, chat.OutcomeReplied, res.Outcome)
	assert.Equal(t, proto.StatusOpen, res.Status)
	assert.False(t, res.RequestHandoff)

	msgs := f.messages(t, res.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, proto.RoleUser, msgs[0].Role)
	assert.Equal(t, proto.RoleAssistant, msgs[1].Role)

	require.Len(t, f.agent.histories, 1)
	assert.Equal(t, []proto.ChatTurn{{Role: proto.RoleUser, Content: "What are your hours?"}}, f.agent.histories[0])
}

func TestHandoffReservedOnceThenAcknowledged(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.agent.reply = agent.Reply{Text: "Someone will be with you shortly.", Pipeline: dispatch.V1}

	first := f.send(t, "", "I want to talk to a human")
	assert.True(t, first.RequestHandoff)
	assert.Equal(t, proto.StatusHandoffRequested, first.Status)
	assert.Equal(t, chat.OutcomeReplied, first.Outcome)
	assert.EqualValues(t, 1, f.agent.calls.Load())

	second := f.send(t, first.ConversationID, "I want to talk to a human")
	assert.Equal(t, chat.HandoffPendingAck, second.Reply)
	assert.Equal(t, chat.OutcomeHandoffAck, second.Outcome)
	assert.Equal(t, proto.StatusHandoffRequested, second.Status)
	assert.NotEmpty(t, second.AssistantMessageID)
	assert.EqualValues(t, 1, f.agent.calls.Load(), "pipeline must not run for a repeated request")

	conv, err := f.store.GetConversation(context.Background(), "t1", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusHandoffRequested, conv.Status)
}

func TestRegularMessageWhileWaitingForHumanRunsPipeline(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	first := f.send(t, "", "connect me to an agent please")

	res := f.send(t, first.ConversationID, "Also, do you take insurance?")
	assert.Equal(t, chat.OutcomeReplied, res.Outcome)
	assert.Equal(t, proto.StatusHandoffRequested, res.Status)
	assert.EqualValues(t, 2, f.agent.calls.Load())
}

func TestConcurrentHandoffRequestsReserveOnce(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	start := f.send(t, "", "Hi")
	require.EqualValues(t, 1, f.agent.calls.Load())

	const senders = 6
	results := make([]*chat.InboundResult, senders)
	errs := make([]error, senders)
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.service.HandleInbound(context.Background(), &chat.InboundRequest{
				TenantID:       "t1",
				ConversationID: start.ConversationID,
				Text:           "I want to talk to a human",
			})
		}()
	}
	wg.Wait()

	replied, acked := 0, 0
	for i := range senders {
		require.NoError(t, errs[i])
		switch results[i].Outcome {
		case chat.OutcomeReplied:
			replied++
			assert.True(t, results[i].RequestHandoff)
		case chat.OutcomeHandoffAck:
			acked++
		}
	}
	assert.Equal(t, 1, replied)
	assert.Equal(t, senders-1, acked)
	assert.EqualValues(t, 2, f.agent.calls.Load())
}

func TestHumanJoinedSuppressesReplies(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	ctx := context.Background()

	first := f.send(t, "", "I want to talk to a human")
	_, err := f.service.Join(ctx, "t1", first.ConversationID)
	require.NoError(t, err)

	res := f.send(t, first.ConversationID, "Hello? Are you there?")
	assert.Empty(t, res.AssistantMessageID)
	assert.False(t, res.RequestHandoff)
	assert.Empty(t, res.Reply)
	assert.Equal(t, chat.OutcomeSuppressed, res.Outcome)
	assert.Equal(t, proto.StatusHumanJoined, res.Status)
	assert.EqualValues(t, 1, f.agent.calls.Load())

	msgs := f.messages(t, first.ConversationID)
	last := msgs[len(msgs)-1]
	assert.Equal(t, proto.RoleUser, last.Role)
	assert.Equal(t, "Hello? Are you there?", last.Content)

	staff, err := f.service.PostHumanMessage(ctx, "t1", first.ConversationID, "Hi, this is Sam from the front desk.")
	require.NoError(t, err)
	assert.Equal(t, proto.RoleHumanAgent, staff.Role)

	tr, err := f.service.Return(ctx, "t1", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, tr.To)

	_, err = f.service.PostHumanMessage(ctx, "t1", first.ConversationID, "still here")
	assert.ErrorIs(t, err, chat.ErrNotJoined)

	again := f.send(t, first.ConversationID, "Thanks!")
	assert.Equal(t, chat.OutcomeReplied, again.Outcome)
}

// joiningStore lets a human take over the conversation just before the
// service's own status update lands.
type joiningStore struct {
	*persistence.Store
	once sync.Once
}

func (j *joiningStore) UpdateStatus(ctx context.Context, tenantID, id string, from, to proto.ConversationStatus) (bool, error) {
	j.once.Do(func() {
		_, _ = j.Store.UpdateStatus(ctx, tenantID, id, proto.StatusOpen, proto.StatusHandoffRequested)
		_, _ = j.Store.UpdateStatus(ctx, tenantID, id, proto.StatusHandoffRequested, proto.StatusHumanJoined)
	})
	return j.Store.UpdateStatus(ctx, tenantID, id, from, to)
}

func TestHandoffRequestLosingToHumanJoinIsSuppressed(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	js := &joiningStore{Store: store}
	a := &fakeAgent{reply: agent.Reply{Text: "We're open 9 to 5.", Pipeline: dispatch.V1}}
	f := &fixture{store: store, agent: a, service: chat.NewService(js, a, conversation.NewMachine(js), config.ChatConfig{})}

	start := f.send(t, "", "Hi")
	res := f.send(t, start.ConversationID, "I want to talk to a human")

	assert.Equal(t, chat.OutcomeSuppressed, res.Outcome)
	assert.Equal(t, proto.StatusHumanJoined, res.Status)
	assert.Empty(t, res.AssistantMessageID)
	assert.Empty(t, res.Reply)
	assert.False(t, res.RequestHandoff)
	assert.EqualValues(t, 1, a.calls.Load())

	msgs := f.messages(t, start.ConversationID)
	last := msgs[len(msgs)-1]
	assert.Equal(t, proto.RoleUser, last.Role)
}

func TestAgentInitiatedHandoffUpdatesStatus(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.agent.reply = agent.Reply{Text: "A team member will follow up about your refund.", RequestHandoff: true, Pipeline: dispatch.V2}

	res := f.send(t, "", "I was charged twice and want my money back")
	assert.True(t, res.RequestHandoff)
	assert.Equal(t, proto.StatusHandoffRequested, res.Status)
}

func TestThrottledConversation(t *testing.T) {
	f := newFixture(t, config.ChatConfig{RateLimitCount: 1, RateLimitWindow: time.Minute})

	first := f.send(t, "", "Hi")
	second := f.send(t, first.ConversationID, "Hi again")
	assert.Equal(t, chat.ThrottleReply, second.Reply)
	assert.Equal(t, chat.OutcomeThrottled, second.Outcome)
	assert.Empty(t, second.AssistantMessageID)
	assert.EqualValues(t, 1, f.agent.calls.Load())
	assert.Len(t, f.messages(t, first.ConversationID), 3)

	other := f.send(t, "", "Hello from another chat")
	assert.Equal(t, chat.OutcomeReplied, other.Outcome)
}

func TestInactiveBillingSkipsAgent(t *testing.T) {
	oracle := billing.NewStatic(true)
	oracle.Set("t1", false)
	f := newFixture(t, config.ChatConfig{}, chat.WithBilling(oracle))

	res := f.send(t, "", "Can I book for tomorrow?")
	assert.Equal(t, billing.UnavailableReply, res.Reply)
	assert.Equal(t, chat.OutcomeBillingInactive, res.Outcome)
	assert.NotEmpty(t, res.AssistantMessageID)
	assert.Zero(t, f.agent.calls.Load())
}

func TestInboundRedactionAndTruncation(t *testing.T) {
	f := newFixture(t, config.ChatConfig{MaxMessageChars: 60})

	res := f.send(t, "", "card 4111 1111 1111 1111 cvv 123")
	assert.True(t, res.Redacted)
	msgs := f.messages(t, res.ConversationID)
	assert.NotContains(t, msgs[0].Content, "4111")
	assert.NotContains(t, msgs[0].Content, "123")
	assert.Contains(t, msgs[0].Content, chat.RedactionMark)
	assert.NotContains(t, f.agent.histories[0][0].Content, "4111")

	long := f.send(t, res.ConversationID, strings.Repeat("a", 200))
	msgs = f.messages(t, long.ConversationID)
	stored := msgs[len(msgs)-2].Content
	assert.Len(t, []rune(stored), 60)
	assert.True(t, strings.HasSuffix(stored, chat.TruncationSuffix))
}

func TestRedactionCanBeDisabled(t *testing.T) {
	f := newFixture(t, config.ChatConfig{DisableRedaction: true})
	res := f.send(t, "", "my password is hunter2")
	assert.False(t, res.Redacted)
	assert.Equal(t, "my password is hunter2", f.messages(t, res.ConversationID)[0].Content)
}

func TestConversationResolvedByExternalID(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	req := &chat.InboundRequest{TenantID: "t1", ExternalID: "+15550001", Channel: "whatsapp", Text: "Hi"}

	first, err := f.service.HandleInbound(context.Background(), req)
	require.NoError(t, err)
	second, err := f.service.HandleInbound(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	other, err := f.service.HandleInbound(context.Background(), &chat.InboundRequest{
		TenantID: "t2", ExternalID: "+15550001", Channel: "whatsapp", Text: "Hi",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ConversationID, other.ConversationID)
}

func TestHandleInboundRejectsBadInput(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	ctx := context.Background()

	_, err := f.service.HandleInbound(ctx, &chat.InboundRequest{TenantID: "t1", Text: "   "})
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, err = f.service.HandleInbound(ctx, &chat.InboundRequest{Text: "hi"})
	assert.ErrorIs(t, err, agent.ErrUnknownTenant)

	_, err = f.service.HandleInbound(ctx, &chat.InboundRequest{TenantID: "t1", ConversationID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	start := f.send(t, "", "Hi")
	_, err = f.service.HandleInbound(ctx, &chat.InboundRequest{TenantID: "t2", ConversationID: start.ConversationID, Text: "hi"})
	assert.ErrorIs(t, err, persistence.ErrNotFound, "conversations of another tenant are not visible")
}

func TestAgentErrorIsReturned(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.agent.err = fmt.Errorf("%w: t1", agent.ErrUnknownTenant)

	_, err := f.service.HandleInbound(context.Background(), &chat.InboundRequest{TenantID: "t1", Text: "hi"})
	assert.ErrorIs(t, err, agent.ErrUnknownTenant)
}

func TestFallbackReplyCountsAsFallback(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.agent.reply = agent.Reply{Text: agent.SafeReply, Pipeline: dispatch.V1, Degraded: true}

	res := f.send(t, "", "Hi")
	assert.Equal(t, chat.OutcomeFallback, res.Outcome)
	assert.Equal(t, agent.SafeReply, res.Reply)
}
