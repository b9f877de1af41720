package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

func newStore(t *testing.T) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newConversation(t *testing.T, s *persistence.Store) *proto.Conversation {
	t.Helper()
	c := &proto.Conversation{TenantID: "t1", UserID: "u1", Channel: "web"}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

func TestIsHandoffRequest(t *testing.T) {
	positives := []string{
		"I want to talk to a human",
		"Can I speak with a real person?",
		"connect me to an agent please",
		"Let me chat with someone from the care team",
		"transfer me to a representative",
		"Please put me through to a person",
		"I need a human",
		"Could I get a live agent",
		"human please",
		"Agent!",
		"escalate this",
		"I'd like to speak to a member of your care team",
	}
	for _, p := range positives {
		assert.True(t, IsHandoffRequest(p), p)
	}

	negatives := []string{
		"",
		"What are your hours?",
		"I talked to my insurance agent yesterday",
		"I need to talk to my doctor about test results",
		"Is this a human?",
		"Can you connect me with a dentist",
		"I want a refund",
	}
	for _, n := range negatives {
		assert.False(t, IsHandoffRequest(n), n)
	}
}

func TestTransitionTable(t *testing.T) {
	to, ok := ValidTransitions.Next(proto.StatusOpen, EventRequestHandoff)
	assert.True(t, ok)
	assert.Equal(t, proto.StatusHandoffRequested, to)

	_, ok = ValidTransitions.Next(proto.StatusOpen, EventHumanJoin)
	assert.False(t, ok)
	_, ok = ValidTransitions.Next(proto.StatusHumanJoined, EventRequestHandoff)
	assert.False(t, ok)
}

func TestFullLifecycleRunsReturnHook(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	ctx := context.Background()

	var hookCalls atomic.Int32
	m := NewMachine(store, WithReturnHook(func(_ context.Context, c *proto.Conversation) error {
		hookCalls.Add(1)
		assert.Equal(t, proto.StatusOpen, c.Status)
		return nil
	}))

	tr, err := m.Apply(ctx, "t1", conv.ID, EventRequestHandoff)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusHandoffRequested, tr.To)
	assert.Nil(t, tr.Task)

	_, err = m.Apply(ctx, "t1", conv.ID, EventRequestHandoff)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Apply(ctx, "t1", conv.ID, EventHumanJoin)
	require.NoError(t, err)

	got, err := store.GetConversation(ctx, "t1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusHumanJoined, got.Status)
	assert.NotNil(t, got.HumanJoinedAt)

	tr, err = m.Apply(ctx, "t1", conv.ID, EventReturnToAgent)
	require.NoError(t, err)
	require.NotNil(t, tr.Task)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Task.Wait(waitCtx))
	assert.Equal(t, int32(1), hookCalls.Load())

	got, err = store.GetConversation(ctx, "t1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, got.Status)
	assert.Nil(t, got.HandoffRequestedAt)
}

func TestReturnHookFailureDoesNotFailTransition(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	ctx := context.Background()

	hookErr := errors.New("extraction failed")
	m := NewMachine(store, WithReturnHook(func(context.Context, *proto.Conversation) error {
		return hookErr
	}))
	_, err := m.Apply(ctx, "t1", conv.ID, EventRequestHandoff)
	require.NoError(t, err)
	_, err = m.Apply(ctx, "t1", conv.ID, EventHumanJoin)
	require.NoError(t, err)

	tr, err := m.Apply(ctx, "t1", conv.ID, EventReturnToAgent)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, tr.Task.Wait(waitCtx), hookErr)
}

func TestReturnWithoutJoinSkipsHook(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	ctx := context.Background()

	m := NewMachine(store, WithReturnHook(func(context.Context, *proto.Conversation) error {
		t.Error("hook must not run when no human joined")
		return nil
	}))
	_, err := m.Apply(ctx, "t1", conv.ID, EventRequestHandoff)
	require.NoError(t, err)
	tr, err := m.Apply(ctx, "t1", conv.ID, EventReturnToAgent)
	require.NoError(t, err)
	assert.Nil(t, tr.Task)
}

func TestConcurrentHandoffRequestsHaveOneWinner(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	m := NewMachine(store)

	const n = 8
	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		conflict atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c := *conv
			_, err := m.ApplyTo(context.Background(), &c, EventRequestHandoff)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrConcurrentTransition):
				conflict.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(n-1), conflict.Load())
}

func TestApplyOtherTenantIsNotFound(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	_, err := NewMachine(store).Apply(context.Background(), "t2", conv.ID, EventRequestHandoff)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
