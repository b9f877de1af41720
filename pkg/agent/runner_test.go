package agent_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/internal/mocks"
	"github.com/vortexion256/caremax-sub002/pkg/agent"
	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/toolloop"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/dispatch"
	"github.com/vortexion256/caremax-sub002/pkg/memory"
	"github.com/vortexion256/caremax-sub002/pkg/notes"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/plan"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

type staticClients struct {
	client llm.LLMClient
	err    error
}

func (s staticClients) ClientFor(string) (llm.LLMClient, error) {
	return s.client, s.err
}

type fixture struct {
	store  *persistence.Store
	sheets *tools.MemorySheets
	client *mocks.MockLLMClient
	runner *agent.Runner
	conv   *proto.Conversation
}

func newFixture(t *testing.T, settings *proto.TenantSettings) *fixture {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.UpsertTenantSettings(ctx, settings))
	conv := &proto.Conversation{TenantID: settings.TenantID, UserID: "u1"}
	require.NoError(t, store.CreateConversation(ctx, conv))

	cfg := *config.Default()
	f := &fixture{store: store, sheets: tools.NewMemorySheets(), client: mocks.NewMockLLMClient(), conv: conv}
	f.runner, err = agent.NewRunner(cfg, agent.Deps{
		Settings: store,
		Clients:  staticClients{client: f.client},
		Memory:   memory.NewBuilder(store, store, store, cfg.Agent),
		ExecLogs: store,
		Plans:    plan.NewStore(store),
		Tools: agent.ToolBackends{
			Sheets:       f.sheets,
			BookingRange: cfg.Tools.Sheets.BookingRange,
			QueryRange:   cfg.Tools.Sheets.QueryRange,
			Notes:        notes.NewService(store, cfg.Agent),
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, text string) agent.Reply {
	t.Helper()
	reply, err := f.runner.RunConfiguredAgent(context.Background(), f.conv.TenantID,
		[]proto.ChatTurn{{Role: proto.RoleUser, Content: text}},
		agent.Options{UserID: "u1", ConversationID: f.conv.ID})
	require.NoError(t, err)
	return reply
}

func TestRunV1ExecutesToolsAndLogs(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{
		TenantID: "clinic", AgentName: "Ava", EnabledFeatures: []string{proto.FeatureNotes},
	})
	f.client.RespondWithSequence([]llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "n1", Name: tools.ToolCreateNote, Parameters: map[string]any{
			"category": "insights", "content": "Customer prefers morning appointments.",
		}}}},
		{Content: "Noted, I'll remember you prefer mornings."},
	})

	reply := f.run(t, "Please remember I prefer mornings")
	assert.Equal(t, "Noted, I'll remember you prefer mornings.", reply.Text)
	assert.Equal(t, dispatch.V1, reply.Pipeline)
	assert.False(t, reply.RequestHandoff)
	assert.False(t, reply.Degraded)

	ctx := context.Background()
	saved, err := f.store.ListNotes(ctx, "clinic", persistence.NoteFilter{ConversationID: f.conv.ID})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Customer prefers morning appointments.", saved[0].Content)

	logs, err := f.store.RecentExecutionLogs(ctx, "clinic", f.conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, tools.ToolCreateNote, logs[0].ToolName)
	assert.True(t, logs[0].Success)

	first := f.client.CompleteCalls[0]
	require.NotEmpty(t, first.Messages)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "You are Ava")
	assert.Contains(t, first.Messages[0].Content, toolloop.HandoffMarker)
	require.Len(t, first.Tools, 1, "only enabled features are bound")
	assert.Equal(t, tools.ToolCreateNote, first.Tools[0].Name)
}

func TestRunHandoffMarker(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{TenantID: "clinic"})
	f.client.RespondWith("I'm sorry about that, a team member will follow up. " + toolloop.HandoffMarker)

	reply := f.run(t, "I want a refund for last week's visit")
	assert.True(t, reply.RequestHandoff)
	assert.Equal(t, "I'm sorry about that, a team member will follow up.", reply.Text)
}

func TestRunReturnsSafeReplyOnFailure(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{TenantID: "clinic"})
	f.client.FailCompleteWith(errors.New("provider down"))

	reply := f.run(t, "What are your hours?")
	assert.Equal(t, agent.SafeReply, reply.Text)
	assert.True(t, reply.Degraded)
	assert.False(t, reply.RequestHandoff)
}

func TestRunWithoutModelClientReturnsSafeReply(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.UpsertTenantSettings(context.Background(), &proto.TenantSettings{TenantID: "clinic"}))

	runner, err := agent.NewRunner(*config.Default(), agent.Deps{
		Settings: store,
		Clients:  staticClients{err: errors.New("no API key")},
	})
	require.NoError(t, err)
	reply, err := runner.RunConfiguredAgent(context.Background(), "clinic",
		[]proto.ChatTurn{{Role: proto.RoleUser, Content: "hello"}}, agent.Options{})
	require.NoError(t, err)
	assert.Equal(t, agent.SafeReply, reply.Text)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{TenantID: "clinic"})
	ctx := context.Background()

	_, err := f.runner.RunConfiguredAgent(ctx, "other", []proto.ChatTurn{{Role: proto.RoleUser, Content: "hi"}}, agent.Options{})
	assert.ErrorIs(t, err, agent.ErrUnknownTenant)

	_, err = f.runner.RunConfiguredAgent(ctx, "clinic", []proto.ChatTurn{{Role: proto.RoleAssistant, Content: "hi"}}, agent.Options{})
	assert.ErrorIs(t, err, agent.ErrNoUserMessage)
	assert.Empty(t, f.client.CompleteCalls)
}

// scriptedV2 answers the structured calls by tool name and plays loop
// responses in order.
func scriptedV2(client *mocks.MockLLMClient, structured map[string]map[string]any, loop []llm.CompletionResponse) {
	var (
		mu sync.Mutex
		n  int
	)
	client.OnComplete(func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		if req.ToolChoice == llm.ToolChoiceAny && len(req.Tools) == 1 {
			if params, ok := structured[req.Tools[0].Name]; ok {
				return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "s", Name: req.Tools[0].Name, Parameters: params}}}, nil
			}
			return llm.CompletionResponse{}, errors.New("unexpected structured call " + req.Tools[0].Name)
		}
		mu.Lock()
		defer mu.Unlock()
		resp := loop[min(n, len(loop)-1)]
		n++
		return resp, nil
	})
}

func TestRunV2BooksAndCompletesPlan(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{
		TenantID:        "clinic",
		PipelineVersion: "v2",
		SheetID:         "sheet-1",
		EnabledFeatures: []string{proto.FeatureSheets, proto.FeatureBooking},
	})
	scriptedV2(f.client, map[string]map[string]any{
		"classify_intent": {
			"intent": "book_appointment", "confidence": 0.92,
			"requires_tools": true, "suggested_tools": []any{"append_booking"},
		},
		"decompose_question": {"is_complex": false, "sub_questions": []any{}},
		"create_execution_plan": {"steps": []any{
			map[string]any{"action": "book", "description": "Record the booking", "tool_to_use": "append_booking"},
			map[string]any{"action": "respond", "description": "Confirm the booking to the customer"},
		}},
	}, []llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "b1", Name: tools.ToolAppendBooking, Parameters: map[string]any{
			"patient_name": "Maria Lopez", "phone": "+1 555 123 4567", "date": "2026-11-02", "time": "10:00",
		}}}},
		{Content: "You're booked for November 2 at 10:00."},
	})

	reply := f.run(t, "I'm Maria Lopez, +1 555 123 4567. Please book me on 2026-11-02 at 10:00.")
	assert.Equal(t, dispatch.V2, reply.Pipeline)
	assert.Equal(t, "You're booked for November 2 at 10:00.", reply.Text)

	ctx := context.Background()
	rows, err := f.sheets.ReadRows(ctx, "sheet-1", config.Default().Tools.Sheets.BookingRange)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Maria Lopez", rows[0][0])

	logs, err := f.store.RecentExecutionLogs(ctx, "clinic", f.conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Verified)
	assert.True(t, *logs[0].Verified)

	history, err := f.store.ListPlans(ctx, "clinic", f.conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, proto.PlanSuperseded, history[0].Status)
	assert.Equal(t, proto.PlanCompleted, history[1].Status)

	active, err := plan.NewStore(f.store).Active(ctx, "clinic", f.conv.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRunV2HumanRequest(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{TenantID: "clinic", PipelineVersion: "v2"})
	scriptedV2(f.client, map[string]map[string]any{
		"classify_intent": {"intent": "request_human", "confidence": 0.97},
	}, []llm.CompletionResponse{{Content: "unused"}})

	reply := f.run(t, "can a real person look at my bill")
	assert.True(t, reply.RequestHandoff)
	assert.Equal(t, agent.HandoffAck, reply.Text)
	assert.Equal(t, 1, f.client.GetCompleteCallCount())
}

func TestRunV2AnswersEachSubQuestion(t *testing.T) {
	f := newFixture(t, &proto.TenantSettings{TenantID: "clinic", PipelineVersion: "v2"})
	f.client.OnComplete(func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		if req.ToolChoice == llm.ToolChoiceAny {
			return llm.CompletionResponse{}, errors.New("structured calls unavailable")
		}
		return llm.CompletionResponse{Content: "We open at 8 and accept most insurance."}, nil
	})

	reply := f.run(t, "What are your hours and do you take insurance?")
	assert.Equal(t, "We open at 8 and accept most insurance.", reply.Text)

	system := f.client.LastCompleteCall().Messages[0].Content
	assert.Contains(t, system, "1. What are your hours?")
	assert.Contains(t, system, "2. do you take insurance?")
}

func TestStepResults(t *testing.T) {
	p := &proto.ExecutionPlan{Steps: []proto.PlanStep{
		{StepNumber: 1, ToolToUse: tools.ToolSheetQuery, Status: proto.StepCompleted},
		{StepNumber: 2, ToolToUse: tools.ToolAppendBooking, Status: proto.StepPending},
		{StepNumber: 3, Action: plan.ActionRespond, Status: proto.StepPending},
	}}

	got := agent.StepResults(p, []string{tools.ToolAppendBooking}, true)
	assert.Equal(t, []plan.StepResult{{StepNumber: 2, Success: true}, {StepNumber: 3, Success: true}}, got)

	assert.Empty(t, agent.StepResults(p, []string{tools.ToolSheetQuery}, true), "already completed steps are not credited again")
	assert.Empty(t, agent.StepResults(p, nil, true), "the walk stops at the open booking step")

	got = agent.StepResults(p, []string{tools.ToolAppendBooking}, false)
	assert.Equal(t, []plan.StepResult{{StepNumber: 2, Success: true}}, got)
}
