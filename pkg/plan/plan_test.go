package plan

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/internal/mocks"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

func threeStepPlan() *proto.ExecutionPlan {
	return &proto.ExecutionPlan{
		ID:      "p1",
		Request: "check friday, book it and text me",
		Steps: []proto.PlanStep{
			{StepNumber: 1, Action: "check_availability", Description: "Check Friday slots", ToolToUse: tools.ToolSheetQuery, Status: proto.StepPending},
			{StepNumber: 2, Action: "book", Description: "Book the slot", ToolToUse: tools.ToolAppendBooking, Status: proto.StepPending},
			{StepNumber: 3, Action: "notify", Description: "Send a confirmation", ToolToUse: tools.ToolSendWhatsApp, Status: proto.StepPending},
		},
		CurrentStep: 1,
		Status:      proto.PlanReady,
	}
}

func TestTrackProgressNextStep(t *testing.T) {
	p := threeStepPlan()
	prog := TrackProgress(p, []StepResult{{StepNumber: 1, Success: true}, {StepNumber: 2, Success: true}})

	assert.Equal(t, 3, prog.NextStep)
	assert.False(t, prog.AllStepsCompleted)
	require.NotNil(t, prog.Plan)
	assert.Empty(t, prog.Plan.ID)
	assert.Equal(t, proto.PlanExecuting, prog.Plan.Status)
	assert.Equal(t, 3, prog.Plan.CurrentStep)
	assert.Equal(t, proto.StepCompleted, prog.Plan.Steps[0].Status)
	assert.Equal(t, proto.StepCompleted, prog.Plan.Steps[1].Status)
	assert.Equal(t, proto.StepInProgress, prog.Plan.Steps[2].Status)
	assert.Contains(t, prog.Guidance, "Step 3 of 3")
	assert.Contains(t, prog.Guidance, tools.ToolSendWhatsApp)

	// The input revision is untouched.
	assert.Equal(t, proto.StepPending, p.Steps[0].Status)
	assert.Equal(t, "p1", p.ID)
}

func TestTrackProgressAllDone(t *testing.T) {
	prog := TrackProgress(threeStepPlan(), []StepResult{
		{StepNumber: 1, Success: true}, {StepNumber: 2, Success: true}, {StepNumber: 3, Success: true},
	})
	assert.True(t, prog.AllStepsCompleted)
	assert.Equal(t, 4, prog.NextStep)
	assert.Equal(t, proto.PlanCompleted, prog.Plan.Status)
}

func TestTrackProgressIgnoresFailuresAndNeverRegresses(t *testing.T) {
	p := threeStepPlan()
	p.Steps[0].Status = proto.StepCompleted
	prog := TrackProgress(p, []StepResult{{StepNumber: 2, Success: false}, {StepNumber: 9, Success: true}})
	assert.Equal(t, 2, prog.NextStep)
	// Step 1 was completed in an earlier revision and stays completed even
	// though it is not reported again.
	assert.Equal(t, proto.StepCompleted, prog.Plan.Steps[0].Status)
}

func TestTrackProgressNeedsInfo(t *testing.T) {
	p := threeStepPlan()
	p.Steps[1].NeedsUserInput = true
	p.Steps[1].UserPrompt = "Which time works for you?"
	prog := TrackProgress(p, []StepResult{{StepNumber: 1, Success: true}})
	assert.Equal(t, proto.PlanNeedsInfo, prog.Plan.Status)
	assert.Contains(t, prog.Guidance, "Which time works for you?")
}

func TestTrackProgressOddStepNumbers(t *testing.T) {
	p := &proto.ExecutionPlan{Steps: []proto.PlanStep{
		{StepNumber: 0, Description: "Greet", Status: proto.StepPending},
		{StepNumber: 1, Description: "Check slots", Status: proto.StepPending},
		{StepNumber: 5, Description: "Book", Status: proto.StepCompleted},
	}}
	var prog Progress
	require.NotPanics(t, func() { prog = TrackProgress(p, nil) })
	assert.Equal(t, 1, prog.NextStep)
	assert.False(t, prog.AllStepsCompleted)
	for i, st := range prog.Plan.Steps {
		assert.Equal(t, i+1, st.StepNumber)
	}
	assert.Equal(t, proto.StepInProgress, prog.Plan.Steps[0].Status)
	assert.Equal(t, proto.StepCompleted, prog.Plan.Steps[2].Status)
	assert.Equal(t, 5, p.Steps[2].StepNumber, "input plan is not renumbered")

	// Steps 2..4 with the last one done: the first gap is the old step 2.
	p = &proto.ExecutionPlan{Steps: []proto.PlanStep{
		{StepNumber: 2, Description: "Check slots", Status: proto.StepPending},
		{StepNumber: 3, Description: "Book", Status: proto.StepPending},
		{StepNumber: 4, Description: "Notify", Status: proto.StepCompleted},
	}}
	prog = TrackProgress(p, []StepResult{{StepNumber: 3, Success: true}, {StepNumber: 7, Success: true}})
	assert.Equal(t, 1, prog.NextStep)
	assert.Equal(t, proto.StepInProgress, prog.Plan.Steps[0].Status)
	assert.Equal(t, proto.StepCompleted, prog.Plan.Steps[1].Status)
	assert.Contains(t, prog.Guidance, "Step 1 of 3: Check slots")

	prog = TrackProgress(p, []StepResult{{StepNumber: 2, Success: true}, {StepNumber: 3, Success: true}})
	assert.True(t, prog.AllStepsCompleted)
}

func TestTrackProgressNilPlan(t *testing.T) {
	assert.NotPanics(t, func() { TrackProgress(nil, nil) })
}

func TestAnalyzeAndPlanFromModel(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithToolCall(planToolName, map[string]any{
		"steps": []any{
			map[string]any{"action": "check_availability", "description": "Find Friday slots", "tool_to_use": "sheet_query"},
			map[string]any{"action": "book", "description": "Book it", "tool_to_use": "append_booking"},
			map[string]any{"action": "notify", "description": "Text the customer", "tool_to_use": "send_whatsapp"},
		},
		"missing_info": []any{"name"},
	})
	s := NewSupervisor(client)
	p := s.AnalyzeAndPlan(context.Background(), "Book Friday and text me",
		[]string{tools.ToolSheetQuery, tools.ToolAppendBooking}, nil)

	require.Len(t, p.Steps, 3)
	for i, st := range p.Steps {
		assert.Equal(t, i+1, st.StepNumber)
		assert.Equal(t, proto.StepPending, st.Status)
	}
	assert.Equal(t, tools.ToolSheetQuery, p.Steps[0].ToolToUse)
	assert.Empty(t, p.Steps[2].ToolToUse, "unavailable tool is cleared")
	assert.Equal(t, proto.PlanNeedsInfo, p.Status)
	assert.Equal(t, []string{"name"}, p.MissingInfo)
}

func TestAnalyzeAndPlanFallback(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.FailCompleteWith(errors.New("down"))
	s := NewSupervisor(client)
	all := append([]string(nil), tools.KnownTools...)

	tests := []struct {
		request string
		tool    string
	}{
		{"I'd like to book a cleaning", tools.ToolAppendBooking},
		{"Any slots free on Monday", tools.ToolSheetQuery},
		{"What does whitening cost?", tools.ToolSearchKnowledge},
		{"thanks a lot", ""},
	}
	for _, tt := range tests {
		p := s.AnalyzeAndPlan(context.Background(), tt.request, all, nil)
		require.NotNil(t, p, tt.request)
		require.Len(t, p.Steps, 1, tt.request)
		assert.Equal(t, tt.tool, p.Steps[0].ToolToUse, tt.request)
		assert.Equal(t, 1, p.Steps[0].StepNumber)
		assert.Equal(t, proto.PlanReady, p.Status)
	}

	p := NewSupervisor(nil).AnalyzeAndPlan(context.Background(), "book me in", nil, nil)
	require.Len(t, p.Steps, 1)
	assert.Empty(t, p.Steps[0].ToolToUse)
}

func TestCheckMissingInfo(t *testing.T) {
	turns := []proto.ChatTurn{
		{Role: proto.RoleUser, Content: "Hi, I'd like a cleaning next Tuesday"},
		{Role: proto.RoleAssistant, Content: "Sure, what is your name and phone number?"},
		{Role: proto.RoleUser, Content: "My name is Jo Bloggs"},
	}
	mi := CheckMissingInfo([]string{"name", "phone_number", "preferred_date", "service"}, turns)
	assert.Equal(t, []string{"phone_number"}, mi.MissingFields)
	assert.Equal(t, "To continue, could you please share a phone number?", mi.Prompt)

	mi = CheckMissingInfo([]string{"email", "time", "insurance_provider"}, turns)
	assert.Equal(t, []string{"email", "time", "insurance_provider"}, mi.MissingFields)
	assert.Equal(t, "To continue, could you please share an email address, the preferred time and your insurance provider?", mi.Prompt)

	mi = CheckMissingInfo(nil, turns)
	assert.Empty(t, mi.MissingFields)
	assert.Empty(t, mi.Prompt)
}

func TestStoreAdvanceSupersedes(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	s := NewStore(db)

	none, err := s.Active(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Nil(t, none)

	p := threeStepPlan()
	p.ID = ""
	require.NoError(t, s.Save(ctx, "t1", "c1", p))

	prog, err := s.Advance(ctx, "t1", "c1", []StepResult{{StepNumber: 1, Success: true}})
	require.NoError(t, err)
	assert.Equal(t, 2, prog.NextStep)

	active, err := s.Active(ctx, "t1", "c1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, prog.Plan.ID, active.ID)
	assert.NotEqual(t, p.ID, active.ID)

	history, err := s.History(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, proto.PlanSuperseded, history[0].Status)
	assert.Equal(t, proto.PlanExecuting, history[1].Status)

	odd := threeStepPlan()
	odd.ID = ""
	for i := range odd.Steps {
		odd.Steps[i].StepNumber = (i + 1) * 10
	}
	odd.CurrentStep = 20
	require.NoError(t, s.Save(ctx, "t1", "c2", odd))
	saved, err := s.Active(ctx, "t1", "c2")
	require.NoError(t, err)
	require.NotNil(t, saved)
	for i, st := range saved.Steps {
		assert.Equal(t, i+1, st.StepNumber)
	}
	assert.Equal(t, 2, saved.CurrentStep)

	other, err := s.Active(ctx, "t2", "c1")
	require.NoError(t, err)
	assert.Nil(t, other)
}
