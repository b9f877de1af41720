package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/internal/httpapi"
	"github.com/vortexion256/caremax-sub002/pkg/agent"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/chat"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/conversation"
	"github.com/vortexion256/caremax-sub002/pkg/dispatch"
	"github.com/vortexion256/caremax-sub002/pkg/knowledge"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/notes"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/plan"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

type echoAgent struct{}

func (echoAgent) RunConfiguredAgent(_ context.Context, _ string, history []proto.ChatTurn, _ agent.Options) (agent.Reply, error) {
	return agent.Reply{Text: "You said: " + history[len(history)-1].Content, Pipeline: dispatch.V1}, nil
}

type env struct {
	store     *persistence.Store
	notes     *notes.Service
	knowledge *knowledge.Service
	server    *httptest.Server
}

func newEnv(t *testing.T, adminToken string) *env {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg, "caremax")
	chatSvc := chat.NewService(store, echoAgent{}, conversation.NewMachine(store), config.ChatConfig{}, chat.WithRecorder(recorder))

	e := &env{
		store:     store,
		notes:     notes.NewService(store, config.Default().Agent),
		knowledge: knowledge.NewService(store, 0),
	}
	api := httpapi.NewServer(httpapi.Deps{
		Chat:          chatSvc,
		Notes:         e.notes,
		Knowledge:     e.knowledge,
		Plans:         plan.NewStore(store),
		Conversations: store,
		Health:        store.DB(),
		Gatherer:      reg,
	}, adminToken)
	e.server = httptest.NewServer(api.Handler())
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestInboundMessageAndHandoffRoutes(t *testing.T) {
	e := newEnv(t, "")

	resp, body := e.do(t, http.MethodPost, "/v1/tenants/t1/messages", map[string]string{"text": "What are your hours?"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res chat.InboundResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "You said: What are your hours?", res.Reply)
	assert.Equal(t, chat.OutcomeReplied, res.Outcome)

	convPath := "/v1/tenants/t1/conversations/" + res.ConversationID

	resp, body = e.do(t, http.MethodPost, convPath+"/join", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "join requires a pending handoff: %s", body)

	resp, _ = e.do(t, http.MethodPost, "/v1/tenants/t1/messages", map[string]string{
		"conversation_id": res.ConversationID, "text": "I want to talk to a human",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, convPath+"/join", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"human_joined"`)

	resp, _ = e.do(t, http.MethodPost, convPath+"/staff-messages", map[string]string{"text": "Hi, Sam here."}, "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, convPath+"/return", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"open"`)

	resp, body = e.do(t, http.MethodGet, convPath+"/messages", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []proto.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	assert.Len(t, msgs, 5)

	resp, body = e.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `caremax_conversation_turns_total{outcome="replied",pipeline="v1",tenant="t1"} 2`)
}

func TestInboundValidationAndTenantIsolation(t *testing.T) {
	e := newEnv(t, "")

	resp, _ := e.do(t, http.MethodPost, "/v1/tenants/t1/messages", map[string]string{"text": "  "}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/v1/tenants/t1/messages", map[string]string{"conversation_id": "nope", "text": "hi"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body := e.do(t, http.MethodPost, "/v1/tenants/t1/messages", map[string]string{"text": "hi"}, "")
	var res chat.InboundResult
	require.NoError(t, json.Unmarshal(body, &res))

	resp, _ = e.do(t, http.MethodGet, "/v1/tenants/t2/conversations/"+res.ConversationID+"/messages", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/v1/tenants/t1/messages", bytes.NewBufferString("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestNoteRoutes(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	n, _, err := e.notes.CreateNote(ctx, &proto.AgentNote{TenantID: "t1", Category: proto.NoteCommonQuestions, Content: "Customers ask about parking"})
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodGet, "/v1/tenants/t1/notes?category=common_questions", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []proto.AgentNote
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)

	resp, _ = e.do(t, http.MethodGet, "/v1/tenants/t2/notes/"+n.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodPut, "/v1/tenants/t1/notes/"+n.ID, map[string]string{"status": "reviewed"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got, err := e.notes.Get(ctx, "t1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.NoteReviewed, got.Status)

	resp, _ = e.do(t, http.MethodPut, "/v1/tenants/t1/notes/"+n.ID, map[string]string{"status": "lost"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/v1/tenants/t1/notes/consolidate", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"tenant_id":"t1"`)

	resp, _ = e.do(t, http.MethodDelete, "/v1/tenants/t1/notes/"+n.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/v1/tenants/t1/notes", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestRecordAndModificationRoutes(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	resp, body := e.do(t, http.MethodPost, "/v1/tenants/t1/records", map[string]string{
		"title": "Opening hours", "content": "Monday to Friday, 9am to 5pm.",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var rec proto.AgentRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	require.NotEmpty(t, rec.ID)

	resp, _ = e.do(t, http.MethodPut, "/v1/tenants/t1/records/missing", map[string]string{"title": "x", "content": "y"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/v1/tenants/t1/records", map[string]string{"title": "empty"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	m, err := e.knowledge.ProposeEdit(ctx, "t1", rec.ID, "", "Monday to Saturday, 9am to 5pm.", "customer said Saturdays are open")
	require.NoError(t, err)

	resp, body = e.do(t, http.MethodGet, "/v1/tenants/t1/modifications", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), m.ID)

	resp, body = e.do(t, http.MethodPost, "/v1/tenants/t1/modifications/"+m.ID+"/approve", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = e.do(t, http.MethodPost, "/v1/tenants/t1/modifications/"+m.ID+"/reject", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a resolved request cannot be resolved again")

	resp, body = e.do(t, http.MethodGet, "/v1/tenants/t1/records/"+rec.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Monday to Saturday")

	resp, _ = e.do(t, http.MethodDelete, "/v1/tenants/t1/records/"+rec.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPlanRoutes(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	conv := &proto.Conversation{TenantID: "t1"}
	require.NoError(t, e.store.CreateConversation(ctx, conv))

	path := "/v1/tenants/t1/conversations/" + conv.ID + "/plans"
	resp, _ := e.do(t, http.MethodGet, path+"/active", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, plan.NewStore(e.store).Save(ctx, "t1", conv.ID, plan.NewSupervisor(nil).AnalyzeAndPlan(ctx, "Book a cleaning", []string{"append_booking"}, nil)))

	resp, body := e.do(t, http.MethodGet, path+"/active", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var p proto.ExecutionPlan
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, conv.ID, p.ConversationID)

	resp, body = e.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []proto.ExecutionPlan
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 1)
}

func TestAdminToken(t *testing.T) {
	e := newEnv(t, "s3cret")

	resp, _ := e.do(t, http.MethodGet, "/v1/tenants/t1/notes", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/v1/tenants/t1/notes", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/v1/tenants/t1/notes", nil, "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The inbound endpoint and health checks stay open.
	resp, _ = e.do(t, http.MethodPost, "/v1/tenants/t1/messages", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogRoute(t *testing.T) {
	e := newEnv(t, "")
	logx.NewLogger("test").WithTenant("logs-t1").Warn("sheet backend slow")
	logx.NewLogger("test").WithTenant("logs-t2").Warn("not for t1")

	resp, body := e.do(t, http.MethodGet, "/v1/tenants/logs-t1/logs", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var entries []logx.LogEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "sheet backend slow", entries[0].Message)

	resp, _ = e.do(t, http.MethodGet, "/v1/tenants/logs-t1/logs?since=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
