package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

type fakeSearcher struct {
	hits  []proto.RetrievedChunk
	err   error
	query string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, query string, _ int) ([]proto.RetrievedChunk, error) {
	f.query = query
	return f.hits, f.err
}

func TestSearchKnowledgeTool(t *testing.T) {
	s := &fakeSearcher{hits: []proto.RetrievedChunk{{RecordID: "r1", Title: "Hours", Text: "Open 8-5", Score: 2}}}
	tool := NewSearchKnowledgeTool(s, "acme")

	res, err := tool.Exec(context.Background(), map[string]any{"query": "hours"})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, float64(1), out["result_count"])
	assert.Equal(t, "hours", s.query)

	s.err = errors.New("index offline")
	_, err = tool.Exec(context.Background(), map[string]any{"query": "hours"})
	assert.Error(t, err)
}

type fakeNotes struct {
	calls int
}

func (f *fakeNotes) CreateNote(_ context.Context, n *proto.AgentNote) (*proto.AgentNote, bool, error) {
	f.calls++
	out := *n
	out.ID = "note-1"
	return &out, f.calls > 1, nil
}

func TestCreateNoteTool(t *testing.T) {
	w := &fakeNotes{}
	tool := NewCreateNoteTool(w, "acme", "conv-1", "u1")
	args := map[string]any{"category": "insights", "content": "Patient prefers mornings"}
	require.NoError(t, ValidateArgs(tool.Definition().InputSchema, args))

	res, err := tool.Exec(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["duplicate"])

	res, err = tool.Exec(context.Background(), args)
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["duplicate"])
	assert.Equal(t, "note-1", out["note_id"])

	assert.Error(t, ValidateArgs(tool.Definition().InputSchema, map[string]any{"category": "gossip", "content": "x"}))
}

func TestSendWhatsAppDefaultsToClinicNumber(t *testing.T) {
	outbox := NewOutboxMessenger()
	tool := NewSendWhatsAppTool(outbox, "+256700000000")

	_, err := tool.Exec(context.Background(), map[string]any{"message": "New booking for Jane"})
	require.NoError(t, err)
	sent := outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+256700000000", sent[0].To)

	_, err = NewSendWhatsAppTool(outbox, "").Exec(context.Background(), map[string]any{"message": "x"})
	assert.Error(t, err)
}

func TestWhatsAppCloudSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pn-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body whatsAppRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "whatsapp", body.MessagingProduct)
		assert.Equal(t, "hello", body.Text.Body)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	id, err := NewWhatsAppCloud(srv.URL+"/", "tok", "pn-1").Send(context.Background(), "+1555", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)
}

func TestWhatsAppCloudAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid recipient","code":131030}}`))
	}))
	defer srv.Close()

	_, err := NewWhatsAppCloud(srv.URL, "tok", "pn-1").Send(context.Background(), "bad", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestWebSearchWithDuckDuckGo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "public holidays uganda", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"Heading":"Holidays","AbstractText":"List of holidays","AbstractURL":"https://example.org"}`))
	}))
	defer srv.Close()

	provider := NewDuckDuckGoProvider()
	provider.baseURL = srv.URL
	tool := NewWebSearchTool(provider)

	res, err := tool.Exec(context.Background(), map[string]any{"query": "public holidays uganda"})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "duckduckgo", out["provider"])
	assert.Equal(t, float64(1), out["result_count"])

	_, err = tool.Exec(context.Background(), map[string]any{"query": ""})
	assert.Error(t, err)
}

func TestSelectSearchProvider(t *testing.T) {
	t.Setenv("GOOGLE_SEARCH_API_KEY", "")
	t.Setenv("GOOGLE_SEARCH_CX", "")
	assert.Equal(t, "duckduckgo", SelectSearchProvider(searchCfg("", "", "")).Name())
	assert.Equal(t, "google", SelectSearchProvider(searchCfg("", "k", "cx")).Name())
	assert.Equal(t, "duckduckgo", SelectSearchProvider(searchCfg("duckduckgo", "k", "cx")).Name())
}

func TestWebSearchWithGoogle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "engine-1", r.URL.Query().Get("cx"))
		assert.Equal(t, "bus from airport to kampala", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("num"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"Airport buses","link":"https://example.org/bus","snippet":"Buses leave hourly."}]}`))
	}))
	defer srv.Close()

	provider := NewGoogleSearchProvider("key", "engine-1",
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	res, err := NewWebSearchTool(provider).Exec(context.Background(), map[string]any{"query": "  bus from airport\tto kampala "})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "google", out["provider"])
	assert.Equal(t, "bus from airport to kampala", out["query"])
	results := out["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.org/bus", results[0].(map[string]any)["url"])
}

func TestGoogleSearchQuotaIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	provider := NewGoogleSearchProvider("key", "cx", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	_, err := provider.Search(context.Background(), "holidays", 3)
	assert.ErrorIs(t, err, ErrTemporary)
}

func TestDuckDuckGoHitsOrderAndLimit(t *testing.T) {
	a := &ddgAnswer{
		Heading:       "Kampala",
		AbstractText:  "Capital of Uganda",
		Answer:        "UTC+3",
		Results:       []ddgTopic{{Text: "Official site", FirstURL: "https://kcca.go.ug"}},
		RelatedTopics: []ddgTopic{{Text: "Entebbe"}, {Text: ""}},
	}
	hits := a.hits(10)
	require.Len(t, hits, 4)
	assert.Equal(t, "Capital of Uganda", hits[0].Description)
	assert.Equal(t, "Instant Answer", hits[1].Title)
	assert.Equal(t, "https://kcca.go.ug", hits[2].URL)
	assert.Len(t, a.hits(2), 2)
	assert.Empty(t, (&ddgAnswer{}).hits(5))
}

func TestDuckDuckGoServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	provider := NewDuckDuckGoProvider()
	provider.baseURL = srv.URL
	_, err := provider.Search(context.Background(), "x", 3)
	assert.ErrorIs(t, err, ErrTemporary)
}
