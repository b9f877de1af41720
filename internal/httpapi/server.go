// Package httpapi exposes the inbound message endpoint and the admin API
// for notes, records, modification requests and plans.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vortexion256/caremax-sub002/pkg/agent"
	"github.com/vortexion256/caremax-sub002/pkg/chat"
	"github.com/vortexion256/caremax-sub002/pkg/conversation"
	"github.com/vortexion256/caremax-sub002/pkg/knowledge"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/notes"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/plan"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ConversationStore is the conversation access the admin routes need.
type ConversationStore interface {
	GetConversation(ctx context.Context, tenantID, id string) (*proto.Conversation, error)
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]proto.Message, error)
	DeleteConversation(ctx context.Context, tenantID, id string) error
}

// Pinger checks the backing store for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services behind the routes. Gatherer defaults to the
// Prometheus default gatherer.
type Deps struct {
	Chat          *chat.Service
	Notes         *notes.Service
	Knowledge     *knowledge.Service
	Plans         *plan.Store
	Conversations ConversationStore
	Health        Pinger
	Gatherer      prometheus.Gatherer
}

// Server serves the HTTP API.
type Server struct {
	deps       Deps
	adminToken string
	logger     *logx.Logger
}

// NewServer creates a server. A non-empty adminToken is required as a bearer
// token on every admin route.
func NewServer(deps Deps, adminToken string) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, adminToken: adminToken, logger: logx.NewLogger("httpapi")}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	// Inbound messages
	mux.HandleFunc("POST /v1/tenants/{tenant}/messages", s.handleInbound)

	// Handoff
	mux.HandleFunc("POST /v1/tenants/{tenant}/conversations/{id}/join", s.requireAdmin(s.handleJoin))
	mux.HandleFunc("POST /v1/tenants/{tenant}/conversations/{id}/return", s.requireAdmin(s.handleReturn))
	mux.HandleFunc("POST /v1/tenants/{tenant}/conversations/{id}/staff-messages", s.requireAdmin(s.handleStaffMessage))
	mux.HandleFunc("GET /v1/tenants/{tenant}/conversations/{id}", s.requireAdmin(s.handleGetConversation))
	mux.HandleFunc("GET /v1/tenants/{tenant}/conversations/{id}/messages", s.requireAdmin(s.handleListMessages))
	mux.HandleFunc("DELETE /v1/tenants/{tenant}/conversations/{id}", s.requireAdmin(s.handleDeleteConversation))

	// Plans
	mux.HandleFunc("GET /v1/tenants/{tenant}/conversations/{id}/plans", s.requireAdmin(s.handleListPlans))
	mux.HandleFunc("GET /v1/tenants/{tenant}/conversations/{id}/plans/active", s.requireAdmin(s.handleActivePlan))

	// Notes
	mux.HandleFunc("GET /v1/tenants/{tenant}/notes", s.requireAdmin(s.handleListNotes))
	mux.HandleFunc("GET /v1/tenants/{tenant}/notes/{id}", s.requireAdmin(s.handleGetNote))
	mux.HandleFunc("PUT /v1/tenants/{tenant}/notes/{id}", s.requireAdmin(s.handleUpdateNote))
	mux.HandleFunc("DELETE /v1/tenants/{tenant}/notes/{id}", s.requireAdmin(s.handleDeleteNote))
	mux.HandleFunc("POST /v1/tenants/{tenant}/notes/consolidate", s.requireAdmin(s.handleConsolidateNotes))

	// Records and modification requests
	mux.HandleFunc("GET /v1/tenants/{tenant}/records", s.requireAdmin(s.handleListRecords))
	mux.HandleFunc("POST /v1/tenants/{tenant}/records", s.requireAdmin(s.handleSaveRecord))
	mux.HandleFunc("GET /v1/tenants/{tenant}/records/{id}", s.requireAdmin(s.handleGetRecord))
	mux.HandleFunc("PUT /v1/tenants/{tenant}/records/{id}", s.requireAdmin(s.handleSaveRecord))
	mux.HandleFunc("DELETE /v1/tenants/{tenant}/records/{id}", s.requireAdmin(s.handleDeleteRecord))
	mux.HandleFunc("GET /v1/tenants/{tenant}/modifications", s.requireAdmin(s.handleListModifications))
	mux.HandleFunc("POST /v1/tenants/{tenant}/modifications/{id}/approve", s.requireAdmin(s.handleApprove))
	mux.HandleFunc("POST /v1/tenants/{tenant}/modifications/{id}/reject", s.requireAdmin(s.handleReject))

	mux.HandleFunc("GET /v1/tenants/{tenant}/logs", s.requireAdmin(s.handleLogs))
}

// StartServer listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// requireAdmin checks the bearer token when one is configured.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	if s.adminToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.logger.Warn("Rejected admin request from %s to %s", r.RemoteAddr, r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.PingContext(r.Context()); err != nil {
			s.logger.Error("health check failed: %v", err)
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type inboundBody struct {
	ConversationID string `json:"conversation_id"`
	ExternalID     string `json:"external_id"`
	Channel        string `json:"channel"`
	UserID         string `json:"user_id"`
	Text           string `json:"text"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var body inboundBody
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.deps.Chat.HandleInbound(r.Context(), &chat.InboundRequest{
		TenantID:       r.PathValue("tenant"),
		ConversationID: body.ConversationID,
		ExternalID:     body.ExternalID,
		Channel:        body.Channel,
		UserID:         body.UserID,
		Text:           body.Text,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	tr, err := s.deps.Chat.Join(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionBody(tr))
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	tr, err := s.deps.Chat.Return(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionBody(tr))
}

func transitionBody(tr *conversation.Transition) map[string]any {
	return map[string]any{
		"from":             tr.From,
		"status":           tr.To,
		"event":            tr.Event,
		"learning_started": tr.Task != nil,
	}
}

func (s *Server) handleStaffMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.deps.Chat.PostHumanMessage(r.Context(), r.PathValue("tenant"), r.PathValue("id"), body.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Conversations.GetConversation(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	tenant, id := r.PathValue("tenant"), r.PathValue("id")
	if _, err := s.deps.Conversations.GetConversation(r.Context(), tenant, id); err != nil {
		s.fail(w, r, err)
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	msgs, err := s.deps.Conversations.ListMessages(r.Context(), tenant, id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Conversations.DeleteConversation(r.Context(), r.PathValue("tenant"), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.History(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(plans))
}

func (s *Server) handleActivePlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Plans.Active(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "no active plan")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := persistence.NoteFilter{
		ConversationID: q.Get("conversation_id"),
		Category:       proto.NoteCategory(q.Get("category")),
		Status:         proto.NoteStatus(q.Get("status")),
		Limit:          limit,
	}
	list, err := s.deps.Notes.List(r.Context(), r.PathValue("tenant"), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Notes.Get(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleUpdateNote applies the fields present in the body to the stored note.
func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content  *string `json:"content"`
		Category *string `json:"category"`
		Status   *string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	n, err := s.deps.Notes.Get(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Content != nil {
		n.Content = *body.Content
	}
	if body.Category != nil {
		n.Category = proto.NoteCategory(*body.Category)
	}
	if body.Status != nil {
		n.Status = proto.NoteStatus(*body.Status)
	}
	if err := s.deps.Notes.Update(r.Context(), n); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notes.Delete(r.Context(), r.PathValue("tenant"), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConsolidateNotes(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Notes.Consolidate(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Knowledge.ListRecords(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Knowledge.GetRecord(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleSaveRecord creates a record (POST) or replaces one (PUT).
func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	var rec proto.AgentRecord
	if !s.decode(w, r, &rec) {
		return
	}
	rec.TenantID = r.PathValue("tenant")
	rec.ID = r.PathValue("id")
	status := http.StatusCreated
	if rec.ID != "" {
		if _, err := s.deps.Knowledge.GetRecord(r.Context(), rec.TenantID, rec.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		status = http.StatusOK
	}
	if err := s.deps.Knowledge.SaveRecord(r.Context(), &rec); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Knowledge.DeleteRecord(r.Context(), r.PathValue("tenant"), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListModifications(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Knowledge.ListPending(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(pending))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Knowledge.Approve(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Knowledge.Reject(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleLogs returns the tenant's recent buffered log lines, optionally
// narrowed by domain and an RFC 3339 since.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := logx.EntryFilter{TenantID: r.PathValue("tenant"), Domain: q.Get("domain")}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since %q", raw))
			return
		}
		filter.Since = since
	}
	writeJSON(w, http.StatusOK, logx.RecentEntries(filter))
}

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// fail maps service errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, agent.ErrUnknownTenant):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, agent.ErrNoUserMessage),
		errors.Is(err, notes.ErrEmptyNote), errors.Is(err, notes.ErrInvalidStatus), errors.Is(err, knowledge.ErrEmptyRecord):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrInvalidTransition), errors.Is(err, conversation.ErrConcurrentTransition),
		errors.Is(err, chat.ErrNotJoined), errors.Is(err, persistence.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return n, true
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
