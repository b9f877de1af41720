package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/agent/msg"
	"github.com/vortexion256/caremax-sub002/pkg/agent/toolloop"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/dispatch"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/memory"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/plan"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

var (
	// ErrUnknownTenant is returned for tenants without settings.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrNoUserMessage is returned when the history has nothing to answer.
	ErrNoUserMessage = errors.New("history has no customer message")
)

// contextTokenBudget bounds the history sent with each model call.
const contextTokenBudget = 12000

// ragResults is how many knowledge chunks are retrieved per turn.
const ragResults = 5

// ExecutionLogStore reads and appends tool execution logs.
type ExecutionLogStore interface {
	toolloop.LogStore
	RecentExecutionLogs(ctx context.Context, tenantID, conversationID string, limit int) ([]proto.ExecutionLog, error)
}

// Options scope one RunConfiguredAgent call.
type Options struct {
	UserID         string
	ConversationID string
}

// Reply is the agent's answer for one turn.
type Reply struct {
	Text           string
	RequestHandoff bool
	// Pipeline is the version that handled the turn.
	Pipeline dispatch.Version
	// Degraded is set when SafeReply replaced a failed pipeline.
	Degraded bool
}

// Deps are the collaborators of a Runner. Memory, Plans, ExecLogs and
// Knowledge may be nil.
type Deps struct {
	Settings  dispatch.SettingsReader
	Clients   ClientSource
	Memory    *memory.Builder
	ExecLogs  ExecutionLogStore
	Plans     *plan.Store
	Knowledge tools.KnowledgeSearcher
	Tools     ToolBackends
	Recorder  metrics.Recorder
}

// Runner is the entry point of the orchestration core: it resolves the
// tenant's configuration and runs the selected pipeline.
type Runner struct {
	cfg        config.Config
	deps       Deps
	dispatcher *dispatch.Dispatcher
	logger     *logx.Logger
}

// NewRunner wires the v1 and v2 pipelines.
func NewRunner(cfg config.Config, deps Deps) (*Runner, error) {
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings reader is required")
	}
	if deps.Clients == nil {
		return nil, fmt.Errorf("client source is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	if deps.Memory == nil {
		deps.Memory = memory.NewBuilder(nil, nil, nil, cfg.Agent)
	}
	if deps.Tools.Knowledge == nil {
		deps.Tools.Knowledge = deps.Knowledge
	}

	r := &Runner{cfg: cfg, deps: deps, logger: logx.NewLogger("agent")}
	d, err := dispatch.New(dispatch.NewSelector(deps.Settings, cfg.Agent.DefaultPipeline), map[dispatch.Version]dispatch.Pipeline{
		dispatch.V1: dispatch.PipelineFunc(r.runV1),
		dispatch.V2: dispatch.PipelineFunc(r.runV2),
	})
	if err != nil {
		return nil, err
	}
	r.dispatcher = d
	return r, nil
}

// RunConfiguredAgent answers the last customer message of history with the
// tenant's configured pipeline. Pipeline failures are logged and answered
// with SafeReply; only invalid input is returned as an error.
func (r *Runner) RunConfiguredAgent(ctx context.Context, tenantID string, history []proto.ChatTurn, opts Options) (Reply, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Reply{}, fmt.Errorf("%w: empty tenant id", ErrUnknownTenant)
	}
	if msg.LastUserMessage(history) == "" {
		return Reply{}, ErrNoUserMessage
	}
	ctx = logx.WithTenant(ctx, tenantID)
	if opts.ConversationID != "" {
		ctx = logx.WithConversation(ctx, opts.ConversationID)
	}

	settings, err := r.deps.Settings.GetTenantSettings(ctx, tenantID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	case err != nil:
		r.logger.Warn("settings for tenant %s unavailable, using defaults: %v", tenantID, err)
		settings = &proto.TenantSettings{TenantID: tenantID}
	}

	start := time.Now()
	v, out, err := r.dispatcher.Dispatch(ctx, &dispatch.Request{
		TenantID:       tenantID,
		UserID:         opts.UserID,
		ConversationID: opts.ConversationID,
		Settings:       settings,
		History:        history,
	})
	if err != nil {
		r.logger.Error("pipeline %s failed for tenant %s after %.3gs: %v", v, tenantID, time.Since(start).Seconds(), err)
		return Reply{Text: SafeReply, Pipeline: v, Degraded: true}, nil
	}
	logx.Debug(ctx, "agent", "pipeline %s answered in %.3gs (handoff=%t)", v, time.Since(start).Seconds(), out.RequestHandoff)
	return Reply{Text: out.Text, RequestHandoff: out.RequestHandoff, Pipeline: v}, nil
}

// turn is the state shared by both pipelines for one request.
type turn struct {
	req      *dispatch.Request
	client   llm.LLMClient
	registry *tools.Registry
	context  *memory.AgentContext
	userText string
}

func (r *Runner) prepare(ctx context.Context, req *dispatch.Request) (*turn, error) {
	client, err := r.deps.Clients.ClientFor(req.Settings.Model)
	if err != nil {
		return nil, fmt.Errorf("no model client: %w", err)
	}
	reg, err := r.deps.Tools.Registry(req.Settings, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}
	t := &turn{
		req:      req,
		client:   client,
		registry: reg,
		userText: msg.LastUserMessage(req.History),
	}
	t.context = r.deps.Memory.BuildContext(ctx, memory.Input{
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		History:        req.History,
		ExecutionLogs:  r.recentLogs(ctx, req),
		RAGText:        r.retrieve(ctx, req, t.userText),
	})
	return t, nil
}

func (r *Runner) recentLogs(ctx context.Context, req *dispatch.Request) []proto.ExecutionLog {
	if r.deps.ExecLogs == nil || req.ConversationID == "" {
		return nil
	}
	logs, err := r.deps.ExecLogs.RecentExecutionLogs(ctx, req.TenantID, req.ConversationID, r.cfg.Agent.LogWindow)
	if err != nil {
		r.logger.Warn("execution logs unavailable for %s: %v", req.ConversationID, err)
		return nil
	}
	return logs
}

// retrieve returns knowledge excerpts for query as blank-line separated paragraphs.
func (r *Runner) retrieve(ctx context.Context, req *dispatch.Request, query string) string {
	if r.deps.Knowledge == nil || !req.Settings.HasFeature(proto.FeatureKnowledge) || query == "" {
		return ""
	}
	chunks, err := r.deps.Knowledge.Search(ctx, req.TenantID, query, ragResults)
	if err != nil {
		r.logger.Warn("knowledge retrieval failed for tenant %s: %v", req.TenantID, err)
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for i := range chunks {
		parts = append(parts, fmt.Sprintf("%s: %s", chunks[i].Title, strings.TrimSpace(chunks[i].Text)))
	}
	return strings.Join(parts, "\n\n")
}

// respond runs the tool loop with the assembled context and guidance.
func (r *Runner) respond(ctx context.Context, t *turn, guidance string) (toolloop.Outcome, error) {
	system := systemPrompt(t.req.Settings, t.context, t.registry, guidance)
	messages, err := msg.Build(system, t.context.ConversationMemory.RecentMessages, contextTokenBudget)
	if err != nil {
		return toolloop.Outcome{}, err
	}

	temperature := t.req.Settings.Temperature
	if temperature <= 0 {
		temperature = r.cfg.LLM.Temperature
	}
	executor := toolloop.NewExecutor(t.registry, r.deps.ExecLogs, toolloop.WithRecorder(r.deps.Recorder))
	out := toolloop.New(t.client, r.logger).Run(ctx, &toolloop.Config{
		Messages:      messages,
		Executor:      executor,
		Scope:         toolloop.Scope{TenantID: t.req.TenantID, ConversationID: t.req.ConversationID},
		MaxIterations: r.cfg.Agent.MaxToolIterations,
		MaxTokens:     r.cfg.LLM.MaxTokens,
		Temperature:   temperature,
		DebugLogging:  logx.IsDebugEnabledForDomain("agent"),
	})
	if out.Kind != toolloop.OutcomeReplied {
		return out, fmt.Errorf("tool loop ended with %s: %w", out.Kind, out.Err)
	}
	return out, nil
}

// runV1 is the single-pass pipeline: memory context, then the tool loop.
func (r *Runner) runV1(ctx context.Context, req *dispatch.Request) (dispatch.Reply, error) {
	t, err := r.prepare(ctx, req)
	if err != nil {
		return dispatch.Reply{}, err
	}
	out, err := r.respond(ctx, t, "")
	if err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Reply{Text: out.Text, RequestHandoff: out.RequestHandoff}, nil
}
