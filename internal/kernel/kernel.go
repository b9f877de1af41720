// Package kernel assembles the shared infrastructure of the support agent:
// the store, model clients, pipelines, chat service and HTTP API.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vortexion256/caremax-sub002/internal/httpapi"
	"github.com/vortexion256/caremax-sub002/pkg/agent"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/billing"
	"github.com/vortexion256/caremax-sub002/pkg/chat"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/conversation"
	"github.com/vortexion256/caremax-sub002/pkg/knowledge"
	"github.com/vortexion256/caremax-sub002/pkg/learning"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/memory"
	"github.com/vortexion256/caremax-sub002/pkg/notes"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
	"github.com/vortexion256/caremax-sub002/pkg/plan"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// Options customize kernel construction.
type Options struct {
	// Registry receives the collectors. Defaults to a fresh registry.
	Registry *prometheus.Registry
	// ClientOptions are passed to the LLM client factory.
	ClientOptions []agent.FactoryOption
	// Sheets overrides the configured spreadsheet backend.
	Sheets tools.SheetBackend
	// Messaging overrides the configured messaging backend.
	Messaging tools.MessagingBackend
}

// Kernel owns the long-lived services of one process.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	Store      *persistence.Store
	Registry   *prometheus.Registry
	Recorder   *metrics.PrometheusRecorder
	LLMFactory *agent.LLMClientFactory
	Knowledge  *knowledge.Service
	Notes      *notes.Service
	Plans      *plan.Store
	Runner     *agent.Runner
	Machine    *conversation.Machine
	Chat       *chat.Service
	WebServer  *httpapi.Server

	running bool
}

// NewKernel opens the store and wires every service. Close releases them.
func NewKernel(parent context.Context, cfg *config.Config, opts Options) (*Kernel, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	ctx, cancel := context.WithCancel(parent)
	k := &Kernel{
		ctx:    ctx,
		cancel: cancel,
		Config: cfg,
		Logger: logx.NewLogger("kernel"),
	}
	if err := k.initializeServices(opts); err != nil {
		k.Close()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices(opts Options) error {
	cfg := k.Config

	store, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	k.Store = store

	k.Registry = opts.Registry
	if k.Registry == nil {
		k.Registry = prometheus.NewRegistry()
	}
	k.Recorder = metrics.NewPrometheusRecorder(k.Registry, cfg.LLM.Metrics.Namespace)

	var recorder metrics.Recorder = k.Recorder
	if !cfg.LLM.Metrics.Enabled {
		recorder = metrics.Nop()
	}
	k.LLMFactory = agent.NewLLMClientFactory(k.ctx, *cfg, recorder, opts.ClientOptions...)

	k.Knowledge = knowledge.NewService(store, knowledge.DefaultChunkSize)
	k.Notes = notes.NewService(store, cfg.Agent)
	k.Plans = plan.NewStore(store)

	backends, err := k.toolBackends(opts)
	if err != nil {
		return err
	}
	searcher := k.Knowledge.Searcher()
	backends.Knowledge = searcher
	backends.Notes = k.Notes

	k.Runner, err = agent.NewRunner(*cfg, agent.Deps{
		Settings:  store,
		Clients:   k.LLMFactory,
		Memory:    memory.NewBuilder(store, store, store, cfg.Agent),
		ExecLogs:  store,
		Plans:     k.Plans,
		Knowledge: searcher,
		Tools:     backends,
		Recorder:  recorder,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	summaryClient, err := k.LLMFactory.ClientFor(cfg.LLM.DefaultModel)
	if err != nil {
		k.Logger.Warn("No summary model available, storing synopses only: %v", err)
		summaryClient = nil
	}
	summarizer := memory.NewSummarizer(summaryClient, store, cfg.Agent.MaxTopics)
	extractor := learning.NewExtractor(store, summarizer, k.Notes)
	k.Machine = conversation.NewMachine(store, conversation.WithReturnHook(extractor.OnReturn))

	k.Chat = chat.NewService(store, k.Runner, k.Machine, cfg.Chat,
		chat.WithBilling(billing.NewStoreOracle(store, persistence.ErrNotFound)),
		chat.WithRecorder(recorder),
	)

	k.WebServer = httpapi.NewServer(httpapi.Deps{
		Chat:          k.Chat,
		Notes:         k.Notes,
		Knowledge:     k.Knowledge,
		Plans:         k.Plans,
		Conversations: store,
		Health:        store.DB(),
		Gatherer:      k.Registry,
	}, cfg.Server.AdminToken)

	k.Logger.Info("Kernel services initialized (db=%s)", cfg.Database.Path)
	return nil
}

func (k *Kernel) toolBackends(opts Options) (agent.ToolBackends, error) {
	cfg := k.Config.Tools
	b := agent.ToolBackends{
		Sheets:       opts.Sheets,
		BookingRange: cfg.Sheets.BookingRange,
		QueryRange:   cfg.Sheets.QueryRange,
		Messaging:    opts.Messaging,
		Search:       tools.SelectSearchProvider(cfg.Search),
	}
	if b.Sheets == nil {
		switch cfg.Sheets.Backend {
		case config.SheetsBackendGoogle:
			sheets, err := tools.NewGoogleSheets(k.ctx, cfg.Sheets.CredentialsFile)
			if err != nil {
				return b, fmt.Errorf("failed to create sheets backend: %w", err)
			}
			b.Sheets = sheets
		default:
			b.Sheets = tools.NewMemorySheets()
		}
	}
	if b.Messaging == nil {
		if cfg.WhatsApp.Token != "" {
			b.Messaging = tools.NewWhatsAppCloud(cfg.WhatsApp.APIURL, cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID)
		} else {
			k.Logger.Info("No WhatsApp token configured, outbound messages go to the outbox")
			b.Messaging = tools.NewOutboxMessenger()
		}
	}
	return b, nil
}

// Seed upserts the tenants and knowledge records of seed.
func (k *Kernel) Seed(ctx context.Context, seed *config.TenantSeed) error {
	for i := range seed.Tenants {
		t := seed.Tenants[i]
		if err := k.Store.UpsertTenantSettings(ctx, &t); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.TenantID, err)
		}
	}
	for _, r := range seed.Records {
		rec := &proto.AgentRecord{TenantID: r.TenantID, Title: r.Title, Category: r.Category, Content: r.Content}
		if err := k.Knowledge.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("seed record %q for %s: %w", r.Title, r.TenantID, err)
		}
	}
	k.Logger.Info("Seeded %d tenants and %d records", len(seed.Tenants), len(seed.Records))
	return nil
}

// Start begins the background workers.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}
	go k.Chat.Limiter().Run(k.ctx, k.Config.Chat.RateLimitWindow)
	k.running = true
	k.Logger.Info("Kernel services started")
	return nil
}

// Serve runs the HTTP API until the kernel context is canceled.
func (k *Kernel) Serve() error {
	if err := k.WebServer.StartServer(k.ctx, k.Config.Server.ListenAddr); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}
	return nil
}

// Context returns the kernel's lifecycle context.
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// Close stops the workers and closes the store. It is safe to call twice.
func (k *Kernel) Close() {
	k.cancel()
	if k.LLMFactory != nil {
		k.LLMFactory.Close()
		k.LLMFactory = nil
	}
	if k.Store != nil {
		if err := k.Store.Close(); err != nil {
			k.Logger.Error("Error closing database: %v", err)
		}
		k.Store = nil
	}
	k.running = false
	k.Logger.Info("Kernel services stopped")
}
