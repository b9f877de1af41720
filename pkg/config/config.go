// Package config holds process-wide configuration for the caremax orchestration core.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

// Pipeline versions understood by the dispatcher.
const (
	PipelineV1 = "v1"
	PipelineV2 = "v2"
)

// Defaults for tunable heuristics.
const (
	DefaultWindowSize               = 10
	DefaultLogWindow                = 5
	DefaultMaxSummaries             = 3
	DefaultSummaryCandidates        = 20
	DefaultMaxRAGChunks             = 3
	DefaultNoteDedupeThreshold      = 0.7
	DefaultNoteDedupeWindow         = 20
	DefaultConsolidationThreshold   = 0.7
	DefaultMaxToolIterations        = 6
	DefaultMinFragmentLen           = 8
	DefaultIntentFallbackConfidence = 0.5
	DefaultMaxTopics                = 5

	DefaultModel       = "claude-sonnet-4-5"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1024

	DefaultListenAddr      = ":8080"
	DefaultDatabasePath    = "caremax.db"
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitCount  = 20
	DefaultMaxMessageChars = 4096
	DefaultHistoryLimit    = 50
	DefaultScanTimeoutMs   = 100
)

var (
	config *Config
	mu     sync.RWMutex

	logger     *logx.Logger
	loggerOnce sync.Once
)

func getLogger() *logx.Logger {
	loggerOnce.Do(func() {
		logger = logx.NewLogger("config")
	})
	return logger
}

// CircuitBreakerConfig defines configuration for circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold"` // Failures before opening
	SuccessThreshold int           `json:"success_threshold" mapstructure:"success_threshold"` // Successes to close from half-open
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`                     // Wait before trying half-open
}

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" mapstructure:"max_attempts"` // Including the initial attempt
	InitialDelay  time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" mapstructure:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	Jitter        bool          `json:"jitter" mapstructure:"jitter"`
}

// ResilienceConfig bundles all resilience-related middleware configuration.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry" mapstructure:"retry"`
	Timeout        time.Duration        `json:"timeout" mapstructure:"timeout"` // Per-request timeout
}

// RateLimitConfig bounds per-provider throughput.
type RateLimitConfig struct {
	TokensPerMinute int `json:"tokens_per_minute" mapstructure:"tokens_per_minute"`
	MaxConcurrency  int `json:"max_concurrency" mapstructure:"max_concurrency"`
	MaxPerTenant    int `json:"max_per_tenant" mapstructure:"max_per_tenant"` // Slots one tenant may hold; 0 means no cap
}

// RateLimitBufferFactor keeps the token bucket below the provider's nominal
// limit to absorb estimation error.
const RateLimitBufferFactor = 0.9

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// LLMConfig controls model selection and the client middleware chain.
type LLMConfig struct {
	DefaultModel string           `json:"default_model" mapstructure:"default_model"` // Used when a tenant sets none
	Temperature  float32          `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int              `json:"max_tokens" mapstructure:"max_tokens"`
	Resilience   ResilienceConfig `json:"resilience" mapstructure:"resilience"`
	RateLimit    RateLimitConfig  `json:"rate_limit" mapstructure:"rate_limit"` // Applied per provider
	Metrics      MetricsConfig    `json:"metrics" mapstructure:"metrics"`
}

// AgentConfig holds the orchestration heuristics. All of them are tunable.
type AgentConfig struct {
	DefaultPipeline          string  `json:"default_pipeline" mapstructure:"default_pipeline"`
	WindowSize               int     `json:"window_size" mapstructure:"window_size"`
	LogWindow                int     `json:"log_window" mapstructure:"log_window"`
	MaxSummaries             int     `json:"max_summaries" mapstructure:"max_summaries"`
	SummaryCandidates        int     `json:"summary_candidates" mapstructure:"summary_candidates"`
	MaxRAGChunks             int     `json:"max_rag_chunks" mapstructure:"max_rag_chunks"`
	MaxTopics                int     `json:"max_topics" mapstructure:"max_topics"`
	NoteDedupeThreshold      float64 `json:"note_dedupe_threshold" mapstructure:"note_dedupe_threshold"`
	NoteDedupeWindow         int     `json:"note_dedupe_window" mapstructure:"note_dedupe_window"`
	ConsolidationThreshold   float64 `json:"consolidation_threshold" mapstructure:"consolidation_threshold"`
	MaxToolIterations        int     `json:"max_tool_iterations" mapstructure:"max_tool_iterations"`
	MinFragmentLen           int     `json:"min_fragment_len" mapstructure:"min_fragment_len"`
	IntentFallbackConfidence float64 `json:"intent_fallback_confidence" mapstructure:"intent_fallback_confidence"`
}

// ChatConfig controls the inbound message service.
type ChatConfig struct {
	RateLimitCount  int           `json:"rate_limit_count" mapstructure:"rate_limit_count"`   // Messages per window per conversation
	RateLimitWindow time.Duration `json:"rate_limit_window" mapstructure:"rate_limit_window"` // Window length
	MaxMessageChars int           `json:"max_message_chars" mapstructure:"max_message_chars"` // Longer inbound messages are truncated
	HistoryLimit    int           `json:"history_limit" mapstructure:"history_limit"`         // Stored messages loaded per turn
	ScanTimeoutMs   int           `json:"scan_timeout_ms" mapstructure:"scan_timeout_ms"`
	// DisableRedaction stores customer text without masking card numbers and credentials.
	DisableRedaction bool `json:"disable_redaction" mapstructure:"disable_redaction"`
}

// SearchConfig selects the web search provider.
type SearchConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // "google", "duckduckgo" or "" (auto)
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	CX       string `json:"cx" mapstructure:"cx"`
}

// Spreadsheet backends.
const (
	SheetsBackendMemory = "memory"
	SheetsBackendGoogle = "google"
)

// SheetsConfig configures the spreadsheet backend.
type SheetsConfig struct {
	Backend         string `json:"backend" mapstructure:"backend"` // "google" or "memory"
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
	BookingRange    string `json:"booking_range" mapstructure:"booking_range"`
	QueryRange      string `json:"query_range" mapstructure:"query_range"`
}

// WhatsAppConfig configures the outbound messaging backend.
type WhatsAppConfig struct {
	APIURL        string `json:"api_url" mapstructure:"api_url"`
	Token         string `json:"token" mapstructure:"token"`
	PhoneNumberID string `json:"phone_number_id" mapstructure:"phone_number_id"`
}

// ToolsConfig groups the external tool backends.
type ToolsConfig struct {
	Search   SearchConfig   `json:"search" mapstructure:"search"`
	Sheets   SheetsConfig   `json:"sheets" mapstructure:"sheets"`
	WhatsApp WhatsAppConfig `json:"whatsapp" mapstructure:"whatsapp"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
	// AdminToken protects the admin routes with a bearer token when set.
	AdminToken    string `json:"admin_token" mapstructure:"admin_token"`
	PrometheusURL string `json:"prometheus_url" mapstructure:"prometheus_url"` // Queried by "caremax usage"
}

// DatabaseConfig locates the sqlite store.
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// Config is the root configuration object.
type Config struct {
	Server      ServerConfig   `json:"server" mapstructure:"server"`
	Database    DatabaseConfig `json:"database" mapstructure:"database"`
	LLM         LLMConfig      `json:"llm" mapstructure:"llm"`
	Agent       AgentConfig    `json:"agent" mapstructure:"agent"`
	Chat        ChatConfig     `json:"chat" mapstructure:"chat"`
	Tools       ToolsConfig    `json:"tools" mapstructure:"tools"`
	TenantsFile string         `json:"tenants_file" mapstructure:"tenants_file"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// GetConfig returns a copy of the loaded configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call Load first")
	}
	return *config, nil
}

// SetConfig installs cfg as the process configuration after defaults and validation.
// Pass nil to reset.
func SetConfig(cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()
	if cfg == nil {
		config = nil
		return nil
	}
	c := *cfg
	applyDefaults(&c)
	if err := validateConfig(&c); err != nil {
		return err
	}
	config = &c
	return nil
}

// GetAgent returns the agent heuristics, falling back to defaults when no
// configuration has been loaded.
func GetAgent() AgentConfig {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Default().Agent
	}
	return config.Agent
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}

	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = DefaultModel
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = DefaultTemperature
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultMaxTokens
	}
	res := &cfg.LLM.Resilience
	if res.CircuitBreaker.FailureThreshold == 0 {
		res.CircuitBreaker.FailureThreshold = 5
	}
	if res.CircuitBreaker.SuccessThreshold == 0 {
		res.CircuitBreaker.SuccessThreshold = 3
	}
	if res.CircuitBreaker.Timeout == 0 {
		res.CircuitBreaker.Timeout = 30 * time.Second
	}
	if res.Retry.MaxAttempts == 0 {
		res.Retry.MaxAttempts = 3
		res.Retry.Jitter = true
	}
	if res.Retry.InitialDelay == 0 {
		res.Retry.InitialDelay = 500 * time.Millisecond
	}
	if res.Retry.MaxDelay == 0 {
		res.Retry.MaxDelay = 10 * time.Second
	}
	if res.Retry.BackoffFactor == 0 {
		res.Retry.BackoffFactor = 2.0
	}
	if res.Timeout == 0 {
		res.Timeout = 60 * time.Second
	}
	if cfg.LLM.RateLimit.TokensPerMinute == 0 {
		cfg.LLM.RateLimit.TokensPerMinute = 200000
	}
	if cfg.LLM.RateLimit.MaxConcurrency == 0 {
		cfg.LLM.RateLimit.MaxConcurrency = 8
	}
	if cfg.LLM.Metrics.Namespace == "" {
		cfg.LLM.Metrics.Namespace = "caremax"
	}

	a := &cfg.Agent
	if a.DefaultPipeline == "" {
		a.DefaultPipeline = PipelineV1
	}
	if a.WindowSize == 0 {
		a.WindowSize = DefaultWindowSize
	}
	if a.LogWindow == 0 {
		a.LogWindow = DefaultLogWindow
	}
	if a.MaxSummaries == 0 {
		a.MaxSummaries = DefaultMaxSummaries
	}
	if a.SummaryCandidates == 0 {
		a.SummaryCandidates = DefaultSummaryCandidates
	}
	if a.MaxRAGChunks == 0 {
		a.MaxRAGChunks = DefaultMaxRAGChunks
	}
	if a.MaxTopics == 0 {
		a.MaxTopics = DefaultMaxTopics
	}
	if a.NoteDedupeThreshold == 0 {
		a.NoteDedupeThreshold = DefaultNoteDedupeThreshold
	}
	if a.NoteDedupeWindow == 0 {
		a.NoteDedupeWindow = DefaultNoteDedupeWindow
	}
	if a.ConsolidationThreshold == 0 {
		a.ConsolidationThreshold = DefaultConsolidationThreshold
	}
	if a.MaxToolIterations == 0 {
		a.MaxToolIterations = DefaultMaxToolIterations
	}
	if a.MinFragmentLen == 0 {
		a.MinFragmentLen = DefaultMinFragmentLen
	}
	if a.IntentFallbackConfidence == 0 {
		a.IntentFallbackConfidence = DefaultIntentFallbackConfidence
	}

	if cfg.Chat.RateLimitCount == 0 {
		cfg.Chat.RateLimitCount = DefaultRateLimitCount
	}
	if cfg.Chat.RateLimitWindow == 0 {
		cfg.Chat.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.Chat.MaxMessageChars == 0 {
		cfg.Chat.MaxMessageChars = DefaultMaxMessageChars
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Chat.ScanTimeoutMs == 0 {
		cfg.Chat.ScanTimeoutMs = DefaultScanTimeoutMs
	}

	if cfg.Tools.Sheets.Backend == "" {
		cfg.Tools.Sheets.Backend = SheetsBackendMemory
	}
	if cfg.Tools.Sheets.BookingRange == "" {
		cfg.Tools.Sheets.BookingRange = "Bookings!A:F"
	}
	if cfg.Tools.Sheets.QueryRange == "" {
		cfg.Tools.Sheets.QueryRange = "Availability!A:E"
	}
	if cfg.Tools.WhatsApp.APIURL == "" {
		cfg.Tools.WhatsApp.APIURL = "https://graph.facebook.com/v20.0"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Agent.DefaultPipeline {
	case PipelineV1, PipelineV2:
	default:
		return fmt.Errorf("agent.default_pipeline must be %q or %q (got %q)", PipelineV1, PipelineV2, cfg.Agent.DefaultPipeline)
	}
	a := cfg.Agent
	for name, v := range map[string]int{
		"window_size":         a.WindowSize,
		"log_window":          a.LogWindow,
		"max_summaries":       a.MaxSummaries,
		"max_rag_chunks":      a.MaxRAGChunks,
		"max_tool_iterations": a.MaxToolIterations,
	} {
		if v < 0 {
			return fmt.Errorf("agent.%s must not be negative (got %d)", name, v)
		}
	}
	if a.SummaryCandidates < a.MaxSummaries {
		return fmt.Errorf("agent.summary_candidates (%d) must be >= agent.max_summaries (%d)", a.SummaryCandidates, a.MaxSummaries)
	}
	for name, v := range map[string]float64{
		"note_dedupe_threshold":      a.NoteDedupeThreshold,
		"consolidation_threshold":    a.ConsolidationThreshold,
		"intent_fallback_confidence": a.IntentFallbackConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("agent.%s must be within [0,1] (got %v)", name, v)
		}
	}
	if _, err := GetModelProvider(cfg.LLM.DefaultModel); err != nil {
		return fmt.Errorf("llm.default_model: %w", err)
	}
	switch cfg.Tools.Sheets.Backend {
	case SheetsBackendMemory, SheetsBackendGoogle:
	default:
		return fmt.Errorf("tools.sheets.backend must be \"memory\" or \"google\" (got %q)", cfg.Tools.Sheets.Backend)
	}
	if cfg.Tools.Sheets.Backend == SheetsBackendGoogle && cfg.Tools.Sheets.CredentialsFile == "" && os.Getenv(EnvGoogleCredentials) == "" {
		return fmt.Errorf("tools.sheets.credentials_file is required for the google backend")
	}
	if cfg.LLM.RateLimit.TokensPerMinute < 0 || cfg.LLM.RateLimit.MaxConcurrency < 0 || cfg.LLM.RateLimit.MaxPerTenant < 0 {
		return fmt.Errorf("llm.rate_limit values must not be negative")
	}
	if cfg.Chat.RateLimitCount < 0 {
		return fmt.Errorf("chat.rate_limit_count must not be negative")
	}
	getLogger().Debug("config validated: pipeline=%s model=%s", a.DefaultPipeline, strings.TrimSpace(cfg.LLM.DefaultModel))
	return nil
}
