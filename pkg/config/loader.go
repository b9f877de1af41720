package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. CAREMAX_AGENT_WINDOW_SIZE.
const EnvPrefix = "CAREMAX"

// Load reads configuration from path (optional) and CAREMAX_* environment
// variables, applies defaults, validates, and installs the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("caremax")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			getLogger().Info("no config file found, using defaults and environment")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := SetConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loaded, _ := GetConfig()
	return &loaded, nil
}

// Watch reloads the configuration whenever the file v was loaded from
// changes, and passes each valid reload to onChange. Invalid edits are logged
// and the previous configuration stays installed. It does nothing when v
// read no file.
func Watch(v *viper.Viper, onChange func(*Config)) bool {
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			getLogger().Warn("ignoring config change in %s: %v", e.Name, err)
			return
		}
		if err := SetConfig(cfg); err != nil {
			getLogger().Warn("ignoring invalid config change in %s: %v", e.Name, err)
			return
		}
		loaded, _ := GetConfig()
		getLogger().Info("config reloaded from %s", e.Name)
		if onChange != nil {
			onChange(&loaded)
		}
	})
	v.WatchConfig()
	return true
}

// bindDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func bindDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.prometheus_url", "")
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("tenants_file", "")

	v.SetDefault("llm.default_model", d.LLM.DefaultModel)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.rate_limit.tokens_per_minute", d.LLM.RateLimit.TokensPerMinute)
	v.SetDefault("llm.rate_limit.max_concurrency", d.LLM.RateLimit.MaxConcurrency)
	v.SetDefault("llm.metrics.enabled", true)
	v.SetDefault("llm.metrics.namespace", d.LLM.Metrics.Namespace)
	v.SetDefault("llm.resilience.timeout", d.LLM.Resilience.Timeout)
	v.SetDefault("llm.resilience.retry.max_attempts", d.LLM.Resilience.Retry.MaxAttempts)
	v.SetDefault("llm.resilience.retry.initial_delay", d.LLM.Resilience.Retry.InitialDelay)
	v.SetDefault("llm.resilience.retry.max_delay", d.LLM.Resilience.Retry.MaxDelay)
	v.SetDefault("llm.resilience.retry.backoff_factor", d.LLM.Resilience.Retry.BackoffFactor)
	v.SetDefault("llm.resilience.retry.jitter", d.LLM.Resilience.Retry.Jitter)
	v.SetDefault("llm.resilience.circuit_breaker.failure_threshold", d.LLM.Resilience.CircuitBreaker.FailureThreshold)
	v.SetDefault("llm.resilience.circuit_breaker.success_threshold", d.LLM.Resilience.CircuitBreaker.SuccessThreshold)
	v.SetDefault("llm.resilience.circuit_breaker.timeout", d.LLM.Resilience.CircuitBreaker.Timeout)

	v.SetDefault("agent.default_pipeline", d.Agent.DefaultPipeline)
	v.SetDefault("agent.window_size", d.Agent.WindowSize)
	v.SetDefault("agent.log_window", d.Agent.LogWindow)
	v.SetDefault("agent.max_summaries", d.Agent.MaxSummaries)
	v.SetDefault("agent.summary_candidates", d.Agent.SummaryCandidates)
	v.SetDefault("agent.max_rag_chunks", d.Agent.MaxRAGChunks)
	v.SetDefault("agent.max_topics", d.Agent.MaxTopics)
	v.SetDefault("agent.note_dedupe_threshold", d.Agent.NoteDedupeThreshold)
	v.SetDefault("agent.note_dedupe_window", d.Agent.NoteDedupeWindow)
	v.SetDefault("agent.consolidation_threshold", d.Agent.ConsolidationThreshold)
	v.SetDefault("agent.max_tool_iterations", d.Agent.MaxToolIterations)
	v.SetDefault("agent.min_fragment_len", d.Agent.MinFragmentLen)
	v.SetDefault("agent.intent_fallback_confidence", d.Agent.IntentFallbackConfidence)

	v.SetDefault("chat.rate_limit_count", d.Chat.RateLimitCount)
	v.SetDefault("chat.rate_limit_window", d.Chat.RateLimitWindow)
	v.SetDefault("chat.max_message_chars", d.Chat.MaxMessageChars)
	v.SetDefault("chat.history_limit", d.Chat.HistoryLimit)
	v.SetDefault("chat.scan_timeout_ms", d.Chat.ScanTimeoutMs)
	v.SetDefault("chat.disable_redaction", false)

	v.SetDefault("tools.search.provider", "")
	v.SetDefault("tools.search.api_key", "")
	v.SetDefault("tools.search.cx", "")
	v.SetDefault("tools.sheets.backend", d.Tools.Sheets.Backend)
	v.SetDefault("tools.sheets.credentials_file", "")
	v.SetDefault("tools.sheets.booking_range", d.Tools.Sheets.BookingRange)
	v.SetDefault("tools.sheets.query_range", d.Tools.Sheets.QueryRange)
	v.SetDefault("tools.whatsapp.api_url", d.Tools.WhatsApp.APIURL)
	v.SetDefault("tools.whatsapp.token", "")
	v.SetDefault("tools.whatsapp.phone_number_id", "")
}
