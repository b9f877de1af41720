package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/vortexion256/caremax-sub002/pkg/agent/internal/llmimpl/anthropic"
	"github.com/vortexion256/caremax-sub002/pkg/agent/internal/llmimpl/google"
	"github.com/vortexion256/caremax-sub002/pkg/agent/internal/llmimpl/ollama"
	"github.com/vortexion256/caremax-sub002/pkg/agent/internal/llmimpl/openaiofficial"
	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/metrics"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/resilience/circuit"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/resilience/ratelimit"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/resilience/retry"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/resilience/timeout"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

// RawClientFunc builds an unwrapped provider client.
type RawClientFunc func(provider, apiKey, model string) (llm.LLMClient, error)

// ClientSource hands out a ready-to-use client for a model id. An empty model
// selects the process default.
type ClientSource interface {
	ClientFor(model string) (llm.LLMClient, error)
}

// LLMClientFactory creates LLM clients with properly configured middleware chains.
// Clients are cached per model so every tenant on the same model shares
// breaker, limiter and connection state.
type LLMClientFactory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
	circuitBreakers map[string]circuit.Breaker // per-provider circuit breakers
	rateLimitMap    *ratelimit.ProviderLimiterMap
	newRaw          RawClientFunc
	logger          *logx.Logger

	mu      sync.Mutex
	clients map[string]llm.LLMClient
}

// FactoryOption customizes an LLMClientFactory.
type FactoryOption func(*LLMClientFactory)

// WithRawClient replaces provider client construction, mainly for tests.
func WithRawClient(fn RawClientFunc) FactoryOption {
	return func(f *LLMClientFactory) {
		f.newRaw = fn
	}
}

// NewLLMClientFactory creates a new LLM client factory with the given configuration.
// The rate limiter refill goroutines stop when ctx is done or Close is called.
func NewLLMClientFactory(ctx context.Context, cfg config.Config, recorder metrics.Recorder, opts ...FactoryOption) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	providers := []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama}

	circuitBreakers := make(map[string]circuit.Breaker, len(providers))
	rateLimitConfigs := make(map[string]ratelimit.Config, len(providers))
	for _, p := range providers {
		circuitBreakers[p] = circuit.New(circuit.FromConfig(p, cfg.LLM.Resilience.CircuitBreaker))
		rateLimitConfigs[p] = ratelimit.FromConfig(cfg.LLM.RateLimit, cfg.LLM.Resilience.Timeout)
	}

	f := &LLMClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
		circuitBreakers: circuitBreakers,
		rateLimitMap:    ratelimit.NewProviderLimiterMap(ctx, rateLimitConfigs, cfg.LLM.Resilience.Timeout),
		newRaw:          newProviderClient,
		logger:          logx.NewLogger("llm-factory"),
		clients:         make(map[string]llm.LLMClient),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ClientFor returns the cached client for model, building it on first use.
func (f *LLMClientFactory) ClientFor(model string) (llm.LLMClient, error) {
	if model == "" {
		model = f.config.LLM.DefaultModel
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[model]; ok {
		return c, nil
	}
	c, err := f.createClientWithMiddleware(model)
	if err != nil {
		return nil, err
	}
	f.clients[model] = c
	return c, nil
}

// Close stops the rate limiter goroutines.
func (f *LLMClientFactory) Close() {
	f.rateLimitMap.Stop()
}

// RateLimitStats exposes limiter state per provider.
func (f *LLMClientFactory) RateLimitStats() map[string]ratelimit.LimiterStats {
	return f.rateLimitMap.GetAllStats()
}

func newProviderClient(provider, apiKey, model string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// createClientWithMiddleware creates a client with the full middleware chain.
func (f *LLMClientFactory) createClientWithMiddleware(modelName string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	// For Ollama this is the host URL.
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	rawClient, err := f.newRaw(provider, apiKey, modelName)
	if err != nil {
		return nil, err
	}

	circuitBreaker, exists := f.circuitBreakers[provider]
	if !exists {
		return nil, fmt.Errorf("no circuit breaker found for provider %s", provider)
	}

	retryPolicy := retry.NewPolicy(retry.FromConfig(f.config.LLM.Resilience.Retry), nil)

	// Build the middleware chain in the correct order:
	// Metrics -> CircuitBreaker -> Retry -> RateLimit -> Timeout -> RawClient
	client := llm.Chain(rawClient,
		metrics.Middleware(f.metricsRecorder, nil, f.logger),
		circuit.Middleware(circuitBreaker),
		retry.Middleware(retryPolicy),
		ratelimit.Middleware(f.rateLimitMap, nil, f.metricsRecorder),
		timeout.Middleware(f.config.LLM.Resilience.Timeout),
	)

	f.logger.Info("created %s client for model %s", provider, modelName)
	return client, nil
}
