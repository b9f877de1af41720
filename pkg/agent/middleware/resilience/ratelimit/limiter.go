// Package ratelimit bounds per-provider LLM throughput with a token bucket,
// a concurrency cap and an optional per-tenant share of that cap.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

const (
	refillInterval = 6 * time.Second
	pollInterval   = 100 * time.Millisecond
	defaultMaxWait = 2 * time.Minute
)

var logger = logx.NewLogger("ratelimit")

// Limiter hands out capacity for one model request.
type Limiter interface {
	// Acquire blocks until tokens and a slot are free or ctx ends. The
	// returned func gives the slot back and must be called exactly once.
	Acquire(ctx context.Context, tokens int, tenantID string) (release func(), err error)
	GetStats() LimiterStats
}

// TokenEstimator sizes a request before it is sent.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// Config holds the limits for one provider.
type Config struct {
	TokensPerMinute int           `json:"tokens_per_minute"`
	MaxConcurrency  int           `json:"max_concurrency"`
	MaxPerTenant    int           `json:"max_per_tenant"`
	MaxWait         time.Duration `json:"max_wait"`
}

// FromConfig derives provider limits from the process configuration.
func FromConfig(cfg config.RateLimitConfig, requestTimeout time.Duration) Config {
	return Config{
		TokensPerMinute: cfg.TokensPerMinute,
		MaxConcurrency:  cfg.MaxConcurrency,
		MaxPerTenant:    cfg.MaxPerTenant,
		MaxWait:         2 * requestTimeout,
	}
}

type tiktokenEstimator struct{}

// NewDefaultTokenEstimator counts message and tool result text with tiktoken.
func NewDefaultTokenEstimator() TokenEstimator {
	return tiktokenEstimator{}
}

//nolint:gocritic // value receiver matches the middleware signature
func (tiktokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	n := 0
	for i := range req.Messages {
		n += utils.CountTokens(req.Messages[i].Content)
		for _, r := range req.Messages[i].ToolResults {
			n += utils.CountTokens(r.Content)
		}
	}
	return n
}

type lease struct {
	tenant  string
	granted time.Time
}

// TokenBucketLimiter is the Limiter for a single provider.
type TokenBucketLimiter struct {
	provider string
	capacity int
	perTick  int
	slots    int
	perTen   int
	stale    time.Duration
	maxWait  time.Duration

	mu       sync.Mutex
	tokens   int
	nextID   uint64
	leases   map[uint64]lease
	byTenant map[string]int

	tokenHits  int64
	slotHits   int64
	tenantHits int64
}

// LimiterStats is a snapshot of one limiter.
type LimiterStats struct {
	Provider        string `json:"provider"`
	AvailableTokens int    `json:"available_tokens"`
	MaxCapacity     int    `json:"max_capacity"`
	ActiveRequests  int    `json:"active_requests"`
	MaxConcurrency  int    `json:"max_concurrency"`
	ActiveTenants   int    `json:"active_tenants"`
	TokenLimitHits  int64  `json:"token_limit_hits"`
	ConcurrencyHits int64  `json:"concurrency_hits"`
	TenantCapHits   int64  `json:"tenant_cap_hits"`
}

// NewTokenBucketLimiter creates a limiter with a full bucket. Slots held
// for more than twice requestTimeout are reclaimed.
func NewTokenBucketLimiter(provider string, cfg Config, requestTimeout time.Duration) *TokenBucketLimiter {
	capacity := int(float64(cfg.TokensPerMinute) * config.RateLimitBufferFactor)
	l := &TokenBucketLimiter{
		provider: provider,
		capacity: capacity,
		tokens:   capacity,
		perTick:  cfg.TokensPerMinute / 10,
		slots:    max(cfg.MaxConcurrency, 1),
		perTen:   cfg.MaxPerTenant,
		stale:    2 * requestTimeout,
		maxWait:  cfg.MaxWait,
		leases:   make(map[uint64]lease),
		byTenant: make(map[string]int),
	}
	if l.maxWait <= 0 {
		l.maxWait = defaultMaxWait
	}
	return l
}

// blocker names what prevents a grant, or "" when the request fits.
// Caller holds l.mu.
func (l *TokenBucketLimiter) blocker(tokens int, tenant string) string {
	switch {
	case len(l.leases) >= l.slots:
		return "concurrency"
	case l.perTen > 0 && l.byTenant[tenant] >= l.perTen:
		return "tenant"
	case l.tokens < tokens:
		return "tokens"
	}
	return ""
}

// Acquire clamps requests larger than the bucket so they can still run.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int, tenantID string) (func(), error) {
	tokens = min(tokens, l.capacity)
	deadline := time.Now().Add(l.maxWait)
	counted := false

	for {
		l.mu.Lock()
		if len(l.leases) >= l.slots {
			l.reclaim()
		}
		why := l.blocker(tokens, tenantID)
		if why == "" {
			id := l.grant(tokens, tenantID)
			l.mu.Unlock()
			var once sync.Once
			return func() { once.Do(func() { l.release(id) }) }, nil
		}
		if !counted {
			l.countHit(why, tokens, tenantID)
			counted = true
		}
		l.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s rate limit: waited %v for %d tokens (tenant %s, blocked on %s)",
				l.provider, l.maxWait, tokens, tenantID, why)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // callers compare against context errors
		case <-time.After(pollInterval):
		}
	}
}

func (l *TokenBucketLimiter) grant(tokens int, tenant string) uint64 {
	l.tokens -= tokens
	l.nextID++
	l.leases[l.nextID] = lease{tenant: tenant, granted: time.Now()}
	l.byTenant[tenant]++
	return l.nextID
}

func (l *TokenBucketLimiter) countHit(why string, tokens int, tenant string) {
	switch why {
	case "tokens":
		l.tokenHits++
		logger.Info("%s bucket short for tenant %s: need %d, have %d", l.provider, tenant, tokens, l.tokens)
	case "concurrency":
		l.slotHits++
		logger.Info("%s has %d/%d requests in flight, tenant %s waits", l.provider, len(l.leases), l.slots, tenant)
	case "tenant":
		l.tenantHits++
		logger.Info("%s tenant %s already holds %d slots", l.provider, tenant, l.byTenant[tenant])
	}
}

// release frees the slot. Spent tokens stay spent.
func (l *TokenBucketLimiter) release(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop(id)
}

// drop is a no-op for leases already reclaimed. Caller holds l.mu.
func (l *TokenBucketLimiter) drop(id uint64) {
	ls, ok := l.leases[id]
	if !ok {
		return
	}
	delete(l.leases, id)
	if l.byTenant[ls.tenant] <= 1 {
		delete(l.byTenant, ls.tenant)
	} else {
		l.byTenant[ls.tenant]--
	}
}

// reclaim frees leases whose holder never released them. Caller holds l.mu.
func (l *TokenBucketLimiter) reclaim() {
	if l.stale <= 0 {
		return
	}
	cutoff := time.Now().Add(-l.stale)
	for id, ls := range l.leases {
		if ls.granted.Before(cutoff) {
			logger.Warn("%s reclaimed a slot held by tenant %s since %s", l.provider, ls.tenant, ls.granted.Format(time.RFC3339))
			l.drop(id)
		}
	}
}

func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	l.tokens = min(l.tokens+l.perTick, l.capacity)
	l.mu.Unlock()
}

func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		Provider:        l.provider,
		AvailableTokens: l.tokens,
		MaxCapacity:     l.capacity,
		ActiveRequests:  len(l.leases),
		MaxConcurrency:  l.slots,
		ActiveTenants:   len(l.byTenant),
		TokenLimitHits:  l.tokenHits,
		ConcurrencyHits: l.slotHits,
		TenantCapHits:   l.tenantHits,
	}
}

// ProviderLimiterMap holds one limiter per provider and refills them all.
type ProviderLimiterMap struct {
	limiters map[string]*TokenBucketLimiter
	cancel   context.CancelFunc
}

// NewProviderLimiterMap starts refilling until ctx ends or Stop is called.
func NewProviderLimiterMap(ctx context.Context, configs map[string]Config, requestTimeout time.Duration) *ProviderLimiterMap {
	ctx, cancel := context.WithCancel(ctx)
	m := &ProviderLimiterMap{limiters: make(map[string]*TokenBucketLimiter, len(configs)), cancel: cancel}
	for provider, cfg := range configs {
		m.limiters[provider] = NewTokenBucketLimiter(provider, cfg, requestTimeout)
	}
	go m.refillLoop(ctx)
	return m
}

func (p *ProviderLimiterMap) refillLoop(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range p.limiters {
				l.refill()
			}
		}
	}
}

func (p *ProviderLimiterMap) Stop() {
	p.cancel()
}

// GetLimiter returns the limiter of the provider serving modelName.
func (p *ProviderLimiterMap) GetLimiter(modelName string) (Limiter, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("cannot determine provider for model %s: %w", modelName, err)
	}
	if l, ok := p.limiters[provider]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("no rate limiter configured for provider %s", provider)
}

func (p *ProviderLimiterMap) GetAllStats() map[string]LimiterStats {
	out := make(map[string]LimiterStats, len(p.limiters))
	for name, l := range p.limiters {
		out[name] = l.GetStats()
	}
	return out
}
