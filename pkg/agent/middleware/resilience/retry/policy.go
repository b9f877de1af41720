// Package retry provides exponential-backoff retries for LLM calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llmerrors"
	"github.com/vortexion256/caremax-sub002/pkg/agent/middleware/resilience/circuit"
	"github.com/vortexion256/caremax-sub002/pkg/config"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           // Including the initial attempt
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// FromConfig converts the process retry settings.
func FromConfig(c config.RetryConfig) Config {
	return Config{
		MaxAttempts:   c.MaxAttempts,
		InitialDelay:  c.InitialDelay,
		MaxDelay:      c.MaxDelay,
		BackoffFactor: c.BackoffFactor,
		Jitter:        c.Jitter,
	}
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry retries classified retryable errors. Cancellation and
// open-circuit errors are never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}
	return llmerrors.IsRetryable(err)
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy. A nil classifier uses ShouldRetry.
func NewPolicy(cfg Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Policy{Config: cfg, Classifier: classifier}
}

// CalculateDelay computes the delay before the given attempt (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	factor := p.Config.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(factor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}
	if p.Config.Jitter && delay > 0 {
		// +/-10%
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}
	return delay
}

// ShouldRetry determines if an error should be retried.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
