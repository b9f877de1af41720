// Package circuit stops calling a model provider that keeps failing, so
// conversations fall back to safe replies instead of waiting on timeouts.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "CLOSED", Open: "OPEN", HalfOpen: "HALF_OPEN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Config tunes one breaker. Provider only labels log lines.
type Config struct {
	Provider         string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func FromConfig(provider string, c config.CircuitBreakerConfig) Config {
	return Config{
		Provider:         provider,
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Timeout:          c.Timeout,
	}
}

// Error is returned without calling the provider while the circuit is open.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker tracks provider health. Every allowed call must be followed by
// exactly one Record.
type Breaker interface {
	Allow() bool
	Record(success bool)
	GetState() State
	Reset()
}

type breaker struct {
	cfg    Config
	now    func() time.Time
	logger *logx.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool // a half-open trial call is in flight
}

func New(cfg Config) Breaker {
	return &breaker{cfg: cfg, now: time.Now, logger: logx.NewLogger("circuit")}
}

// Allow lets one trial call through once the open timeout has passed and
// rejects the rest until that call is recorded.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Timeout {
		b.moveTo(HalfOpen)
	}
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if !success {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.moveTo(Open)
		}
		return
	}
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		if b.successes++; b.successes >= b.cfg.SuccessThreshold {
			b.moveTo(Closed)
		}
	}
}

// moveTo resets the counters for the new state. Caller holds b.mu.
func (b *breaker) moveTo(s State) {
	if s == b.state {
		return
	}
	b.logger.Warn("%s circuit %s -> %s after %d failures", b.cfg.Provider, b.state, s, b.failures)
	b.state = s
	b.successes = 0
	if s == Closed {
		b.failures = 0
	}
}

func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.failures, b.successes, b.probing = Closed, 0, 0, false
}
