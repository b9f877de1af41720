// Package limiter provides a keyed fixed-window rate limiter with expiring entries.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimit is returned when a key has used up its window.
var ErrRateLimit = errors.New("rate limit exceeded")

// Limiter counts events per key inside fixed windows. Entries expire when
// their window ends. It holds no global state; callers own the instance.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration
	now     func() time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter that allows limit events per window per key.
// A limit <= 0 disables limiting.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one event for key, or returns ErrRateLimit if the key's
// current window is full.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return nil
	}

	now := l.now()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(l.window)}
		return nil
	}
	if e.count >= l.limit {
		return ErrRateLimit
	}
	e.count++
	return nil
}

// Status returns how many events key has used and when its window ends.
// An unknown or expired key reports zero.
func (l *Limiter) Status(key string) (used int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || !l.now().Before(e.resetAt) {
		return 0, time.Time{}
	}
	return e.count, e.resetAt
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Configure changes the limit and window. Windows already open keep their
// end time; counts are checked against the new limit.
func (l *Limiter) Configure(limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.window = window
}

// ResetAll forgets every key.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

// Sweep drops expired entries and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys, expired or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps expired entries every interval until ctx is done. Without an
// interval or window it returns at once.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		l.mu.Lock()
		interval = l.window
		l.mu.Unlock()
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
