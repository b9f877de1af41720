// Package learning extracts durable knowledge from conversations a human
// handled, in detached background tasks.
package learning

import (
	"context"
	"fmt"
	"sync"

	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

// ErrorHandler receives the error of a failed task. It is mandatory.
type ErrorHandler func(name string, err error)

// Task is a detached unit of background work. Its error is always delivered
// to the handler given at start; callers never need to observe it.
type Task struct {
	name string
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Go runs fn in its own goroutine, detached from the cancellation of ctx,
// and reports a returned error or panic to onError. onError must not be nil.
func Go(ctx context.Context, name string, fn func(ctx context.Context) error, onError ErrorHandler) *Task {
	if onError == nil {
		panic("learning.Go: error handler is required")
	}
	t := &Task{name: name, done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)

	go func() {
		defer close(t.done)
		err := run(detached, fn)
		if err != nil {
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			onError(name, err)
		}
	}()
	return t
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done and returns the task
// error. Intended for tests and graceful shutdown.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", t.name, ctx.Err())
	}
}

// LogErrors is an ErrorHandler that logs through logger.
func LogErrors(logger *logx.Logger) ErrorHandler {
	return func(name string, err error) {
		logger.Error("background task %s failed: %v", name, err)
	}
}
