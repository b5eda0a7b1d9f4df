package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/output"
)

const (
	defaultBufferSize   = 64
	defaultDrainTimeout = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 64.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning via slog.
func WithOnError(f func(model.TransitionEvent, error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithBlockOnFull makes Write wait for buffer space instead of dropping.
func WithBlockOnFull() Option {
	return func(a *Async) { a.dropOnFull = false }
}

// WithWriteTimeout bounds each inner Write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Async) { a.writeTimeout = d }
}

// Async decouples the frame loop from live delivery via a buffered channel.
// A background goroutine drains the channel into the wrapped output. Errors
// from the inner output go to errFunc and never reach the caller. By default
// a full buffer drops the event.
type Async struct {
	inner        output.Output
	ch           chan model.TransitionEvent
	done         chan struct{}
	errFunc      func(model.TransitionEvent, error)
	bufSize      int
	dropOnFull   bool
	writeTimeout time.Duration
	closeOnce    sync.Once

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// New wraps an output.Output in an async channel-based writer.
// The background drain goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		dropOnFull:   true,
		writeTimeout: defaultWriteTimeout,
		errFunc: func(ev model.TransitionEvent, err error) {
			slog.Warn("live publish failed", "plate", ev.Plate, "error", err)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.TransitionEvent, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write queues the event. Writes after Close are discarded.
func (a *Async) Write(ctx context.Context, event model.TransitionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}

	if a.dropOnFull {
		select {
		case a.ch <- event:
		default:
			a.dropped++
			slog.Warn("live output buffer full, dropping event",
				"plate", event.Plate, "dropped_total", a.dropped)
		}
		return nil
	}

	select {
	case a.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (a *Async) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops accepting events, waits for the drain goroutine to finish
// (with a timeout), then closes the inner output.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-time.After(defaultDrainTimeout):
			slog.Warn("live output drain timed out")
		}
		err = a.inner.Close()
	})
	return err
}

func (a *Async) drain() {
	defer close(a.done)
	for event := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		if err := a.inner.Write(ctx, event); err != nil {
			a.errFunc(event, err)
		}
		cancel()
	}
}
