package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/crimson-sun/platewatch/internal/broker"
	"github.com/crimson-sun/platewatch/internal/wire"
)

// Subscriber registers a message handler for a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h broker.Handler) error
}

// Replay runs one history replay.
type Replay interface {
	Replay(ctx context.Context) (Result, error)
}

// Listener turns control messages into replays. At most one replay runs
// and at most one request waits behind it; further requests are dropped.
type Listener struct {
	replay   Replay
	requests chan struct{}
	dropped  atomic.Uint64
}

// NewListener creates a Listener driving replay.
func NewListener(replay Replay) *Listener {
	return &Listener{
		replay:   replay,
		requests: make(chan struct{}, 1),
	}
}

// Subscribe attaches the listener to the control topic.
func (l *Listener) Subscribe(ctx context.Context, sub Subscriber, topic string) error {
	if err := sub.Subscribe(ctx, topic, l.Handle); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

// Handle classifies an incoming payload. Only a request_history control
// message queues a replay; data messages, including our own replay output
// echoed back, are ignored. Handle never blocks.
func (l *Listener) Handle(topic string, payload []byte) {
	msg := wire.Decode(payload)
	switch {
	case msg.Kind == wire.KindControl && msg.Command == wire.RequestHistory:
		l.Request()
	case msg.Kind == wire.KindControl:
		slog.Debug("ignoring unknown control command", "topic", topic, "command", msg.Command)
	case msg.Kind == wire.KindUnknown:
		slog.Debug("ignoring unrecognized payload", "topic", topic, "size", len(payload))
	}
}

// Request queues a replay. It reports false when a request is already
// waiting and this one was dropped.
func (l *Listener) Request() bool {
	select {
	case l.requests <- struct{}{}:
		slog.Info("history replay requested")
		return true
	default:
		n := l.dropped.Add(1)
		slog.Warn("history replay already pending, dropping request", "dropped_total", n)
		return false
	}
}

// Run serves queued requests one at a time until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.requests:
			res, err := l.replay.Replay(ctx)
			if err != nil && ctx.Err() == nil {
				slog.Error("history replay failed",
					"error", err,
					"published", res.Published,
					"failed", res.Failed)
				continue
			}
			slog.Info("history replay finished",
				"records", res.Records,
				"published", res.Published,
				"failed", res.Failed,
				"elapsed", res.Elapsed)
		}
	}
}
