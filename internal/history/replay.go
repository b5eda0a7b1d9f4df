// Package history serves the replay channel: it listens for history
// requests and re-emits every ledger record on the history topic.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/wire"
)

const (
	DefaultPace           = 100 * time.Millisecond
	DefaultMaxDuration    = 5 * time.Minute
	DefaultPublishTimeout = 2 * time.Second
)

// Source yields ledger records in append order.
type Source interface {
	Scan(ctx context.Context, fn func(model.TransitionRecord) error) error
}

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Result summarizes one replay.
type Result struct {
	Records   int
	Published int
	Failed    int
	Elapsed   time.Duration
}

// ReplayOption configures a Replayer.
type ReplayOption func(*Replayer)

// WithPace sets the delay between two published records. Zero disables
// pacing.
func WithPace(d time.Duration) ReplayOption {
	return func(r *Replayer) { r.pace = d }
}

// WithMaxDuration bounds a whole replay.
func WithMaxDuration(d time.Duration) ReplayOption {
	return func(r *Replayer) { r.maxDuration = d }
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) ReplayOption {
	return func(r *Replayer) { r.publishTimeout = d }
}

// Replayer reads the ledger and publishes one data message per record.
// It never writes to the ledger.
type Replayer struct {
	src            Source
	pub            Publisher
	topic          string
	pace           time.Duration
	maxDuration    time.Duration
	publishTimeout time.Duration
}

// NewReplayer creates a Replayer publishing to topic.
func NewReplayer(src Source, pub Publisher, topic string, opts ...ReplayOption) *Replayer {
	r := &Replayer{
		src:            src,
		pub:            pub,
		topic:          topic,
		pace:           DefaultPace,
		maxDuration:    DefaultMaxDuration,
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replay publishes every record in append order. A failed publish is
// logged and skipped. Replay stops early when ctx is done or the replay
// exceeds its maximum duration; the returned Result covers what was sent.
func (r *Replayer) Replay(ctx context.Context) (Result, error) {
	start := time.Now()
	if r.maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.maxDuration)
		defer cancel()
	}

	var res Result
	err := r.src.Scan(ctx, func(rec model.TransitionRecord) error {
		if res.Records > 0 && r.pace > 0 {
			if err := sleep(ctx, r.pace); err != nil {
				return err
			}
		}
		res.Records++

		payload, err := wire.EncodeEvent(rec.Event())
		if err != nil {
			res.Failed++
			return nil
		}

		pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		err = r.pub.Publish(pubCtx, r.topic, payload)
		cancel()
		if err != nil {
			res.Failed++
			slog.Warn("history publish failed",
				"plate", rec.Plate,
				"direction", rec.Direction,
				"error", err)
			return ctx.Err()
		}
		res.Published++
		return nil
	})
	res.Elapsed = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return res, fmt.Errorf("history: replay exceeded %s: %w", r.maxDuration, err)
		}
		return res, fmt.Errorf("history: replay: %w", err)
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
