// Package viewer renders transition events received on the live and
// history topics and sends history requests on behalf of a user.
package viewer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crimson-sun/platewatch/internal/broker"
	"github.com/crimson-sun/platewatch/internal/wire"
)

// TimeLayout is the rendered local time of an event.
const TimeLayout = "2006-01-02 15:04:05"

// Subscriber registers a handler for a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h broker.Handler) error
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Render formats a data message as "(plate, YYYY-MM-DD HH:MM:SS)" in loc.
// A timestamp that did not parse is shown as it appeared on the wire.
func Render(msg wire.Message, loc *time.Location) string {
	when := msg.RawTimestamp
	if msg.TimestampOK {
		when = msg.Event.Time().In(loc).Format(TimeLayout)
	}
	return fmt.Sprintf("(%s, %s)", msg.Event.Plate, when)
}

// Option configures a Viewer.
type Option func(*Viewer)

// WithLocation renders times in loc. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(v *Viewer) { v.loc = loc }
}

// WithTaggedControl sends history requests as the tagged control envelope
// instead of the plain text trigger.
func WithTaggedControl() Option {
	return func(v *Viewer) { v.tagged = true }
}

// Viewer prints every data message it receives, one line each.
type Viewer struct {
	pub          Publisher
	controlTopic string
	tagged       bool
	loc          *time.Location

	mu      sync.Mutex
	out     io.Writer
	counts  map[string]uint64
	ignored uint64
}

// New creates a Viewer writing to out and sending history requests to
// controlTopic through pub.
func New(out io.Writer, pub Publisher, controlTopic string, opts ...Option) *Viewer {
	v := &Viewer{
		pub:          pub,
		controlTopic: controlTopic,
		loc:          time.Local,
		out:          out,
		counts:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Subscribe registers the viewer on every topic. Duplicate topics are
// subscribed once.
func (v *Viewer) Subscribe(ctx context.Context, sub Subscriber, topics ...string) error {
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		if err := sub.Subscribe(ctx, topic, v.Handle); err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
	}
	return nil
}

// Handle renders data payloads. Control payloads, including the viewer's
// own history requests echoed back, are skipped.
func (v *Viewer) Handle(topic string, payload []byte) {
	msg := wire.Decode(payload)
	if msg.Kind != wire.KindData {
		v.mu.Lock()
		v.ignored++
		v.mu.Unlock()
		slog.Debug("viewer skipped payload", "topic", topic, "kind", msg.Kind)
		return
	}

	line := Render(msg, v.loc)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[topic]++
	if _, err := fmt.Fprintln(v.out, line); err != nil {
		slog.Warn("viewer write failed", "error", err)
	}
}

// RequestHistory asks the detector to replay its ledger.
func (v *Viewer) RequestHistory(ctx context.Context) error {
	if err := v.pub.Publish(ctx, v.controlTopic, wire.EncodeControl(wire.RequestHistory, v.tagged)); err != nil {
		return fmt.Errorf("viewer: request history: %w", err)
	}
	slog.Info("history requested", "topic", v.controlTopic)
	return nil
}

// ReadCommands reads user commands from r, one per line, until the user
// quits or ctx is done. "r" requests history and "q" quits. It returns nil
// on quit and io.EOF when r ends first.
func (v *Viewer) ReadCommands(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return err
					}
				default:
				}
				return io.EOF
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "r":
				if err := v.RequestHistory(ctx); err != nil {
					slog.Warn("history request failed", "error", err)
				}
			case "q", "quit", "exit":
				return nil
			case "":
			default:
				slog.Info("unknown command, use r to request history or q to quit", "command", line)
			}
		}
	}
}

// Counts returns the number of rendered messages per topic and the number
// of skipped payloads.
func (v *Viewer) Counts() (map[string]uint64, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]uint64, len(v.counts))
	for k, n := range v.counts {
		out[k] = n
	}
	return out, v.ignored
}
