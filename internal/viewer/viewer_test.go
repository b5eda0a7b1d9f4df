package viewer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/platewatch/internal/broker"
	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/wire"
)

type mockPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []string
	err      error
}

func (m *mockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, string(payload))
	return m.err
}

func (m *mockPublisher) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.payloads...)
}

type mockSubscriber struct {
	handlers map[string]broker.Handler
	err      error
}

func (m *mockSubscriber) Subscribe(_ context.Context, topic string, h broker.Handler) error {
	if m.err != nil {
		return m.err
	}
	if m.handlers == nil {
		m.handlers = make(map[string]broker.Handler)
	}
	m.handlers[topic] = h
	return nil
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestRender(t *testing.T) {
	amsterdam := time.FixedZone("CET", 3600)
	tests := []struct {
		name    string
		payload string
		loc     *time.Location
		want    string
	}{
		{"utc", `{"plate_text":"1-ACD-234","timestamp":1773478800.0}`, time.UTC, "(1-ACD-234, 2026-03-14 09:00:00)"},
		{"local zone", `{"plate_text":"1-ACD-234","timestamp":1773478800.0}`, amsterdam, "(1-ACD-234, 2026-03-14 10:00:00)"},
		{"string timestamp", `{"plate_text":"2-XYZ-987","timestamp":"1773478800"}`, time.UTC, "(2-XYZ-987, 2026-03-14 09:00:00)"},
		{"unparseable timestamp", `{"plate_text":"2-XYZ-987","timestamp":"yesterday"}`, time.UTC, "(2-XYZ-987, yesterday)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := wire.Decode([]byte(tt.payload))
			if msg.Kind != wire.KindData {
				t.Fatalf("payload decoded as %v", msg.Kind)
			}
			if got := Render(msg, tt.loc); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleRendersDataAndSkipsControl(t *testing.T) {
	var buf bytes.Buffer
	v := New(&buf, &mockPublisher{}, "platewatch/history", WithLocation(time.UTC))

	ev, _ := wire.EncodeEvent(model.NewTransitionEvent("1-ACD-234", t0))
	v.Handle("platewatch/live", ev)
	v.Handle("platewatch/history", ev)
	v.Handle("platewatch/history", []byte(wire.RequestHistory))
	v.Handle("platewatch/history", []byte("garbage"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("rendered %d lines, want 2: %q", len(lines), buf.String())
	}
	for _, l := range lines {
		if l != "(1-ACD-234, 2026-03-14 09:00:00)" {
			t.Errorf("line = %q", l)
		}
	}

	counts, ignored := v.Counts()
	if counts["platewatch/live"] != 1 || counts["platewatch/history"] != 1 || ignored != 2 {
		t.Errorf("counts = %v, ignored = %d", counts, ignored)
	}
}

func TestSubscribeDeduplicatesTopics(t *testing.T) {
	sub := &mockSubscriber{}
	v := New(&bytes.Buffer{}, &mockPublisher{}, "h")

	if err := v.Subscribe(context.Background(), sub, "live", "history", "history", ""); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(sub.handlers) != 2 {
		t.Errorf("subscribed %d topics, want 2", len(sub.handlers))
	}

	failing := &mockSubscriber{err: errors.New("refused")}
	if err := v.Subscribe(context.Background(), failing, "live"); err == nil {
		t.Error("expected subscribe error")
	}
}

func TestRequestHistory(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"plain", nil, wire.RequestHistory},
		{"tagged", []Option{WithTaggedControl()}, `{"type":"control","command":"request_history"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			v := New(&bytes.Buffer{}, pub, "platewatch/history", tt.opts...)
			if err := v.RequestHistory(context.Background()); err != nil {
				t.Fatalf("RequestHistory: %v", err)
			}
			if got := pub.sent(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("sent = %q, want [%q]", got, tt.want)
			}
			if pub.topics[0] != "platewatch/history" {
				t.Errorf("topic = %q", pub.topics[0])
			}
		})
	}
}

func TestReadCommands(t *testing.T) {
	pub := &mockPublisher{}
	v := New(&bytes.Buffer{}, pub, "h")

	in := strings.NewReader("r\n\nhelp\n R \nq\nr\n")
	if err := v.ReadCommands(context.Background(), in); err != nil {
		t.Fatalf("ReadCommands: %v", err)
	}
	if got := len(pub.sent()); got != 2 {
		t.Errorf("sent %d requests, want 2 (commands after q are not read)", got)
	}
}

func TestReadCommandsEOF(t *testing.T) {
	pub := &mockPublisher{err: errors.New("not connected")}
	v := New(&bytes.Buffer{}, pub, "h")

	err := v.ReadCommands(context.Background(), strings.NewReader("r\n"))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF (publish failure should not end the loop)", err)
	}
	if len(pub.sent()) != 1 {
		t.Errorf("sent = %v", pub.sent())
	}
}

func TestReadCommandsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	v := New(&bytes.Buffer{}, &mockPublisher{}, "h")
	if err := v.ReadCommands(ctx, pr); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
