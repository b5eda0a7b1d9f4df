package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/crimson-sun/platewatch/internal/model"
)

type mockWriter struct {
	msgs     []kafka.Message
	deadline bool
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestNewRequiresBrokersAndTopic(t *testing.T) {
	if _, err := New(nil, "plates"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := New([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
	out, err := New([]string{"localhost:9092"}, "plates")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out.Close()
}

func TestWriteKeysByPlate(t *testing.T) {
	w := &mockWriter{}
	out := &Output{writer: w, topic: "plates", writeTimeout: time.Second}
	ev := model.TransitionEvent{Plate: "1-ACD-234", Timestamp: 1773478800}

	if err := out.Write(context.Background(), ev); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "1-ACD-234" {
		t.Errorf("key = %q", msg.Key)
	}
	if string(msg.Value) != `{"plate_text":"1-ACD-234","timestamp":1773478800}` {
		t.Errorf("value = %s", msg.Value)
	}
	if !msg.Time.Equal(time.Unix(1773478800, 0)) {
		t.Errorf("time = %v", msg.Time)
	}
	if !w.deadline {
		t.Error("write context has no deadline")
	}
}

func TestWriteWrapsError(t *testing.T) {
	sentinel := errors.New("leader not available")
	w := &mockWriter{err: sentinel}
	out := &Output{writer: w, topic: "plates", writeTimeout: time.Second}

	if err := out.Write(context.Background(), model.TransitionEvent{Plate: "1-ACD-234"}); !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want wrapped sentinel", err)
	}
	out.Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}
