// Package mqtt publishes live transition events to an MQTT topic.
package mqtt

import (
	"context"
	"fmt"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/wire"
)

// Publisher is the subset of the broker client the output needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Output writes each event as one JSON message on topic. It does not own
// the connection; Close is a no-op.
type Output struct {
	pub   Publisher
	topic string
}

// New creates an Output publishing to topic through pub.
func New(pub Publisher, topic string) *Output {
	return &Output{pub: pub, topic: topic}
}

// Topic returns the destination topic.
func (o *Output) Topic() string { return o.topic }

func (o *Output) Write(ctx context.Context, event model.TransitionEvent) error {
	payload, err := wire.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("mqtt output: %w", err)
	}
	if err := o.pub.Publish(ctx, o.topic, payload); err != nil {
		return fmt.Errorf("mqtt output: %w", err)
	}
	return nil
}

func (o *Output) Close() error { return nil }
