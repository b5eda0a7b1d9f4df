// Package kafka mirrors live transition events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/wire"
)

const defaultWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Output writes each event as a JSON message keyed by plate, so every
// transition of one plate lands on the same partition in order.
type Output struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
}

// New creates a Kafka output for topic. brokers must be non-empty.
func New(brokers []string, topic string) (*Output, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka output: brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Output{writer: w, topic: topic, writeTimeout: defaultWriteTimeout}, nil
}

func (o *Output) Write(ctx context.Context, event model.TransitionEvent) error {
	payload, err := wire.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("kafka output: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, o.writeTimeout)
	defer cancel()

	err = o.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.Plate),
		Value: payload,
		Time:  event.Time(),
	})
	if err != nil {
		return fmt.Errorf("kafka output: write %s: %w", o.topic, err)
	}
	return nil
}

func (o *Output) Close() error {
	return o.writer.Close()
}
