// Package broker owns the MQTT connection shared by the live publisher,
// the history replayer and the history request listener.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	disconnectQuiesceMs   = 250
)

// ErrNotConnected is returned by Publish while the connection is down.
var ErrNotConnected = errors.New("broker: not connected")

// Handler receives subscribed messages. It runs on the MQTT client's
// callback goroutine and must not block.
type Handler func(topic string, payload []byte)

// Config holds connection settings.
type Config struct {
	Broker         string // host:port or a full tcp://, ssl://, ws:// URL
	ClientID       string // default: platewatch-<random>
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Stats contains connection statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Client publishes and subscribes over a single MQTT connection. It
// reconnects automatically and restores subscriptions after a reconnect.
type Client struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	subs      map[string]Handler
	published map[string]uint64
	errors    uint64
}

// New creates an unconnected Client.
func New(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "platewatch-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Client{
		cfg:       cfg,
		subs:      make(map[string]Handler),
		published: make(map[string]uint64),
	}
}

// BrokerURL normalizes a broker address to a URL paho accepts.
func BrokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// Connect establishes the connection, waiting at most ConnectTimeout or
// until ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(c.cfg.Broker))
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(mc mqtt.Client) {
		c.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", c.cfg.Broker,
			"client_id", c.cfg.ClientID)
		c.resubscribe(mc)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", c.cfg.Broker)
	}

	c.client = mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", c.cfg.Broker)

	if err := c.wait(ctx, c.client.Connect(), c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("broker: connect %s: %w", c.cfg.Broker, err)
	}
	c.setConnected(true)
	return nil
}

// Publish sends payload to topic and waits for the broker handshake of the
// configured QoS, bounded by PublishTimeout and ctx.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		c.countError()
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if err := c.wait(ctx, token, c.cfg.PublishTimeout); err != nil {
		c.countError()
		return fmt.Errorf("broker: publish %s: %w", topic, err)
	}

	c.mu.Lock()
	c.published[topic]++
	c.mu.Unlock()

	slog.Debug("mqtt message published", "topic", topic, "size", len(payload))
	return nil
}

// Subscribe registers h for topic. The subscription is restored on every
// reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	token := c.client.Subscribe(topic, c.cfg.QoS, messageHandler(h))
	if err := c.wait(ctx, token, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("broker: subscribe %s: %w", topic, err)
	}
	slog.Info("subscribed to topic", "topic", topic, "qos", c.cfg.QoS)
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesceMs)
		slog.Info("mqtt disconnected")
	}
	c.setConnected(false)
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns a copy of the connection statistics.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	published := make(map[string]uint64, len(c.published))
	for k, v := range c.published {
		published[k] = v
	}
	return Stats{Connected: c.connected, Published: published, Errors: c.errors}
}

func (c *Client) resubscribe(mc mqtt.Client) {
	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.RUnlock()

	for topic, h := range subs {
		token := mc.Subscribe(topic, c.cfg.QoS, messageHandler(h))
		go func(topic string) {
			if !token.WaitTimeout(c.cfg.ConnectTimeout) || token.Error() != nil {
				slog.Warn("mqtt resubscribe failed", "topic", topic, "error", token.Error())
			}
		}(topic)
	}
}

// wait blocks until token completes, timeout elapses or ctx is done.
func (c *Client) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func messageHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}
