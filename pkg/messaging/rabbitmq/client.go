// Package rabbitmq implements the platform messaging contracts on top of
// RabbitMQ: durable topic routing with dead-letter topology, automatic
// reconnection with bounded backoff, and W3C trace context propagation
// through message headers.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chimera-analytics/chimera/pkg/messaging"
	"github.com/chimera-analytics/chimera/pkg/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client is a RabbitMQ-backed messaging.Bus. One client owns one broker
// connection plus a small set of logical channels, and at most one
// running consumer.
type Client struct {
	config  Config
	o11y    observability.Observability
	connMgr *connectionManager

	chMu     sync.Mutex
	channels map[string]*amqp.Channel

	// publishes are serialized; AMQP channels are not safe for
	// concurrent writes.
	pubMu sync.Mutex

	sub *subscriber

	closed atomic.Bool
}

var _ messaging.Bus = (*Client)(nil)

// New builds a client and establishes the first connection, failing fast
// when the broker is unreachable.
//
// Usage:
//
//	client, err := rabbitmq.New(o11y,
//	    rabbitmq.WithURL(cfg.Broker.URL()),
//	    rabbitmq.WithExchange(cfg.Broker.Exchange),
//	    rabbitmq.WithQueue("query-agent"),
//	    rabbitmq.WithServiceName("query-agent"),
//	    rabbitmq.WithEnvironment(cfg.Environment),
//	)
func New(o11y observability.Observability, opts ...Option) (*Client, error) {
	if o11y == nil {
		return nil, ErrMissingObservability
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.Queue == "" {
		config.Queue = config.ServiceName
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config:   config,
		o11y:     o11y,
		connMgr:  newConnectionManager(config, o11y),
		channels: make(map[string]*amqp.Channel),
	}
	client.sub = newSubscriber(client)

	if err := client.connMgr.connect(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// IsConnected reports whether a live broker connection exists.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.connMgr.isHealthy()
}

// Ping verifies the broker connection by opening and closing a throwaway
// channel.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	conn, err := c.connMgr.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: ping: %w", err)
	}
	return ch.Close()
}

// HealthCheck adapts Ping for health-check registries.
func (c *Client) HealthCheck() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.Ping(ctx)
	}
}

// RegisterHandler implements messaging.Subscriber. The pattern also
// becomes a queue binding when Consume declares the topology.
func (c *Client) RegisterHandler(pattern string, handler messaging.ConsumeHandler) {
	c.sub.register(pattern, handler)
}

// Consume implements messaging.Subscriber. It blocks until ctx is
// cancelled or the client is closed, re-subscribing after connection
// loss, and returns an error only when the transport cannot recover.
func (c *Client) Consume(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.sub.consume(ctx)
}

// Close stops consumption and tears down channels and the connection.
// Safe to call multiple times.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.sub.close()
	c.closeChannels()
	return c.connMgr.close()
}
