package rabbitmq

import (
	"errors"
	"time"
)

const (
	// DefaultHeartbeat keeps long-lived connections alive across
	// aggressive cloud load balancers.
	DefaultHeartbeat = 600 * time.Second

	// DefaultBlockedThreshold is how long the broker may block the
	// connection (memory or disk alarm) before it is treated as dead and
	// replaced.
	DefaultBlockedThreshold = 300 * time.Second

	DefaultConnectionTimeout = 30 * time.Second
	DefaultPublishTimeout    = 10 * time.Second

	DefaultReconnectInitialInterval = 1 * time.Second
	DefaultReconnectMaxInterval     = 60 * time.Second
	DefaultReconnectMaxAttempts     = 5

	DefaultPrefetchCount = 10

	// DefaultQueueMessageTTL drops messages nobody consumed for a day to
	// the dead-letter queue.
	DefaultQueueMessageTTL = 24 * time.Hour

	// DefaultDrainTimeout bounds how long shutdown waits for in-flight
	// handlers before giving up on them.
	DefaultDrainTimeout = 30 * time.Second
)

// Config holds every tunable of the RabbitMQ client. Zero values are
// filled by DefaultConfig; functional options override individual fields.
type Config struct {
	// URL is the full AMQP connection URL (amqp:// or amqps://).
	URL string

	// Exchange is the topic exchange all publishes and bindings use.
	Exchange string

	// Queue is the durable queue this client consumes from.
	Queue string

	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
	PublishTimeout    time.Duration
	BlockedThreshold  time.Duration

	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	ReconnectMaxAttempts     int

	// PrefetchCount bounds unacked deliveries per consumer and sizes the
	// handler worker pool.
	PrefetchCount int

	// QueueMessageTTL is applied to the main queue as x-message-ttl.
	// Zero declares the queue without a TTL.
	QueueMessageTTL time.Duration

	// DrainTimeout is how long Close and context cancellation wait for
	// in-flight handlers to finish.
	DrainTimeout time.Duration

	// ServiceName identifies this client in logs and as the AppId of
	// published messages.
	ServiceName string

	// Environment is the deployment environment (development, staging,
	// production). Production tightens topology warnings.
	Environment string
}

// DefaultConfig returns the production defaults. URL, Exchange and Queue
// have no useful default and must be set by the caller.
func DefaultConfig() Config {
	return Config{
		Heartbeat:                DefaultHeartbeat,
		ConnectionTimeout:        DefaultConnectionTimeout,
		PublishTimeout:           DefaultPublishTimeout,
		BlockedThreshold:         DefaultBlockedThreshold,
		ReconnectInitialInterval: DefaultReconnectInitialInterval,
		ReconnectMaxInterval:     DefaultReconnectMaxInterval,
		ReconnectMaxAttempts:     DefaultReconnectMaxAttempts,
		PrefetchCount:            DefaultPrefetchCount,
		QueueMessageTTL:          DefaultQueueMessageTTL,
		DrainTimeout:             DefaultDrainTimeout,
		Environment:              "development",
	}
}

// Validate checks the configuration before any connection is attempted.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}

	if c.Exchange == "" {
		return errors.New("rabbitmq: exchange name is required")
	}

	if c.Heartbeat <= 0 {
		return errors.New("rabbitmq: heartbeat must be positive")
	}

	if c.ConnectionTimeout <= 0 {
		return errors.New("rabbitmq: connection timeout must be positive")
	}

	if c.PublishTimeout <= 0 {
		return errors.New("rabbitmq: publish timeout must be positive")
	}

	if c.BlockedThreshold <= 0 {
		return errors.New("rabbitmq: blocked threshold must be positive")
	}

	if c.ReconnectInitialInterval <= 0 || c.ReconnectMaxInterval < c.ReconnectInitialInterval {
		return errors.New("rabbitmq: reconnect intervals must be positive and max >= initial")
	}

	if c.ReconnectMaxAttempts < 1 {
		return errors.New("rabbitmq: reconnect max attempts must be at least 1")
	}

	if c.PrefetchCount < 1 {
		return errors.New("rabbitmq: prefetch count must be at least 1")
	}

	if c.QueueMessageTTL < 0 {
		return errors.New("rabbitmq: queue message TTL cannot be negative")
	}

	if c.DrainTimeout <= 0 {
		return errors.New("rabbitmq: drain timeout must be positive")
	}

	return nil
}

// dlxName returns the dead-letter exchange paired with a main exchange.
func dlxName(exchange string) string {
	return exchange + ".dlx"
}

// dlqName returns the dead-letter queue paired with a main queue.
func dlqName(queue string) string {
	return queue + ".dlq"
}
