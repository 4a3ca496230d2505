package rabbitmq

import "time"

// Option mutates the client configuration before the first connection.
type Option func(*Config)

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithURL sets the AMQP connection URL.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithExchange sets the topic exchange used for publishing and bindings.
func WithExchange(exchange string) Option {
	return func(c *Config) {
		c.Exchange = exchange
	}
}

// WithQueue sets the durable queue this client consumes from.
func WithQueue(queue string) Option {
	return func(c *Config) {
		c.Queue = queue
	}
}

// WithHeartbeat sets the AMQP heartbeat interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(c *Config) {
		c.Heartbeat = interval
	}
}

// WithConnectionTimeout sets the dial timeout.
func WithConnectionTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ConnectionTimeout = timeout
	}
}

// WithPublishTimeout bounds how long a single publish may take.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.PublishTimeout = timeout
	}
}

// WithBlockedThreshold sets how long a broker-blocked connection is
// tolerated before being replaced.
func WithBlockedThreshold(threshold time.Duration) Option {
	return func(c *Config) {
		c.BlockedThreshold = threshold
	}
}

// WithReconnectPolicy sets the reconnect backoff window and attempt budget.
func WithReconnectPolicy(initial, max time.Duration, attempts int) Option {
	return func(c *Config) {
		c.ReconnectInitialInterval = initial
		c.ReconnectMaxInterval = max
		c.ReconnectMaxAttempts = attempts
	}
}

// WithPrefetchCount sets the consumer prefetch count and worker pool size.
func WithPrefetchCount(count int) Option {
	return func(c *Config) {
		c.PrefetchCount = count
	}
}

// WithQueueMessageTTL sets the x-message-ttl of the main queue. Zero
// declares the queue without a TTL.
func WithQueueMessageTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.QueueMessageTTL = ttl
	}
}

// WithDrainTimeout bounds the shutdown wait for in-flight handlers.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.DrainTimeout = timeout
	}
}

// WithServiceName names this client in logs and published messages.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env string) Option {
	return func(c *Config) {
		c.Environment = env
	}
}
