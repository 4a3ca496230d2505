package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/chimera-analytics/chimera/pkg/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Names of the logical channels a client keeps open.
const (
	publishChannel  = "publish"
	topologyChannel = "topology"
	consumeChannel  = "consume"
)

// Channel returns the named logical channel, lazily opening it and
// replacing one the broker has closed.
func (c *Client) Channel(name string) (*amqp.Channel, error) {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	if ch, ok := c.channels[name]; ok && !ch.IsClosed() {
		return ch, nil
	}

	conn, err := c.connMgr.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel %q: %w", name, err)
	}

	c.channels[name] = ch
	return ch, nil
}

// WithChannel runs fn on the named channel. AMQP closes channels on most
// protocol errors, so a failed fn drops the channel and the next call
// starts from a fresh one.
func (c *Client) WithChannel(name string, fn func(*amqp.Channel) error) error {
	ch, err := c.Channel(name)
	if err != nil {
		return err
	}

	if err := fn(ch); err != nil {
		c.dropChannel(name, ch)
		return err
	}
	return nil
}

// dropChannel closes and forgets a logical channel. The identity check
// keeps a concurrent replacement from being torn down by a stale caller.
func (c *Client) dropChannel(name string, ch *amqp.Channel) {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	if current, ok := c.channels[name]; ok && current == ch {
		delete(c.channels, name)
	}
	if !ch.IsClosed() {
		ch.Close()
	}
}

func (c *Client) closeChannels() {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	for name, ch := range c.channels {
		if !ch.IsClosed() {
			ch.Close()
		}
		delete(c.channels, name)
	}
}

// DeclareExchange declares an exchange of the given kind. Declarations
// are idempotent as long as the properties match the existing exchange.
func (c *Client) DeclareExchange(ctx context.Context, name, kind string, durable bool) error {
	if name == "" {
		return errors.New("rabbitmq: exchange name is required")
	}
	c.warnNonDurable(ctx, "exchange", name, durable)

	err := c.WithChannel(topologyChannel, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(name, kind, durable, false, false, false, nil)
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: declare exchange %q: %w", name, err)
	}

	c.o11y.Logger().Debug(ctx, "exchange declared",
		observability.String("exchange", name),
		observability.String("kind", kind),
	)
	return nil
}

// DeclareQueue declares a queue with the given arguments.
func (c *Client) DeclareQueue(ctx context.Context, name string, durable bool, args amqp.Table) (amqp.Queue, error) {
	if name == "" {
		return amqp.Queue{}, errors.New("rabbitmq: queue name is required")
	}
	c.warnNonDurable(ctx, "queue", name, durable)

	var queue amqp.Queue
	err := c.WithChannel(topologyChannel, func(ch *amqp.Channel) error {
		declared, declareErr := ch.QueueDeclare(name, durable, false, false, false, args)
		if declareErr != nil {
			return declareErr
		}
		queue = declared
		return nil
	})
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("rabbitmq: declare queue %q: %w", name, err)
	}

	c.o11y.Logger().Debug(ctx, "queue declared",
		observability.String("queue", name),
		observability.Int("messages", queue.Messages),
	)
	return queue, nil
}

// BindQueue binds a queue to an exchange with a routing key, which may use
// AMQP topic wildcards.
func (c *Client) BindQueue(ctx context.Context, queue, key, exchange string) error {
	if queue == "" || exchange == "" {
		return errors.New("rabbitmq: queue and exchange names are required")
	}

	err := c.WithChannel(topologyChannel, func(ch *amqp.Channel) error {
		return ch.QueueBind(queue, key, exchange, false, nil)
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: bind queue %q to %q with key %q: %w", queue, exchange, key, err)
	}

	c.o11y.Logger().Debug(ctx, "queue bound",
		observability.String("queue", queue),
		observability.String("exchange", exchange),
		observability.String("routing_key", key),
	)
	return nil
}

func (c *Client) warnNonDurable(ctx context.Context, what, name string, durable bool) {
	if durable || c.config.Environment != "production" {
		return
	}
	c.o11y.Logger().Warn(ctx, "non-durable "+what+" declared in production",
		observability.String(what, name),
	)
}
