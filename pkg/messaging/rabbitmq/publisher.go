package rabbitmq

import (
	"context"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/messaging"
	"github.com/chimera-analytics/chimera/pkg/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publish implements messaging.Publisher. The payload is wrapped in the
// platform envelope and published persistently to the configured topic
// exchange. A single attempt is made; broker failures surface as
// retryable message-bus errors for the caller's retry policy to handle.
func (c *Client) Publish(ctx context.Context, routingKey string, metadata messaging.Metadata, payload any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	body, err := messaging.Encode(metadata, payload)
	if err != nil {
		return err
	}

	ctx, span := c.o11y.Tracer().Start(ctx, "rabbitmq.publish "+routingKey,
		observability.WithSpanKind(observability.SpanKindProducer),
		observability.WithAttributes(
			observability.String("messaging.system", "rabbitmq"),
			observability.String("messaging.destination", c.config.Exchange),
			observability.String("messaging.routing_key", routingKey),
			observability.String("messaging.message_id", metadata.MessageID),
		),
	)
	defer span.End()

	headers := amqp.Table{}
	InjectTraceContext(ctx, headers)

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     metadata.MessageID,
		CorrelationId: metadata.CorrelationID,
		ReplyTo:       metadata.ReplyTo,
		AppId:         metadata.SenderAgent,
		Timestamp:     time.UnixMilli(metadata.TimestampMS),
		Headers:       headers,
		Body:          body,
	}

	publishCtx, cancel := context.WithTimeout(ctx, c.config.PublishTimeout)
	defer cancel()

	c.pubMu.Lock()
	err = c.WithChannel(publishChannel, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(publishCtx, c.config.Exchange, routingKey, false, false, publishing)
	})
	c.pubMu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusCodeError, "publish failed")
		c.o11y.Logger().Error(ctx, "failed to publish message",
			observability.String("routing_key", routingKey),
			observability.String("message_id", metadata.MessageID),
			observability.Error(err),
		)
		return errdefs.NewSystem("message publish failed").
			WithCode(errdefs.CodeMessageBusError).
			WithDetail("routing_key", routingKey).
			WithCause(err)
	}

	publishedTotal.WithLabelValues(routingKey).Inc()
	c.o11y.Logger().Debug(ctx, "message published",
		observability.String("routing_key", routingKey),
		observability.String("message_id", metadata.MessageID),
	)
	return nil
}
