package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/messaging"
	"github.com/chimera-analytics/chimera/pkg/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// binding pairs a routing-key pattern with its handler. Patterns are
// matched in registration order; the first match wins.
type binding struct {
	pattern string
	handler messaging.ConsumeHandler
}

// subscriber drives the consume side of a client: it declares the queue
// and its dead-letter mirror, runs the delivery loop on a prefetch-sized
// worker pool, and re-subscribes after the connection recovers.
type subscriber struct {
	client *Client

	mu       sync.RWMutex
	bindings []binding

	stopOnce sync.Once
	stopped  chan struct{}
}

func newSubscriber(client *Client) *subscriber {
	return &subscriber{
		client:  client,
		stopped: make(chan struct{}),
	}
}

func (s *subscriber) register(pattern string, handler messaging.ConsumeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, binding{pattern: pattern, handler: handler})
}

func (s *subscriber) patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patterns := make([]string, len(s.bindings))
	for i, b := range s.bindings {
		patterns[i] = b.pattern
	}
	return patterns
}

// lookup returns the handler of the first pattern matching the routing key.
func (s *subscriber) lookup(routingKey string) (messaging.ConsumeHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bindings {
		if messaging.MatchTopic(b.pattern, routingKey) {
			return b.handler, true
		}
	}
	return nil, false
}

// declareTopology declares the main exchange and queue together with
// their dead-letter mirror, then binds both queues to every registered
// pattern. Rejected and expired messages dead-letter through the DLX
// into the DLQ.
func (s *subscriber) declareTopology(ctx context.Context) error {
	cfg := s.client.config
	dlx := dlxName(cfg.Exchange)
	dlq := dlqName(cfg.Queue)

	if err := s.client.DeclareExchange(ctx, cfg.Exchange, amqp.ExchangeTopic, true); err != nil {
		return err
	}

	args := amqp.Table{"x-dead-letter-exchange": dlx}
	if cfg.QueueMessageTTL > 0 {
		args["x-message-ttl"] = cfg.QueueMessageTTL.Milliseconds()
	}
	if _, err := s.client.DeclareQueue(ctx, cfg.Queue, true, args); err != nil {
		return err
	}

	if err := s.client.DeclareExchange(ctx, dlx, amqp.ExchangeTopic, true); err != nil {
		return err
	}
	if _, err := s.client.DeclareQueue(ctx, dlq, true, nil); err != nil {
		return err
	}

	// The DLQ mirrors the main queue's bindings so a dead-lettered
	// message keeps its routing key.
	for _, pattern := range s.patterns() {
		if err := s.client.BindQueue(ctx, dlq, pattern, dlx); err != nil {
			return err
		}
		if err := s.client.BindQueue(ctx, cfg.Queue, pattern, cfg.Exchange); err != nil {
			return err
		}
	}
	return nil
}

// consume blocks processing deliveries until ctx is cancelled or the
// client closes. Lost subscriptions wait for the connection manager to
// recover and then redeclare the topology; only an unrecoverable
// transport ends the loop with an error.
func (s *subscriber) consume(ctx context.Context) error {
	if len(s.patterns()) == 0 {
		return ErrNoHandlers
	}

	reconnected := s.client.connMgr.notifyReconnect(make(chan struct{}, 1))

	for {
		err := s.consumeOnce(ctx)
		switch {
		case err == nil, errors.Is(err, ErrClientClosed):
			return nil
		case errors.Is(err, ErrMaxReconnectAttempts):
			return err
		}

		s.client.o11y.Logger().Warn(ctx, "subscription interrupted, waiting for connection recovery",
			observability.String("queue", s.client.config.Queue),
			observability.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		case <-s.client.connMgr.terminated():
			return ErrMaxReconnectAttempts
		case <-reconnected:
		}
	}
}

// consumeOnce runs one subscription over the current connection. It
// returns nil on orderly shutdown and ErrConsumeChannelClosed when the
// broker tears the delivery stream down underneath it.
func (s *subscriber) consumeOnce(ctx context.Context) error {
	if err := s.declareTopology(ctx); err != nil {
		return err
	}

	ch, err := s.client.Channel(consumeChannel)
	if err != nil {
		return err
	}

	cfg := s.client.config
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: set qos: %w", err)
	}

	consumerTag := cfg.Queue + ".consumer"
	deliveries, err := ch.Consume(cfg.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: start consuming %q: %w", cfg.Queue, err)
	}

	s.client.o11y.Logger().Info(ctx, "consumer started",
		observability.String("queue", cfg.Queue),
		observability.Int("prefetch", cfg.PrefetchCount),
		observability.Int("bindings", len(s.patterns())),
	)

	// One worker per prefetch slot: the broker never has more than
	// PrefetchCount unacked deliveries outstanding, so the pool is
	// exactly the handler concurrency limit.
	var wg sync.WaitGroup
	for i := 0; i < cfg.PrefetchCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range deliveries {
				s.process(ctx, delivery)
			}
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-ctx.Done():
	case <-s.stopped:
	case <-workersDone:
		// The broker closed the delivery stream.
		return ErrConsumeChannelClosed
	}

	// Cancel stops new deliveries; the library closes the stream once
	// in-flight ones are handed over, which lets the workers drain.
	if cancelErr := ch.Cancel(consumerTag, false); cancelErr != nil {
		s.client.o11y.Logger().Warn(ctx, "failed to cancel consumer",
			observability.Error(cancelErr),
		)
	}
	s.waitDrain(workersDone)
	return nil
}

// waitDrain waits for in-flight handlers, bounded by the configured
// drain timeout. Handlers still running afterwards keep their deliveries
// unacked; the broker redelivers them after the connection closes.
func (s *subscriber) waitDrain(workersDone <-chan struct{}) {
	timer := time.NewTimer(s.client.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-workersDone:
	case <-timer.C:
		s.client.o11y.Logger().Warn(context.Background(), "handlers still in flight after drain timeout",
			observability.String("queue", s.client.config.Queue),
			observability.String("timeout", s.client.config.DrainTimeout.String()),
		)
	}
}

// process handles one delivery end to end: extract the trace context,
// bind the correlation id, decode the envelope, dispatch, then settle
// with exactly one ack or one requeue-free nack.
func (s *subscriber) process(ctx context.Context, delivery amqp.Delivery) {
	// Handlers finish their current delivery even when the consume
	// context is already cancelled; unfinished work would dead-letter.
	ctx = context.WithoutCancel(ctx)
	ctx = ExtractTraceContext(ctx, delivery.Headers)

	metadata, err := messaging.Decode(delivery.Body, nil)

	correlationID := metadata.CorrelationID
	if correlationID == "" {
		correlationID = delivery.CorrelationId
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)

	ctx, span := s.client.o11y.Tracer().Start(ctx, "rabbitmq.consume "+delivery.RoutingKey,
		observability.WithSpanKind(observability.SpanKindConsumer),
		observability.WithAttributes(
			observability.String("messaging.system", "rabbitmq"),
			observability.String("messaging.source", delivery.Exchange),
			observability.String("messaging.routing_key", delivery.RoutingKey),
			observability.String("agent", s.client.config.ServiceName),
			observability.String("correlation_id", correlationID),
		),
	)
	defer span.End()

	consumedTotal.WithLabelValues(delivery.RoutingKey).Inc()

	if err == nil {
		handler, ok := s.lookup(delivery.RoutingKey)
		if !ok {
			err = errdefs.NewDataProcessing("no handler bound for routing key").
				WithDetail("routing_key", delivery.RoutingKey)
		} else {
			err = handler(ctx, &messaging.Delivery{
				RoutingKey: delivery.RoutingKey,
				Metadata:   metadata,
				Body:       delivery.Body,
			})
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusCodeError, "delivery failed")
		s.client.o11y.Logger().Error(ctx, "delivery failed, dead-lettering",
			observability.String("queue", s.client.config.Queue),
			observability.String("routing_key", delivery.RoutingKey),
			observability.String("message_id", delivery.MessageId),
			observability.Error(err),
		)

		if nackErr := delivery.Nack(false, false); nackErr != nil {
			s.client.o11y.Logger().Error(ctx, "failed to nack delivery",
				observability.Error(nackErr),
			)
			return
		}
		nackedTotal.Inc()
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		s.client.o11y.Logger().Error(ctx, "failed to ack delivery",
			observability.Error(ackErr),
		)
		return
	}
	ackedTotal.Inc()
}

func (s *subscriber) close() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
}
