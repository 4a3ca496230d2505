package messaging

import "context"

type (
	// ConsumeHandler processes one received delivery. A non-nil error marks
	// the delivery as failed; the transport nacks it without requeue so it
	// dead-letters.
	ConsumeHandler func(ctx context.Context, delivery *Delivery) error

	// Delivery is a message received from the bus. Body is the raw wire
	// payload; Metadata is the decoded envelope sub-record. Payload is
	// populated by upper layers that know the schema for the routing key.
	Delivery struct {
		RoutingKey string
		Metadata   Metadata
		Body       []byte
		Payload    any
	}

	// Publisher publishes envelope-wrapped payloads to the bus.
	Publisher interface {
		// Publish serializes payload with the metadata sub-record grafted
		// in and sends it with the given routing key. Publishing is
		// synchronous with respect to broker acknowledgement; at least one
		// attempt is made and failures propagate to the caller.
		Publish(ctx context.Context, routingKey string, metadata Metadata, payload any) error
		Close() error
	}

	// Subscriber consumes deliveries and routes them to registered
	// handlers by topic pattern.
	Subscriber interface {
		// RegisterHandler binds a routing-key pattern (AMQP topic syntax:
		// '*' one word, '#' zero or more) to a handler. Patterns are
		// evaluated in registration order; the first match wins. Must be
		// called before Consume.
		RegisterHandler(pattern string, handler ConsumeHandler)

		// Consume blocks processing deliveries until ctx is cancelled.
		Consume(ctx context.Context) error
		Close() error
	}

	// Bus couples the publish and consume halves an agent needs.
	Bus interface {
		Publisher
		Subscriber
	}
)
