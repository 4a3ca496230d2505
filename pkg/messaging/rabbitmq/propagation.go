package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts amqp.Table to the TextMapCarrier the OpenTelemetry
// propagators operate on. AMQP header values are interface{}; only string
// values participate in propagation.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	value, ok := c[key].(string)
	if !ok {
		return ""
	}
	return value
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	return keys
}

// InjectTraceContext writes the active span's W3C trace context
// (traceparent, and tracestate when present) into message headers, so the
// consumer side can parent its span to the publisher's. Headers must be
// non-nil.
func InjectTraceContext(ctx context.Context, headers amqp.Table) {
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
}

// ExtractTraceContext returns a context parented to the trace context
// carried in headers. Without a traceparent header the context is returned
// unchanged and the consumer span starts a new trace.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
}
