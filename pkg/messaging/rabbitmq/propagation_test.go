package rabbitmq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func setupPropagator(t *testing.T) *sdktrace.TracerProvider {
	t.Helper()

	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestInjectExtractRoundTrip(t *testing.T) {
	provider := setupPropagator(t)

	ctx, span := provider.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := amqp.Table{}
	InjectTraceContext(ctx, headers)

	traceparent, ok := headers["traceparent"].(string)
	require.True(t, ok, "traceparent header missing")
	assert.NotEmpty(t, traceparent)

	// The receiving side reconstructs the sender's span context.
	remote := ExtractTraceContext(context.Background(), headers)
	remoteSpan := trace.SpanContextFromContext(remote)
	require.True(t, remoteSpan.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), remoteSpan.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), remoteSpan.SpanID())
	assert.True(t, remoteSpan.IsRemote())
}

func TestExtractWithoutHeadersIsNoop(t *testing.T) {
	setupPropagator(t)

	ctx := ExtractTraceContext(context.Background(), nil)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestInjectWithoutActiveSpan(t *testing.T) {
	setupPropagator(t)

	headers := amqp.Table{"content_type": "application/json"}
	InjectTraceContext(context.Background(), headers)

	_, hasTraceparent := headers["traceparent"]
	assert.False(t, hasTraceparent, "no span, no traceparent")
}

func TestHeaderCarrierIgnoresNonStringValues(t *testing.T) {
	carrier := headerCarrier(amqp.Table{"traceparent": 42, "tracestate": "ok"})

	assert.Empty(t, carrier.Get("traceparent"))
	assert.Equal(t, "ok", carrier.Get("tracestate"))
	assert.ElementsMatch(t, []string{"traceparent", "tracestate"}, carrier.Keys())
}
