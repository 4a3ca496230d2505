package observability

import "context"

// Tracer provides distributed tracing.
type Tracer interface {
	// Start creates a new span and returns a context containing it. The
	// caller must end the span when the operation completes.
	Start(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, Span)

	// SpanFromContext returns the current span from the context, if any.
	SpanFromContext(ctx context.Context) Span

	// ContextWithSpan returns a new context carrying the given span.
	ContextWithSpan(ctx context.Context, span Span) context.Context
}
