package observability

import "context"

type correlationKey struct{}

// WithCorrelationID returns a context with the correlation id bound. The
// logger adds the id to every entry emitted under this context, and the
// agent runtime binds it before invoking a message handler. Binding an
// empty id returns the context unchanged.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the bound correlation id, or "" when
// none is bound. Correlation ids are context-scoped so concurrent flows
// never observe each other's id.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
