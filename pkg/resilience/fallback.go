package resilience

import "context"

// WithFallback runs primary and, when it fails, falls back to the secondary
// operation. A non-nil condition gates the fallback: errors it rejects are
// returned to the caller untouched. The nil condition falls back on every
// error.
func WithFallback[T any](ctx context.Context, primary, fallback func(ctx context.Context) (T, error), condition func(error) bool) (T, error) {
	value, err := primary(ctx)
	if err == nil {
		return value, nil
	}
	if condition != nil && !condition(err) {
		return value, err
	}
	return fallback(ctx)
}
