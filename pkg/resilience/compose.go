package resilience

import (
	"context"
	"time"
)

// Compose stacks the primitives around op in the canonical order: the timeout
// bounds each individual attempt, the retry policy reruns timed-out or
// transient attempts, and the breaker counts one outcome per logical call so
// a retried-then-successful call never trips it.
//
// A zero timeout skips the deadline, a nil breaker skips the circuit; the
// policy always applies (zero value means DefaultPolicy semantics).
func Compose[T any](breaker *Breaker, policy Policy, timeout time.Duration, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	attempt := op
	if timeout > 0 {
		inner := attempt
		attempt = func(ctx context.Context) (T, error) {
			return WithTimeout(ctx, timeout, inner)
		}
	}

	retried := func(ctx context.Context) (T, error) {
		return RetryWithResult(ctx, policy, attempt)
	}
	if breaker == nil {
		return retried
	}

	return func(ctx context.Context) (T, error) {
		var value T
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			var opErr error
			value, opErr = retried(ctx)
			return opErr
		})
		return value, err
	}
}
