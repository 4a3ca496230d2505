package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
)

// WithTimeout runs op under a deadline derived from ctx. Ops observe the
// deadline through their context; when the budget expires the deadline error
// is converted to a retryable data-source timeout so retry policies treat it
// as transient.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := op(opCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, errdefs.NewDataSource("timeout", fmt.Sprintf("operation timed out after %s", timeout)).
			WithCode(errdefs.CodeDataSourceTimeout).
			WithCause(err)
	}
	return value, err
}
