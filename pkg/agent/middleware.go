package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/messaging"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// Middleware wraps a HandlerFunc to add behavior around every dispatch.
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies middlewares around handler, first middleware outermost.
func Chain(handler HandlerFunc, middlewares ...Middleware) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// RecoveryMiddleware converts handler panics into data-processing errors so a
// poison message dead-letters instead of killing the consumer.
func RecoveryMiddleware(o11y observability.Observability) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, delivery *messaging.Delivery) (err error) {
			defer func() {
				if r := recover(); r != nil {
					o11y.Logger().Error(ctx, "panic recovered in handler",
						observability.String("routing_key", delivery.RoutingKey),
						observability.Any("panic", r),
						observability.String("stack", string(debug.Stack())),
					)
					err = errdefs.NewDataProcessing(fmt.Sprintf("handler panicked: %v", r)).
						WithDetail("routing_key", delivery.RoutingKey)
				}
			}()
			return next(ctx, delivery)
		}
	}
}

// TracingMiddleware opens a span around the handler, child of the consume
// span the bus layer started from the message's trace headers.
func TracingMiddleware(o11y observability.Observability, agentName string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, delivery *messaging.Delivery) error {
			ctx, span := o11y.Tracer().Start(ctx, "agent.handle "+delivery.RoutingKey,
				observability.WithAttributes(
					observability.String("agent", agentName),
					observability.String("messaging.routing_key", delivery.RoutingKey),
					observability.String("correlation_id", delivery.Metadata.CorrelationID),
				),
			)
			defer span.End()

			err := next(ctx, delivery)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(observability.StatusCodeError, err.Error())
				return err
			}
			span.SetStatus(observability.StatusCodeOK, "")
			return nil
		}
	}
}

// LoggingMiddleware logs every dispatch with its duration and outcome. The
// logger stamps the bound correlation id on its own.
func LoggingMiddleware(o11y observability.Observability) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, delivery *messaging.Delivery) error {
			start := time.Now()
			o11y.Logger().Debug(ctx, "handling message",
				observability.String("routing_key", delivery.RoutingKey),
				observability.String("sender", delivery.Metadata.SenderAgent),
			)

			err := next(ctx, delivery)
			elapsed := time.Since(start)

			if err != nil {
				o11y.Logger().Error(ctx, "message handling failed",
					observability.String("routing_key", delivery.RoutingKey),
					observability.Int64("duration_ms", elapsed.Milliseconds()),
					observability.Error(err),
				)
				return err
			}

			o11y.Logger().Info(ctx, "message handled",
				observability.String("routing_key", delivery.RoutingKey),
				observability.Int64("duration_ms", elapsed.Milliseconds()),
			)
			return nil
		}
	}
}

// MetricsMiddleware records per-routing-key dispatch counters and a latency
// histogram through the observability facade.
func MetricsMiddleware(o11y observability.Observability, agentName string) Middleware {
	handled := o11y.Metrics().Counter("chimera.agent.handled",
		"Messages dispatched to handlers.", "{message}")
	failed := o11y.Metrics().Counter("chimera.agent.failed",
		"Handler dispatches that returned an error.", "{message}")
	duration := o11y.Metrics().Histogram("chimera.agent.handle.duration",
		"Handler execution time.", "ms")

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, delivery *messaging.Delivery) error {
			start := time.Now()
			err := next(ctx, delivery)
			elapsed := time.Since(start)

			fields := []observability.Field{
				observability.String("agent", agentName),
				observability.String("routing_key", delivery.RoutingKey),
			}
			handled.Increment(ctx, fields...)
			if err != nil {
				failed.Increment(ctx, fields...)
			}
			duration.Record(ctx, float64(elapsed.Milliseconds()), fields...)

			return err
		}
	}
}
