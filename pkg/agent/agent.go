// Package agent fuses the publish and consume halves of the bus into the
// runtime every platform agent is built on: typed routing-key dispatch,
// correlation-tracked request/response, and a middleware chain wrapping every
// handler with recovery, tracing, logging and metrics.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/messaging"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// HandlerFunc processes one decoded delivery. A non-nil error marks the
// delivery as failed and sends it down the dead-letter path.
type HandlerFunc func(ctx context.Context, delivery *messaging.Delivery) error

// Route binds a routing-key pattern (AMQP topic syntax) to a payload schema
// and a handler. NewPayload returns a fresh pointer the delivery body is
// decoded into; a nil NewPayload leaves Delivery.Payload unset for handlers
// that work on the raw body.
type Route struct {
	Pattern    string
	NewPayload func() any
	Handler    HandlerFunc
}

// Agent is the platform agent runtime. Construct with New, add routes with
// RegisterRoutes, then Run until the context is cancelled.
type Agent struct {
	name string
	bus  messaging.Bus
	o11y observability.Observability

	mu     sync.Mutex
	routes []Route

	middlewares  []Middleware
	correlations *correlationRegistry

	closeOnce sync.Once
}

// Option configures an Agent.
type Option func(*Agent)

// WithMiddleware appends middleware inside the default chain, closest to the
// handler.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(a *Agent) {
		a.middlewares = append(a.middlewares, middlewares...)
	}
}

// New creates an agent named name on the given bus. The default middleware
// chain is Recovery, Tracing, Logging, Metrics, applied outermost first.
func New(name string, bus messaging.Bus, o11y observability.Observability, opts ...Option) *Agent {
	a := &Agent{
		name: name,
		bus:  bus,
		o11y: o11y,
		middlewares: []Middleware{
			RecoveryMiddleware(o11y),
			TracingMiddleware(o11y, name),
			LoggingMiddleware(o11y),
			MetricsMiddleware(o11y, name),
		},
		correlations: newCorrelationRegistry(),
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's name, used as sender identity on every publish.
func (a *Agent) Name() string {
	return a.name
}

// RegisterRoutes adds routes to the agent. Must be called before Run;
// patterns are matched in registration order, first match wins.
func (a *Agent) RegisterRoutes(routes ...Route) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes = append(a.routes, routes...)
}

// Run binds every registered route on the bus and consumes until ctx is
// cancelled. A delivery whose routing key matches no route is failed by the
// bus layer and dead-letters; dispatch never drops a message silently.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	routes := make([]Route, len(a.routes))
	copy(routes, a.routes)
	a.mu.Unlock()

	for _, route := range routes {
		a.bus.RegisterHandler(route.Pattern, a.bindRoute(route))
	}

	a.o11y.Logger().Info(ctx, "agent running",
		observability.String("agent", a.name),
		observability.Int("routes", len(routes)),
	)
	return a.bus.Consume(ctx)
}

// Close shuts the agent down: the bus is closed and all correlation state
// dropped. Idempotent.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.correlations.clear()
		err = a.bus.Close()
		a.o11y.Logger().Info(context.Background(), "agent closed",
			observability.String("agent", a.name))
	})
	return err
}

// PublishEvent publishes a fire-and-forget event. An empty correlationID
// starts a new chain with a generated id; the id actually used is returned so
// callers can reference the chain later.
func (a *Agent) PublishEvent(ctx context.Context, payload any, routingKey, correlationID string) (string, error) {
	metadata := messaging.NewMetadata(a.name, correlationID, "")
	ctx = observability.WithCorrelationID(ctx, metadata.CorrelationID)

	if err := a.bus.Publish(ctx, routingKey, metadata, payload); err != nil {
		return "", err
	}
	return metadata.CorrelationID, nil
}

// PublishRequest publishes a request expecting a reply on replyKey. A fresh
// correlation id is generated and a CorrelationEntry stored under it so the
// reply handler can recover requestContext; the id is returned. When the
// publish fails no entry is left behind.
func (a *Agent) PublishRequest(ctx context.Context, payload any, routingKey, replyKey string, requestContext map[string]any) (string, error) {
	metadata := messaging.NewMetadata(a.name, "", replyKey)
	ctx = observability.WithCorrelationID(ctx, metadata.CorrelationID)

	a.correlations.store(metadata.CorrelationID, CorrelationEntry{
		RequestRoutingKey: routingKey,
		ReplyRoutingKey:   replyKey,
		Context:           requestContext,
		CreatedAt:         time.Now(),
	})

	if err := a.bus.Publish(ctx, routingKey, metadata, payload); err != nil {
		a.correlations.remove(metadata.CorrelationID)
		return "", err
	}
	return metadata.CorrelationID, nil
}

// PublishResponse publishes a reply carrying the requester's correlation id.
func (a *Agent) PublishResponse(ctx context.Context, payload any, routingKey, correlationID string) error {
	if correlationID == "" {
		return errdefs.NewDataProcessing("a response requires the request's correlation id")
	}

	metadata := messaging.NewMetadata(a.name, correlationID, "")
	ctx = observability.WithCorrelationID(ctx, correlationID)
	return a.bus.Publish(ctx, routingKey, metadata, payload)
}

// CorrelationContext returns the entry stored for a correlation id. A missing
// entry is not an error: responses arriving after a restart have no entry and
// are handled best-effort by the caller.
func (a *Agent) CorrelationContext(correlationID string) (CorrelationEntry, bool) {
	return a.correlations.lookup(correlationID)
}

// ClearCorrelation drops the entry for a correlation id, if present.
func (a *Agent) ClearCorrelation(correlationID string) {
	a.correlations.remove(correlationID)
}

// CleanupOldCorrelations removes entries older than maxAge and returns how
// many were reaped. A non-positive maxAge uses the one-hour default. Reaping
// is explicit: the registry never spawns its own goroutine, mains mount this
// on the scheduler.
func (a *Agent) CleanupOldCorrelations(maxAge time.Duration) int {
	reaped := a.correlations.reap(maxAge)
	if reaped > 0 {
		a.o11y.Logger().Info(context.Background(), "reaped old correlation entries",
			observability.String("agent", a.name),
			observability.Int("count", reaped),
		)
	}
	return reaped
}

// bindRoute wraps a route's handler with payload decoding, the middleware
// chain, and error-response publication.
func (a *Agent) bindRoute(route Route) messaging.ConsumeHandler {
	handler := Chain(route.Handler, a.middlewares...)

	return func(ctx context.Context, delivery *messaging.Delivery) error {
		if route.NewPayload != nil {
			payload := route.NewPayload()
			if _, err := messaging.Decode(delivery.Body, payload); err != nil {
				a.publishErrorResponse(ctx, delivery, err)
				return err
			}
			delivery.Payload = payload
		}

		if err := handler(ctx, delivery); err != nil {
			a.publishErrorResponse(ctx, delivery, err)
			return err
		}
		return nil
	}
}

// publishErrorResponse reports a handler failure to the rest of the chain on
// `<prefix>.error`, derived from the inbound key's first segment, carrying
// the inbound correlation id. Deliveries without a correlation id have no
// chain to notify, and failures of error handlers are never republished.
func (a *Agent) publishErrorResponse(ctx context.Context, delivery *messaging.Delivery, handlerErr error) {
	correlationID := delivery.Metadata.CorrelationID
	if correlationID == "" || strings.HasSuffix(delivery.RoutingKey, ".error") {
		return
	}

	prefix, _, _ := strings.Cut(delivery.RoutingKey, ".")
	errorKey := prefix + ".error"

	response := errdefs.NewErrorResponse(handlerErr, correlationID)
	if err := a.PublishResponse(ctx, response, errorKey, correlationID); err != nil {
		a.o11y.Logger().Error(ctx, "error response publish failed",
			observability.String("agent", a.name),
			observability.String("routing_key", errorKey),
			observability.Error(err),
		)
	}
}
