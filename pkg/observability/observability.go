package observability

// Observability is the facade giving components access to tracing, logging
// and metrics. It is the only observability type injected into the rest of
// the platform.
type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

// Field is a key-value pair attached to log entries and span attributes.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field.
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates a field holding an error. Log entries render it under the
// exception key.
func Error(err error) Field {
	return Field{Key: "exception", Value: err}
}

// Any creates a field with an arbitrary value.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// SpanContext carries the identifiers needed to propagate trace information.
type SpanContext interface {
	TraceID() string
	SpanID() string
	IsSampled() bool
}

// Span is an active unit of traced work.
type Span interface {
	// End finishes the span. The span must not be used afterwards.
	End()

	// SetAttributes sets additional attributes on the span.
	SetAttributes(fields ...Field)

	// SetStatus sets the span status.
	SetStatus(code StatusCode, description string)

	// RecordError records an error event on the span.
	RecordError(err error, fields ...Field)

	// AddEvent adds a named event to the span.
	AddEvent(name string, fields ...Field)

	// Context returns the span context.
	Context() SpanContext
}

// StatusCode is the canonical status of a span.
type StatusCode int

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

// SpanKind is the role a span plays in a trace.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// SpanOption configures span creation.
type SpanOption interface {
	apply(*spanConfig)
}

type spanConfig struct {
	kind       SpanKind
	attributes []Field
}

type spanOptionFunc func(*spanConfig)

func (f spanOptionFunc) apply(c *spanConfig) {
	f(c)
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return spanOptionFunc(func(c *spanConfig) {
		c.kind = kind
	})
}

// WithAttributes sets initial attributes on the span.
func WithAttributes(fields ...Field) SpanOption {
	return spanOptionFunc(func(c *spanConfig) {
		c.attributes = append(c.attributes, fields...)
	})
}

// NewSpanConfig resolves span options (for provider implementations).
func NewSpanConfig(opts []SpanOption) SpanConfig {
	cfg := &spanConfig{kind: SpanKindInternal}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return cfg
}

// SpanConfig exposes resolved span configuration to provider implementations.
type SpanConfig interface {
	Kind() SpanKind
	Attributes() []Field
}

func (c *spanConfig) Kind() SpanKind {
	return c.kind
}

func (c *spanConfig) Attributes() []Field {
	return c.attributes
}
