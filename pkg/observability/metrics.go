package observability

import "context"

// Metrics provides application metric instruments.
type Metrics interface {
	// Counter returns a monotonically increasing counter.
	Counter(name, description, unit string) Counter

	// Histogram returns a distribution-recording instrument.
	Histogram(name, description, unit string) Histogram

	// UpDownCounter returns a counter that can decrease.
	UpDownCounter(name, description, unit string) UpDownCounter

	// Gauge registers an asynchronous gauge observed through the callback.
	Gauge(name, description, unit string, callback GaugeCallback) error
}

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, value int64, fields ...Field)
	Increment(ctx context.Context, fields ...Field)
}

// Histogram records a distribution of values.
type Histogram interface {
	Record(ctx context.Context, value float64, fields ...Field)
}

// UpDownCounter is a metric that can increase and decrease.
type UpDownCounter interface {
	Add(ctx context.Context, value int64, fields ...Field)
}

// GaugeCallback reports the current value of a gauge when observed.
type GaugeCallback func(ctx context.Context) float64
