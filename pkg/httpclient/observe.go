package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"
)

// instruments holds the tracer and the metric instruments, created once at
// client construction and shared by every request.
type instruments struct {
	tracer observability.Tracer

	requests observability.Counter
	failures observability.Counter
	latency  observability.Histogram
}

func newInstruments(tracer observability.Tracer, metrics observability.Metrics) *instruments {
	return &instruments{
		tracer:   tracer,
		requests: metrics.Counter("http.client.request.count", "Outbound HTTP requests", "{request}"),
		failures: metrics.Counter("http.client.request.errors", "Outbound HTTP request failures", "{error}"),
		latency:  metrics.Histogram("http.client.request.duration", "Outbound HTTP request duration", "ms"),
	}
}

// observeTransport wraps every request in a client span and records
// request, failure, and latency metrics.
type observeTransport struct {
	base        http.RoundTripper
	instruments *instruments
}

func (t *observeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx, span := t.instruments.tracer.Start(req.Context(), "http.client.request",
		observability.WithSpanKind(observability.SpanKindClient),
		observability.WithAttributes(
			observability.String("http.method", req.Method),
			observability.String("http.url", req.URL.String()),
			observability.String("http.host", req.URL.Host),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := t.base.RoundTrip(req)
	elapsed := float64(time.Since(start).Milliseconds())

	attrs := []observability.Field{
		observability.String("http.method", req.Method),
		observability.String("http.host", req.URL.Host),
	}
	// Metrics record on a background context: a canceled request still
	// happened and must be counted.
	mctx := context.Background()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusCodeError, err.Error())
		t.instruments.failures.Increment(mctx, append(attrs,
			observability.String("error.type", classifyError(err)))...)
		t.instruments.requests.Increment(mctx, attrs...)
		t.instruments.latency.Record(mctx, elapsed, attrs...)
		return resp, err
	}

	span.SetAttributes(observability.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(observability.StatusCodeError, fmt.Sprintf("HTTP %d", resp.StatusCode))
	} else {
		span.SetStatus(observability.StatusCodeOK, "")
	}

	attrs = append(attrs, observability.Int("http.status_code", resp.StatusCode))
	t.instruments.requests.Increment(mctx, attrs...)
	t.instruments.latency.Record(mctx, elapsed, attrs...)
	return resp, nil
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "network_timeout"
		}
		return "network_error"
	}
	return "unknown"
}
