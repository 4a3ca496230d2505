package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"
)

// RetryPolicy reports whether a request outcome is worth retrying. Either
// err or resp may be nil.
type RetryPolicy func(err error, resp *http.Response) bool

// DefaultRetryPolicy retries transport errors and 5xx responses. Context
// cancellation and deadlines are deliberate and never retried; neither are
// 4xx responses.
var DefaultRetryPolicy RetryPolicy = func(err error, resp *http.Response) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500
}

// IdempotentRetryPolicy additionally retries 429 responses. Only use it on
// requests that are safe to repeat.
var IdempotentRetryPolicy RetryPolicy = func(err error, resp *http.Response) bool {
	if DefaultRetryPolicy(err, resp) {
		return true
	}
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests
}

// NoRetryPolicy never retries.
var NoRetryPolicy RetryPolicy = func(err error, resp *http.Response) bool {
	return false
}

// retryTransport replays transient failures. The request body is buffered
// up front so every attempt sends the same bytes, and abandoned response
// bodies are drained so connections return to the pool.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	backoff     time.Duration
	policy      RetryPolicy
	maxBodySize int64
	instruments *instruments
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	span := t.instruments.tracer.SpanFromContext(ctx)
	span.SetAttributes(
		observability.Bool("retry.enabled", true),
		observability.Int("retry.max_attempts", t.maxAttempts),
	)

	body, err := t.bufferBody(req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		span.SetAttributes(observability.Int("retry.attempt", attempt))

		attemptReq := req
		if body != nil {
			attemptReq = requestWithBody(req, body)
		}
		resp, err := t.base.RoundTrip(attemptReq)

		if !t.policy(err, resp) {
			return resp, err
		}
		if attempt >= t.maxAttempts {
			return resp, err
		}
		drainBody(resp)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		span.AddEvent("retry_attempt",
			observability.Int("attempt", attempt),
			observability.String("reason", retryReason(err, resp)),
		)
		if !sleepContext(ctx, t.delay(attempt)) {
			return nil, ctx.Err()
		}
	}
}

// delay computes the wait before the next attempt: full jitter over an
// exponential window, random(0, min(30s, backoff*2^(attempt-1))).
func (t *retryTransport) delay(attempt int) time.Duration {
	if attempt <= 0 || t.backoff <= 0 {
		return 0
	}
	window := t.backoff * (1 << (attempt - 1))
	const maxDelay = 30 * time.Second
	if window > maxDelay {
		window = maxDelay
	}
	return time.Duration(rand.Int63n(int64(window)))
}

// bufferBody reads the request body into memory so it can be replayed.
// Bodies over the limit abort the request: a truncated replay would be
// worse than no retry.
func (t *retryTransport) bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(io.LimitReader(req.Body, t.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("httpclient: buffer request body: %w", err)
	}
	if int64(len(body)) > t.maxBodySize {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// requestWithBody shallow-copies the request with a fresh body reader, so
// the caller's request is never mutated.
func requestWithBody(req *http.Request, body []byte) *http.Request {
	clone := *req
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return &clone
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainSize)
	_ = resp.Body.Close()
}

func retryReason(err error, resp *http.Response) string {
	if err != nil {
		return "network_error"
	}
	if resp != nil {
		return fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return "unknown"
}
