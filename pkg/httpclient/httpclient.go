// Package httpclient is the instrumented HTTP client used for outbound
// calls such as webhook alert delivery. Every request is traced and
// metered; retry is opt-in per request. Deadlines are owned by the caller's
// context: notification and polling paths bound their calls with the
// resilience helpers before they reach this client.
package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"
)

const (
	// DefaultMaxBodySize bounds request-body buffering for retry replay.
	DefaultMaxBodySize = 10 * 1024 * 1024

	// maxDrainSize bounds how much of an abandoned response body is read
	// before closing, so the connection can be reused without buffering
	// an arbitrarily large reply.
	maxDrainSize = 1 * 1024 * 1024
)

// ErrBodyTooLarge is returned when a request body exceeds the buffering
// limit and therefore cannot be replayed on retry.
var ErrBodyTooLarge = errors.New("httpclient: request body exceeds retry buffering limit")

// Client issues instrumented HTTP requests. It is safe for concurrent use.
//
// Each request runs through a transport chain built per call: the
// instrumented transport outermost, an optional retry transport when
// WithRetry is passed, and the base transport underneath.
type Client struct {
	base        http.RoundTripper
	maxBodySize int64
	o11y        observability.Observability
	instruments *instruments
}

// New returns a client reporting through the given observability provider.
func New(o11y observability.Observability, opts ...ClientOption) (*Client, error) {
	if o11y == nil {
		return nil, errors.New("httpclient: observability provider is required")
	}

	c := &Client{
		base: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			ForceAttemptHTTP2:     true,
		},
		maxBodySize: DefaultMaxBodySize,
		o11y:        o11y,
		instruments: newInstruments(o11y.Tracer(), o11y.Metrics()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, body io.Reader, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req, opts...)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, url string, body io.Reader, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req, opts...)
}

// Do executes a request through the instrumented transport chain. The
// request's context governs cancellation and deadlines.
func (c *Client) Do(req *http.Request, opts ...RequestOption) (*http.Response, error) {
	cfg := newRequestConfig(opts)
	if cfg.retryEnabled {
		if err := cfg.validateRetry(); err != nil {
			return nil, err
		}
	}
	for key, value := range cfg.headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Transport: c.transportChain(cfg)}
	return client.Do(req)
}

func (c *Client) transportChain(cfg *requestConfig) http.RoundTripper {
	transport := c.base
	if cfg.retryEnabled {
		transport = &retryTransport{
			base:        transport,
			maxAttempts: cfg.retryMaxAttempts,
			backoff:     cfg.retryBackoff,
			policy:      cfg.retryPolicy,
			maxBodySize: c.maxBodySize,
			instruments: c.instruments,
		}
	}
	return &observeTransport{base: transport, instruments: c.instruments}
}
