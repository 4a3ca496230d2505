package httpclient

import (
	"fmt"
	"maps"
	"net/http"
	"time"
)

// Guard rails on per-request retry configuration. The exponential backoff
// itself is additionally capped in the retry transport.
const (
	MaxRetryAttempts = 10
	MaxRetryBackoff  = 10 * time.Second
)

// ClientOption configures the client as a whole.
type ClientOption func(*Client)

// WithTransport replaces the base transport, e.g. for custom TLS or proxy
// settings. The retry and instrumentation layers still wrap it.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		if transport != nil {
			c.base = transport
		}
	}
}

// WithMaxBodySize bounds request-body buffering for retry replay. Zero
// disables buffering, which also disables retrying requests with bodies.
func WithMaxBodySize(size int64) ClientOption {
	return func(c *Client) {
		if size >= 0 {
			c.maxBodySize = size
		}
	}
}

// RequestOption configures a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	retryEnabled     bool
	retryMaxAttempts int
	retryBackoff     time.Duration
	retryPolicy      RetryPolicy
	headers          map[string]string
}

func newRequestConfig(opts []RequestOption) *requestConfig {
	cfg := &requestConfig{headers: make(map[string]string)}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithRetry retries the request up to maxAttempts times when policy says
// the outcome is transient, sleeping an exponentially growing, jittered
// backoff between attempts. maxAttempts <= 0 leaves retry disabled.
func WithRetry(maxAttempts int, backoff time.Duration, policy RetryPolicy) RequestOption {
	return func(cfg *requestConfig) {
		if maxAttempts <= 0 {
			return
		}
		cfg.retryEnabled = true
		cfg.retryMaxAttempts = maxAttempts
		cfg.retryBackoff = backoff
		cfg.retryPolicy = policy
	}
}

// WithHeader sets one request header.
func WithHeader(key, value string) RequestOption {
	return func(cfg *requestConfig) {
		cfg.headers[key] = value
	}
}

// WithHeaders sets multiple request headers.
func WithHeaders(headers map[string]string) RequestOption {
	return func(cfg *requestConfig) {
		maps.Copy(cfg.headers, headers)
	}
}

func (cfg *requestConfig) validateRetry() error {
	if cfg.retryMaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("httpclient: %d retry attempts exceeds the maximum of %d", cfg.retryMaxAttempts, MaxRetryAttempts)
	}
	if cfg.retryBackoff < 0 {
		return fmt.Errorf("httpclient: retry backoff cannot be negative: %v", cfg.retryBackoff)
	}
	if cfg.retryBackoff > MaxRetryBackoff {
		return fmt.Errorf("httpclient: retry backoff %v exceeds the maximum of %v", cfg.retryBackoff, MaxRetryBackoff)
	}
	if cfg.retryPolicy == nil {
		return fmt.Errorf("httpclient: retry policy is required")
	}
	return nil
}
