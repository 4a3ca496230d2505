package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/observability/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "fake net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func newTestClient(t *testing.T, o11y observability.Observability, opts ...ClientOption) *Client {
	t.Helper()
	client, err := New(o11y, opts...)
	require.NoError(t, err)
	return client
}

func fieldValue(fields []observability.Field, key string) any {
	for _, f := range fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestNewRequiresObservability(t *testing.T) {
	client, err := New(nil)

	require.Error(t, err)
	assert.Nil(t, client)
}

func TestNewDefaults(t *testing.T) {
	client := newTestClient(t, fake.NewProvider())

	assert.EqualValues(t, DefaultMaxBodySize, client.maxBodySize)
	assert.NotNil(t, client.base)
	assert.NotNil(t, client.instruments)
}

func TestGetHitsServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostSendsBody(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Post(context.Background(), server.URL, strings.NewReader(`{"metric":"tvl"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"metric":"tvl"}`, received)
}

func TestPutAndDeleteUseMethod(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())
	ctx := context.Background()

	resp, err := client.Put(ctx, server.URL, strings.NewReader("v"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.MethodPut, gotMethod)

	resp, err = client.Delete(ctx, server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestHeadersApplied(t *testing.T) {
	var apiKey, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-Api-Key")
		accept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL,
		WithHeader("X-Api-Key", "secret"),
		WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, "application/json", accept)
}

func TestWithTransportReplacesBase(t *testing.T) {
	stub := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTeapot,
			Body:       http.NoBody,
			Request:    req,
		}, nil
	})

	client := newTestClient(t, fake.NewProvider(), WithTransport(stub))

	resp, err := client.Get(context.Background(), "http://unreachable.invalid")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL,
		WithRetry(3, time.Millisecond, DefaultRetryPolicy))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestNoRetryWithoutOption(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL,
		WithRetry(3, time.Millisecond, DefaultRetryPolicy))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetrySkipsClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL,
		WithRetry(3, time.Millisecond, DefaultRetryPolicy))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestIdempotentPolicyRetriesRateLimits(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Get(context.Background(), server.URL,
		WithRetry(3, time.Millisecond, IdempotentRetryPolicy))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRetryAbortsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	_, err := client.Get(ctx, server.URL,
		WithRetry(5, time.Millisecond, DefaultRetryPolicy))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryReplaysRequestBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(body))
		n := len(bodies)
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	resp, err := client.Post(context.Background(), server.URL, strings.NewReader("payload"),
		WithRetry(2, time.Millisecond, DefaultRetryPolicy))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, "payload", bodies[0])
	assert.Equal(t, "payload", bodies[1])
}

func TestRetryRejectsOversizedBody(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider(), WithMaxBodySize(8))

	_, err := client.Post(context.Background(), server.URL, strings.NewReader("sixteen byte body"),
		WithRetry(2, time.Millisecond, DefaultRetryPolicy))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, int32(0), attempts.Load(), "request must be rejected before it leaves the client")
}

func TestRetryConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		opt     RequestOption
		wantErr string
	}{
		{
			name:    "too many attempts",
			opt:     WithRetry(MaxRetryAttempts+1, time.Millisecond, DefaultRetryPolicy),
			wantErr: "exceeds the maximum",
		},
		{
			name:    "negative backoff",
			opt:     WithRetry(3, -time.Second, DefaultRetryPolicy),
			wantErr: "cannot be negative",
		},
		{
			name:    "backoff too long",
			opt:     WithRetry(3, MaxRetryBackoff+time.Second, DefaultRetryPolicy),
			wantErr: "exceeds the maximum",
		},
		{
			name:    "missing policy",
			opt:     WithRetry(3, time.Millisecond, nil),
			wantErr: "retry policy is required",
		},
	}

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fake.NewProvider())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Get(context.Background(), server.URL, tt.opt)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.Equal(t, int32(0), attempts.Load(), "invalid configs must fail before the request is sent")
}

func TestRetryPolicies(t *testing.T) {
	resp := func(status int) *http.Response { return &http.Response{StatusCode: status} }

	tests := []struct {
		name   string
		policy RetryPolicy
		err    error
		resp   *http.Response
		want   bool
	}{
		{"default retries network errors", DefaultRetryPolicy, errors.New("connection reset"), nil, true},
		{"default skips canceled context", DefaultRetryPolicy, context.Canceled, nil, false},
		{"default skips expired deadline", DefaultRetryPolicy, context.DeadlineExceeded, nil, false},
		{"default retries 500", DefaultRetryPolicy, nil, resp(500), true},
		{"default retries 503", DefaultRetryPolicy, nil, resp(503), true},
		{"default skips 200", DefaultRetryPolicy, nil, resp(200), false},
		{"default skips 404", DefaultRetryPolicy, nil, resp(404), false},
		{"default skips 429", DefaultRetryPolicy, nil, resp(429), false},
		{"default skips missing response", DefaultRetryPolicy, nil, nil, false},
		{"idempotent retries 429", IdempotentRetryPolicy, nil, resp(429), true},
		{"idempotent retries 502", IdempotentRetryPolicy, nil, resp(502), true},
		{"idempotent skips 400", IdempotentRetryPolicy, nil, resp(400), false},
		{"none skips network errors", NoRetryPolicy, errors.New("connection reset"), nil, false},
		{"none skips 500", NoRetryPolicy, nil, resp(500), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy(tt.err, tt.resp))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no error", nil, "none"},
		{"deadline exceeded", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"oversized body", ErrBodyTooLarge, "body_too_large"},
		{"wrapped deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), "timeout"},
		{"net timeout", fakeNetError{timeout: true}, "network_timeout"},
		{"net failure", fakeNetError{timeout: false}, "network_error"},
		{"anything else", errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestRequestsAreTraced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	obs := fake.NewProvider()
	client := newTestClient(t, obs)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	spans := obs.Tracer().(*fake.FakeTracer).GetSpans()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "http.client.request", span.Name)
	assert.Equal(t, observability.SpanKindClient, span.Kind)
	assert.Equal(t, observability.StatusCodeOK, span.Status)
	assert.Equal(t, http.MethodGet, fieldValue(span.Attributes, "http.method"))
	assert.Equal(t, http.StatusOK, fieldValue(span.Attributes, "http.status_code"))
	assert.NotNil(t, span.EndTime)
}

func TestServerErrorMarksSpan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	obs := fake.NewProvider()
	client := newTestClient(t, obs)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	spans := obs.Tracer().(*fake.FakeTracer).GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, observability.StatusCodeError, spans[0].Status)
	assert.Equal(t, "HTTP 500", spans[0].StatusDesc)
}

func TestMetricsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	obs := fake.NewProvider()
	client := newTestClient(t, obs)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	metrics := obs.Metrics().(*fake.FakeMetrics)

	requests := metrics.GetCounter("http.client.request.count")
	require.NotNil(t, requests)
	assert.EqualValues(t, 1, requests.Total())

	latency := metrics.GetHistogram("http.client.request.duration")
	require.NotNil(t, latency)
	assert.Len(t, latency.GetValues(), 1)
}

func TestNetworkFailureCountsAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	obs := fake.NewProvider()
	client := newTestClient(t, obs)

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)

	metrics := obs.Metrics().(*fake.FakeMetrics)
	failures := metrics.GetCounter("http.client.request.errors")
	require.NotNil(t, failures)

	values := failures.GetValues()
	require.Len(t, values, 1)
	assert.Equal(t, "network_error", fieldValue(values[0].Fields, "error.type"))

	spans := obs.Tracer().(*fake.FakeTracer).GetSpans()
	require.Len(t, spans, 1)
	assert.Error(t, spans[0].RecordedErr)
	assert.Equal(t, observability.StatusCodeError, spans[0].Status)
}
