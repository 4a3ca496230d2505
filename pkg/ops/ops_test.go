package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/observability/fake"
	"github.com/chimera-analytics/chimera/pkg/observability/noop"
	"github.com/chimera-analytics/chimera/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	s := New("", noop.NewProvider())

	w := get(t, s, "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReadyzAllChecksPass(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	s := New("", noop.NewProvider(),
		WithCheck("bus", ok),
		WithCheck("kv", ok),
	)

	w := get(t, s, "/readyz")

	require.Equal(t, http.StatusOK, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Checks["bus"])
	assert.Equal(t, "ok", body.Checks["kv"])
}

func TestReadyzFailingDependency(t *testing.T) {
	obs := fake.NewProvider()
	s := New("", obs,
		WithCheck("bus", func(ctx context.Context) error { return nil }),
		WithCheck("kv", func(ctx context.Context) error { return errors.New("connection refused") }),
	)

	w := get(t, s, "/readyz")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["bus"])
	assert.Contains(t, body.Checks["kv"], "connection refused")

	var warned bool
	for _, entry := range obs.Logger().(*fake.FakeLogger).GetEntries() {
		if entry.Level == observability.LogLevelWarn && entry.Message == "readiness check failed" {
			warned = true
			assert.Equal(t, "kv", entry.Field("check"))
		}
	}
	assert.True(t, warned)
}

func TestReadyzWithoutChecks(t *testing.T) {
	s := New("", noop.NewProvider())

	w := get(t, s, "/readyz")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
}

func TestBreakersSnapshot(t *testing.T) {
	registry := resilience.NewRegistry(noop.NewProvider(), resilience.BreakerConfig{FailureThreshold: 2})
	breaker := registry.Get("notifier")
	for i := 0; i < 2; i++ {
		_ = breaker.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("endpoint down")
		})
	}

	s := New("", noop.NewProvider(), WithBreakers(registry))

	w := get(t, s, "/breakers")

	require.Equal(t, http.StatusOK, w.Code)

	var snapshots []resilience.BreakerSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 1)
	assert.Equal(t, "notifier", snapshots[0].Name)
	assert.Equal(t, resilience.StateOpen, snapshots[0].State)
	assert.Equal(t, 2, snapshots[0].Failures)
}

func TestBreakersWithoutRegistry(t *testing.T) {
	s := New("", noop.NewProvider())

	w := get(t, s, "/breakers")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s := New("", noop.NewProvider())

	w := get(t, s, "/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

func TestDefaultAddrFallback(t *testing.T) {
	assert.Equal(t, DefaultAddr, New("", noop.NewProvider()).srv.Addr)
	assert.Equal(t, ":9999", New(":9999", noop.NewProvider()).srv.Addr)
}
