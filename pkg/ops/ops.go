// Package ops serves the operational HTTP surface of an agent process:
// liveness, readiness, circuit-breaker introspection, and Prometheus
// metrics. It is not a product API.
package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/resilience"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8090"

const (
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	maxHeaderBytes    = 1 << 20

	checkTimeout = 5 * time.Second
)

// Check probes one dependency for readiness. A nil return means ready.
type Check func(ctx context.Context) error

// Option configures the server.
type Option func(*Server)

// WithCheck registers a named readiness probe, e.g. the broker or the KV
// store. All checks run on every /readyz request.
func WithCheck(name string, check Check) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithBreakers exposes the registry's breakers on /breakers.
func WithBreakers(registry *resilience.Registry) Option {
	return func(s *Server) {
		s.breakers = registry
	}
}

// Server is the ops HTTP server.
type Server struct {
	o11y     observability.Observability
	srv      *http.Server
	checks   map[string]Check
	breakers *resilience.Registry

	shutdownListener chan error
}

// Shutdown gracefully stops the server.
type Shutdown func(ctx context.Context) error

// New creates an ops server on addr. An empty addr falls back to
// DefaultAddr; disabling the server entirely is the caller's decision.
func New(addr string, o11y observability.Observability, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		o11y:             o11y,
		checks:           make(map[string]Check),
		shutdownListener: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	router.Get("/breakers", s.handleBreakers)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	return s
}

// Run starts serving in a goroutine and returns the shutdown function.
// Listen failures are delivered on ShutdownListener.
func (s *Server) Run() Shutdown {
	go func() {
		err := s.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			s.shutdownListener <- nil
			return
		}
		s.shutdownListener <- err
	}()

	s.o11y.Logger().Info(context.Background(), "ops server listening",
		observability.String("addr", s.srv.Addr),
	)
	return s.srv.Shutdown
}

// ShutdownListener returns a channel that receives the server's
// termination error, or nil after a clean shutdown.
func (s *Server) ShutdownListener() <-chan error {
	return s.shutdownListener
}

// ServeHTTP implements http.Handler so handlers are testable without a
// listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.srv.Handler.ServeHTTP(w, req)
}
