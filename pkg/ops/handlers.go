package ops

import (
	"context"
	"net/http"

	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/resilience"
	"github.com/chimera-analytics/chimera/pkg/responses"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	responses.JSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadyz runs every registered check. Any failure makes the whole
// endpoint report 503 with the per-check outcomes, so orchestrators stop
// routing to the process while the failing dependency names itself.
func (s *Server) handleReadyz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
	defer cancel()

	body := healthResponse{
		Status: "ready",
		Checks: make(map[string]string, len(s.checks)),
	}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			body.Checks[name] = err.Error()
			body.Status = "unavailable"
			status = http.StatusServiceUnavailable

			s.o11y.Logger().Warn(req.Context(), "readiness check failed",
				observability.String("check", name),
				observability.Error(err),
			)
			continue
		}
		body.Checks[name] = "ok"
	}
	responses.JSON(w, status, body)
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	if s.breakers == nil {
		responses.JSON(w, http.StatusOK, []resilience.BreakerSnapshot{})
		return
	}
	responses.JSON(w, http.StatusOK, s.breakers.Snapshot())
}
