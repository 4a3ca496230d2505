package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chimera_breaker_transitions_total",
	Help: "Circuit breaker state transitions, by breaker name and edge.",
}, []string{"breaker", "from", "to"})
