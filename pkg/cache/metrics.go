package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chimera_cache_requests_total",
	Help: "Cache lookups by key namespace and outcome.",
}, []string{"namespace", "result"})
