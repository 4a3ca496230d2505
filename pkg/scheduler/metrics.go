package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chimera_scheduler_runs_total",
		Help: "Polling job runs by job id and result.",
	},
	[]string{"job", "result"},
)
