package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var alertsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chimera_alerts_fired_total",
	Help: "Alerts fired by the rule engine, by severity and metric.",
}, []string{"severity", "metric"})
