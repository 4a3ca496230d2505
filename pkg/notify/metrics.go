package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chimera_notifications_total",
		Help: "Alert notification deliveries by channel type and result.",
	},
	[]string{"channel_type", "result"},
)
