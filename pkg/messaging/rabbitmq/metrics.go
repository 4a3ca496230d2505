package rabbitmq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bus-level counters, scraped through the operational /metrics endpoint.
var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chimera_bus_published_total",
		Help: "Messages published to the bus, by routing key.",
	}, []string{"routing_key"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chimera_bus_consumed_total",
		Help: "Deliveries received from the bus, by routing key.",
	}, []string{"routing_key"})

	ackedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chimera_bus_acked_total",
		Help: "Deliveries acknowledged after successful handling.",
	})

	nackedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chimera_bus_nacked_total",
		Help: "Deliveries rejected without requeue, routed to the dead-letter queue.",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chimera_bus_reconnects_total",
		Help: "Successful broker reconnections.",
	})
)
