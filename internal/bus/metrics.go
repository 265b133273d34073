package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lexicore_bus_messages_published_total",
		Help: "Messages published on the bus, by type.",
	}, []string{"type"})

	metricHandlerFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lexicore_bus_handler_faults_total",
		Help: "Handler errors and panics recovered during dispatch, by type.",
	}, []string{"type"})
)
