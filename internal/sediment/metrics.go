package sediment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricVotes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lexicore_sediment_votes_total",
	Help: "Community votes, by outcome (accepted or rejected).",
}, []string{"outcome"})
