package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAnswers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lexicore_review_answers_total",
		Help: "Graded mini-game answers, by game type and correctness.",
	}, []string{"game", "correct"})

	metricSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lexicore_review_sessions_completed_total",
		Help: "Review sessions completed.",
	})
)
