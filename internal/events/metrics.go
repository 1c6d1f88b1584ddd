package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type busMetrics struct {
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newBusMetrics registers on reg. A nil reg yields unregistered collectors.
func newBusMetrics(reg prometheus.Registerer) *busMetrics {
	factory := promauto.With(reg)
	return &busMetrics{
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "repeatnomore",
				Subsystem: "event_handler",
				Name:      "results_total",
				Help:      "Handler invocations by event type, handler and outcome",
			},
			[]string{"event_type", "handler", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "repeatnomore",
				Subsystem: "event_handler",
				Name:      "duration_seconds",
				Help:      "Handler invocation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
	}
}

func (m *busMetrics) observe(r HandlerResult) {
	m.results.WithLabelValues(string(r.EventType), r.Handler, r.Outcome.String()).Inc()
	m.duration.WithLabelValues(r.Handler).Observe(r.Duration.Seconds())
}
