package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_passes_total",
			Help: "Total number of overdue handling passes",
		},
		[]string{"status"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cadence_pass_duration_seconds",
			Help:    "Overdue handling pass latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	passesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_passes_skipped_total",
			Help: "Passes not run because another process or tick held the lock",
		},
		[]string{"reason"},
	)

	handlerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_handler_invocations_total",
			Help: "Total number of occurrence handler invocations",
		},
		[]string{"kind", "status"},
	)

	handlersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_handlers_skipped_total",
			Help: "Overdue rules whose handler reference could not be resolved",
		},
		[]string{"kind"},
	)

	rulesAdvanced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_rules_advanced_total",
			Help: "Total number of rules moved to their next occurrence",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPass records the outcome of one overdue handling pass.
func RecordPass(err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	passesTotal.WithLabelValues(status).Inc()
	passDuration.Observe(duration.Seconds())
}

func RecordPassSkipped(reason string) {
	passesSkipped.WithLabelValues(reason).Inc()
}

// RecordHandlerInvocation counts a handler call. kind is "handler" or "related".
func RecordHandlerInvocation(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	handlerInvocations.WithLabelValues(kind, status).Inc()
}

func RecordHandlerSkipped(kind string) {
	handlersSkipped.WithLabelValues(kind).Inc()
}

func AddRulesAdvanced(n int) {
	rulesAdvanced.Add(float64(n))
}
