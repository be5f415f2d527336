// Package metrics registers the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bank_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	TransactionsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_transactions_posted_total",
		Help: "Ledger transactions posted by kind and type",
	}, []string{"kind", "type"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_state_transitions_total",
		Help: "Lifecycle state transitions by machine, event and result",
	}, []string{"machine", "event", "result"})

	AuthorizationDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_authorization_denied_total",
		Help: "Requests rejected by the capability gate",
	}, []string{"capability"})

	SchedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_scheduler_job_runs_total",
		Help: "Scheduler job executions by result",
	}, []string{"job", "result"})
)

// Transition records the outcome of a state machine event.
func Transition(machine, event string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	StateTransitions.WithLabelValues(machine, event, result).Inc()
}
