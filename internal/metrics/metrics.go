// Package metrics holds the Prometheus instruments recurcal exports on /metrics.
//
//   - recurcal_sync_runs_total{mode,outcome}: finished sync runs
//   - recurcal_sync_duration_seconds{mode}: wall time of a run
//   - recurcal_occurrences_total{action}: created/updated/skipped/error outcomes
//   - recurcal_notion_requests_total{op,status}: collaborator HTTP calls
//   - recurcal_circuit_breaker_state{name}: 0=closed 1=half-open 2=open
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurcal_sync_runs_total",
			Help: "Finished sync runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recurcal_sync_duration_seconds",
			Help:    "Duration of a sync run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	Occurrences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurcal_occurrences_total",
			Help: "Per-occurrence reconciliation outcomes",
		},
		[]string{"action"},
	)

	NotionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurcal_notion_requests_total",
			Help: "Requests issued to the Notion API by operation and status",
		},
		[]string{"op", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recurcal_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordOutcome adds one run's counts to the occurrence counter.
func RecordOutcome(created, updated, skipped, errors int) {
	Occurrences.WithLabelValues("created").Add(float64(created))
	Occurrences.WithLabelValues("updated").Add(float64(updated))
	Occurrences.WithLabelValues("skipped").Add(float64(skipped))
	Occurrences.WithLabelValues("error").Add(float64(errors))
}
