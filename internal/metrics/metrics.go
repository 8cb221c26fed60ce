// Package metrics holds the Prometheus collectors for materialization and
// the daily reward cycle. They are registered on the default registry and
// served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OccurrencesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allowance_occurrences_created_total",
		Help: "Task occurrences inserted by the materializer",
	})

	OccurrencesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allowance_occurrences_skipped_total",
		Help: "Expanded dates that already had an occurrence",
	})

	RewardsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allowance_rewards_credited_total",
		Help: "Daily rewards written to the ledger",
	})

	RewardsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allowance_rewards_skipped_total",
		Help: "Daily rewards not written, by reason",
	}, []string{"reason"})

	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allowance_cycle_failures_total",
		Help: "Per-entity failures during materialization or crediting",
	}, []string{"kind"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allowance_daily_cycle_duration_seconds",
		Help:    "Duration of a full daily cycle",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	LastCycleTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "allowance_daily_cycle_last_success_timestamp_seconds",
		Help: "Unix time of the last daily cycle that finished",
	})
)
