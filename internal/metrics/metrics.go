// Package metrics defines the Prometheus collectors exposed at /metrics,
// grounded on rancher-fleet's internal/metrics package, which groups related
// collectors into one struct registered at startup via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nopea"

// Collectors bundles every metric the controller exposes. One instance is
// built at process startup and shared across every worker goroutine;
// prometheus counters/histograms are already safe for concurrent use.
type Collectors struct {
	SyncTotal      *prometheus.CounterVec
	SyncDuration   *prometheus.HistogramVec
	ApplyTotal     *prometheus.CounterVec
	DriftTotal     *prometheus.CounterVec
	DriftHealTotal *prometheus.CounterVec
	WorkerPhase    *prometheus.GaugeVec
}

// New registers every collector against reg and returns the bundle.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		SyncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_total",
			Help:      "Total number of completed sync cycles, by repository and outcome.",
		}, []string{"repository", "outcome"}),

		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a full sync cycle (git sync through apply).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"repository"}),

		ApplyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_total",
			Help:      "Total number of individual resource applies, by repository and outcome.",
		}, []string{"repository", "outcome"}),

		DriftTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_classifications_total",
			Help:      "Total number of drift classifications, by repository and classification.",
		}, []string{"repository", "classification"}),

		DriftHealTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_heal_total",
			Help:      "Total number of heal-policy arbitration outcomes, by repository and action.",
		}, []string{"repository", "action"}),

		WorkerPhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_phase",
			Help:      "1 for the worker's current phase, 0 otherwise, by repository and phase.",
		}, []string{"repository", "phase"}),
	}
}
