// Package metrics defines the Prometheus collectors exported by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offline_sync"

// Metrics groups every collector. Build it once per registry with New.
type Metrics struct {
	// CacheLookups counts remember lookups by category and result (hit|miss|backup|fail).
	CacheLookups *prometheus.CounterVec

	// RemoteRequests counts façade calls by verb and outcome (ok|queued|offline|error).
	RemoteRequests *prometheus.CounterVec

	// RemoteLatency measures remote round trips.
	RemoteLatency *prometheus.HistogramVec

	// QueueDepth tracks pending mutations.
	QueueDepth prometheus.Gauge

	// QueueReplays counts drain outcomes (completed|retry|failed).
	QueueReplays *prometheus.CounterVec

	// Online is 1 while the oracle reports connectivity.
	Online prometheus.Gauge

	// Invalidations counts keys removed by the invalidation engine, by trigger.
	Invalidations *prometheus.CounterVec

	// BackupBytes tracks the payload size held in the backup store.
	BackupBytes prometheus.Gauge

	// MaintenanceRuns counts cron jobs by job and result (success|failure).
	MaintenanceRuns *prometheus.CounterVec
}

// New registers all collectors on reg. A nil reg uses a private registry so
// tests can build as many instances as they like.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Remember lookups by category and result",
		}, []string{"category", "result"}),
		RemoteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Gateway requests by verb and outcome",
		}, []string{"verb", "outcome"}),
		RemoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_latency_seconds",
			Help:      "Remote API round trip latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Pending mutations in the sync queue",
		}),
		QueueReplays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_replays_total",
			Help:      "Sync queue replay outcomes",
		}, []string{"result"}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the connectivity oracle reports online",
		}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_keys_total",
			Help:      "Cache keys removed by invalidation",
		}, []string{"trigger"}),
		BackupBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_bytes",
			Help:      "Bytes held in the offline backup store",
		}),
		MaintenanceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance job runs by job and result",
		}, []string{"job", "result"}),
	}
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics { return New(nil) }

// OrNop returns m, or a throwaway set when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return Nop()
	}
	return m
}
