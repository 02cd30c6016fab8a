// Package metrics exposes sync cycle telemetry to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mana-sync-service/internal/sync"
)

const namespace = "manasync"

// SyncMetrics records cycle outcomes per collection.
type SyncMetrics struct {
	cycles       *prometheus.CounterVec
	changes      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	localRecords *prometheus.GaugeVec
	lastSuccess  *prometheus.GaugeVec
}

// NewSyncMetrics constructs the instruments and registers them against reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &SyncMetrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "cycles_total",
				Help:      "Sync cycles by collection and final status.",
			},
			[]string{"collection", "status"},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "records_changed_total",
				Help:      "Records added, updated or deleted by committed cycles.",
			},
			[]string{"collection", "op"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of non-skipped sync cycles.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"collection"},
		),
		localRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "local_records",
				Help:      "Rows in the comparison table after the last committed cycle.",
			},
			[]string{"collection"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful cycle.",
			},
			[]string{"collection"},
		),
	}
	reg.MustRegister(m.cycles, m.changes, m.duration, m.localRecords, m.lastSuccess)
	return m
}

// ObserveOutcome implements sync.Recorder.
func (m *SyncMetrics) ObserveOutcome(out sync.Outcome) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(out.Collection, string(out.Status)).Inc()
	if out.Status == sync.StatusSkipped {
		return
	}
	if d := out.Duration(); d >= 0 {
		m.duration.WithLabelValues(out.Collection).Observe(d.Seconds())
	}
	if out.Status != sync.StatusSucceeded {
		return
	}
	m.changes.WithLabelValues(out.Collection, "added").Add(float64(out.Added))
	m.changes.WithLabelValues(out.Collection, "updated").Add(float64(out.Updated))
	m.changes.WithLabelValues(out.Collection, "deleted").Add(float64(out.Deleted))
	m.localRecords.WithLabelValues(out.Collection).Set(float64(out.Total))
	m.lastSuccess.WithLabelValues(out.Collection).Set(float64(out.FinishedAt.Unix()))
}

// CyclesCounter exposes the cycle counter for tests and diagnostics.
func (m *SyncMetrics) CyclesCounter(collection string, status sync.Status) prometheus.Counter {
	return m.cycles.WithLabelValues(collection, string(status))
}

// ChangesCounter exposes the change counter for tests and diagnostics.
func (m *SyncMetrics) ChangesCounter(collection, op string) prometheus.Counter {
	return m.changes.WithLabelValues(collection, op)
}

// LocalRecordsGauge exposes the table size gauge for tests and diagnostics.
func (m *SyncMetrics) LocalRecordsGauge(collection string) prometheus.Gauge {
	return m.localRecords.WithLabelValues(collection)
}
