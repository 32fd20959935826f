// Package metrics exposes Prometheus instruments for the sanction workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for decision transitions and background work.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Transition outcomes by operation and result
	Transitions *prometheus.CounterVec

	// Lost optimistic-lock races by operation
	Conflicts *prometheus.CounterVec

	// Final amounts of calculations, in euros
	FineAmount prometheus.Histogram

	// Overdue sweep results
	SweepMarked   prometheus.Counter
	SweepFailed   prometheus.Counter
	SweepDuration prometheus.Histogram

	// Fiscal exports produced
	Exports prometheus.Counter
}

// New registers every instrument with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sanctiond_decision_transitions_total",
			Help: "Decision operations by operation and outcome",
		}, []string{"operation", "outcome"}), // outcome: ok, invalid_state, conflict, validation, forbidden, error

		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sanctiond_decision_conflicts_total",
			Help: "Decision writes rejected by the version guard",
		}, []string{"operation"}),

		FineAmount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sanctiond_fine_amount_euros",
			Help:    "Final fine amounts produced by the calculator",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
		}),

		SweepMarked: f.NewCounter(prometheus.CounterOpts{
			Name: "sanctiond_overdue_marked_total",
			Help: "Decisions moved to overdue by the sweeper",
		}),

		SweepFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "sanctiond_overdue_failed_total",
			Help: "Decisions the sweeper could not evaluate",
		}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sanctiond_overdue_sweep_duration_seconds",
			Help:    "Duration of a full overdue sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		Exports: f.NewCounter(prometheus.CounterOpts{
			Name: "sanctiond_exports_total",
			Help: "Fiscal export records written",
		}),
	}
}

// IncTransition records the outcome of an operation.
func (m *Metrics) IncTransition(operation, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(operation, outcome).Inc()
		if outcome == "conflict" {
			m.Conflicts.WithLabelValues(operation).Inc()
		}
	}
}

// ObserveFine records a final amount given in cents.
func (m *Metrics) ObserveFine(cents int64) {
	if m != nil {
		m.FineAmount.Observe(float64(cents) / 100)
	}
}

// ObserveSweep records a completed overdue sweep.
func (m *Metrics) ObserveSweep(marked, failed int, d time.Duration) {
	if m != nil {
		m.SweepMarked.Add(float64(marked))
		m.SweepFailed.Add(float64(failed))
		m.SweepDuration.Observe(d.Seconds())
	}
}

// IncExport records a written export.
func (m *Metrics) IncExport() {
	if m != nil {
		m.Exports.Inc()
	}
}
