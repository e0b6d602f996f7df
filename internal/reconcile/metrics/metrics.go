package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for reconciliation runs.
type Metrics struct {
	// Runs by routine (ghosts, sessions), mode and outcome (ok, partial, error)
	Runs *prometheus.CounterVec

	// Ghost bindings detected per run
	GhostBindings prometheus.Gauge

	// Corrective deletions by kind (binding, session)
	Deleted *prometheus.CounterVec

	// Entries surfaced for manual review by routine
	Conflicts *prometheus.CounterVec

	// Failed delete batches
	FailedBatches prometheus.Counter
}

// New registers reconciliation metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers reconciliation metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_reconcile_runs_total",
			Help: "Reconciliation runs by routine, mode and outcome",
		}, []string{"routine", "mode", "outcome"}),

		GhostBindings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_reconcile_ghost_bindings",
			Help: "Ghost bindings found by the most recent scan",
		}),

		Deleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_reconcile_deleted_total",
			Help: "Records deleted by reconciliation by kind",
		}, []string{"kind"}),

		Conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_reconcile_conflicts_total",
			Help: "Entries left for manual review by routine",
		}, []string{"routine"}),

		FailedBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_reconcile_failed_batches_total",
			Help: "Delete batches that failed after retries",
		}),
	}
}

func (m *Metrics) IncrementRun(routine, mode, outcome string) {
	if m != nil {
		m.Runs.WithLabelValues(routine, mode, outcome).Inc()
	}
}

func (m *Metrics) SetGhostBindings(n int) {
	if m != nil {
		m.GhostBindings.Set(float64(n))
	}
}

func (m *Metrics) AddDeleted(kind string, n int) {
	if m != nil && n > 0 {
		m.Deleted.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) AddConflicts(routine string, n int) {
	if m != nil && n > 0 {
		m.Conflicts.WithLabelValues(routine).Add(float64(n))
	}
}

func (m *Metrics) AddFailedBatches(n int) {
	if m != nil && n > 0 {
		m.FailedBatches.Add(float64(n))
	}
}
