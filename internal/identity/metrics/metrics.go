package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity binding operations.
type Metrics struct {
	// Verify outcomes: matched, not_matched, no_binding, error
	VerifyOutcome *prometheus.CounterVec

	// Register outcomes: registered, already_registered, error
	RegisterOutcome *prometheus.CounterVec

	// Bindings removed by Reset
	BindingsRemoved prometheus.Counter

	// Identity index call latency by operation
	IndexLatency *prometheus.HistogramVec
}

// New registers identity metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers identity metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerifyOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_identity_verify_total",
			Help: "Identity verifications by outcome",
		}, []string{"outcome"}),

		RegisterOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_identity_register_total",
			Help: "Identity registrations by outcome",
		}, []string{"outcome"}),

		BindingsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_identity_bindings_removed_total",
			Help: "Bindings removed from the identity index by identity reset",
		}),

		IndexLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "presence_identity_index_duration_seconds",
			Help:    "Identity index call latency by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementVerify(outcome string) {
	if m != nil {
		m.VerifyOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementRegister(outcome string) {
	if m != nil {
		m.RegisterOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddBindingsRemoved(n int) {
	if m != nil && n > 0 {
		m.BindingsRemoved.Add(float64(n))
	}
}

func (m *Metrics) ObserveIndexLatency(operation string, d time.Duration) {
	if m != nil {
		m.IndexLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
