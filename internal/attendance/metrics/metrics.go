package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for attendance sessions.
type Metrics struct {
	// Check-in outcomes: checked_in, duplicate, verification_failed, error
	CheckIns *prometheus.CounterVec

	// Check-out outcomes: checked_out, no_open_session, verification_failed, error
	CheckOuts *prometheus.CounterVec

	// Check-ins after shift start plus grace
	LateCheckIns prometheus.Counter

	// Closed session durations
	WorkDuration prometheus.Histogram
}

// New registers attendance metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers attendance metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CheckIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_attendance_check_ins_total",
			Help: "Check-in attempts by outcome",
		}, []string{"outcome"}),

		CheckOuts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_attendance_check_outs_total",
			Help: "Check-out attempts by outcome",
		}, []string{"outcome"}),

		LateCheckIns: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_attendance_late_check_ins_total",
			Help: "Check-ins classified as late",
		}),

		WorkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_attendance_work_duration_hours",
			Help:    "Duration of closed attendance sessions",
			Buckets: []float64{1, 2, 4, 6, 8, 9, 10, 12, 16},
		}),
	}
}

func (m *Metrics) IncrementCheckIn(outcome string) {
	if m != nil {
		m.CheckIns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementCheckOut(outcome string) {
	if m != nil {
		m.CheckOuts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementLate() {
	if m != nil {
		m.LateCheckIns.Inc()
	}
}

func (m *Metrics) ObserveWorkDuration(d time.Duration) {
	if m != nil {
		m.WorkDuration.Observe(d.Hours())
	}
}
