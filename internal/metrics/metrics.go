package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the drip pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	EnrollmentsTotal *prometheus.CounterVec
	RepliesTotal     *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	SweepErrors      prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_messages_total",
				Help: "Outbound drip messages by delivery status",
			},
			[]string{"status"}, // sent, failed
		),
		EnrollmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_enrollments_total",
				Help: "Enrollment transitions by outcome",
			},
			[]string{"outcome"}, // enrolled, advanced, completed, error, paused, skipped
		),
		RepliesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_replies_total",
				Help: "Inbound lead replies",
			},
			[]string{"escalated"},
		),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "drip_sweep_duration_seconds",
			Help:    "Duration of due-enrollment sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		SweepErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "drip_sweep_enrollment_errors_total",
			Help: "Enrollments that failed during a sweep",
		}),
	}
}

func (m *Metrics) Message(status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Enrollment(outcome string) {
	if m == nil {
		return
	}
	m.EnrollmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reply(escalated bool) {
	if m == nil {
		return
	}
	label := "false"
	if escalated {
		label = "true"
	}
	m.RepliesTotal.WithLabelValues(label).Inc()
}

// ObserveSweep records one sweep's duration and failed enrollment count.
func (m *Metrics) ObserveSweep(d time.Duration, failed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.SweepErrors.Add(float64(failed))
}
