package allocation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts allocation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	placements    *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_placements_total",
			Help: "Patients processed, by outcome status.",
		}, []string{"status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_reservation_attempts_total",
			Help: "Reservation attempts against the facility registry, by result.",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "allocator_batch_duration_seconds",
			Help:    "Time spent allocating one batch.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	reg.MustRegister(m.placements, m.attempts, m.batchDuration)
	return m
}

func (m *Metrics) observeAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeBatch(results []AssignmentResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.placements.WithLabelValues(r.Status.String()).Inc()
	}
	m.batchDuration.Observe(elapsed.Seconds())
}
