package batch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the batch orchestrator.
type Metrics struct {
	JobsTotal    *prometheus.CounterVec
	ItemsTotal   *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	CancelsTotal prometheus.Counter
}

// NewMetrics registers and returns batch metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_batch_jobs_total",
			Help: "Total batch jobs started, by operation.",
		}, []string{"operation"}),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_batch_items_total",
			Help: "Total processed items by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_batch_duration_seconds",
			Help:    "Wall-clock duration of completed batches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~1000s
		}, []string{"operation"}),
		CancelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_batch_cancels_total",
			Help: "Total cancelled batch jobs.",
		}),
	}
	reg.MustRegister(m.JobsTotal, m.ItemsTotal, m.JobDuration, m.CancelsTotal)
	return m
}
