package drift

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for drift detection.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	FieldsDrifted     *prometheus.CounterVec
	RemediationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns drift metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_drift_runs_total",
			Help: "Total detection runs by result.",
		}, []string{"result"}),
		FieldsDrifted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_drift_fields_total",
			Help: "Total drifted fields by sensitivity.",
		}, []string{"severity"}),
		RemediationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_drift_remediations_total",
			Help: "Total baseline write-backs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.RunsTotal, m.FieldsDrifted, m.RemediationsTotal)
	return m
}
