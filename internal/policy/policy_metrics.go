package policy

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the policy ledger.
type Metrics struct {
	MutationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns ledger metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_policy_mutations_total",
			Help: "Total ledger mutations by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.MutationsTotal)
	return m
}
