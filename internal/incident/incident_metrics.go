package incident

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/warden/internal/classify"
)

// Metrics holds Prometheus metrics for the incident subsystem.
type Metrics struct {
	IncidentsTotal   *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	ActionsTotal     *prometheus.CounterVec
	ActionAttempts   *prometheus.HistogramVec
	SubmitsTotal     *prometheus.CounterVec
	PendingEvents    prometheus.Gauge
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_incidents_total",
			Help: "Total incidents by severity and terminal status.",
		}, []string{"severity", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_dispatch_duration_seconds",
			Help:    "Duration of incident dispatch runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~200s
		}, []string{"severity"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_actions_total",
			Help: "Total action results by action name and outcome.",
		}, []string{"action", "outcome"}),
		ActionAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_action_attempts",
			Help:    "Attempts used per executed or failed action.",
			Buckets: prometheus.LinearBuckets(1, 1, 8), // 1 .. 8
		}, []string{"action"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total event submissions by result.",
		}, []string{"result"}),
		PendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_pending_events",
			Help: "Events queued waiting for the scoring model.",
		}),
	}

	reg.MustRegister(
		m.IncidentsTotal,
		m.DispatchDuration,
		m.ActionsTotal,
		m.ActionAttempts,
		m.SubmitsTotal,
		m.PendingEvents,
	)

	return m
}

// Hooks returns DispatchHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() DispatchHooks {
	return DispatchHooks{
		OnAction: func(action classify.Action, outcome Outcome, attempts int) {
			m.ActionsTotal.WithLabelValues(string(action), string(outcome)).Inc()
			if outcome != OutcomeRetried {
				m.ActionAttempts.WithLabelValues(string(action)).Observe(float64(attempts))
			}
		},
		OnComplete: func(inc *Incident, duration float64) {
			m.IncidentsTotal.WithLabelValues(string(inc.Severity), string(inc.Status)).Inc()
			m.DispatchDuration.WithLabelValues(string(inc.Severity)).Observe(duration)
		},
	}
}
