package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the agent's Prometheus collectors.
type Metrics struct {
	// ToolInvocations counts tool executions.
	// Labels: tool, outcome (ok, error)
	ToolInvocations *prometheus.CounterVec

	// ToolDuration observes tool execution time in milliseconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// GuardrailTiers counts guardrail tier attempts.
	// Labels: tier, outcome (ok, empty, error)
	GuardrailTiers *prometheus.CounterVec

	// Runs counts finished runs by the state that produced the HTML, or FAILED.
	// Labels: tier
	Runs *prometheus.CounterVec

	// Deliveries counts send attempts.
	// Labels: provider, outcome (ok, error)
	Deliveries *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ToolInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Total number of agent tool invocations",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_ms",
				Help:      "Agent tool duration in milliseconds",
				Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"tool"},
		),
		GuardrailTiers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guardrail_tiers_total",
				Help:      "Guardrail tier attempts by outcome",
			},
			[]string{"tier", "outcome"},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished agent runs by producing tier",
			},
			[]string{"tier"},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Newsletter delivery attempts",
			},
			[]string{"provider", "outcome"},
		),
	}
}

// The helpers below tolerate a nil receiver so tests can run without metrics.

func (m *Metrics) tool(name, outcome string, ms int64) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(name, outcome).Inc()
	m.ToolDuration.WithLabelValues(name).Observe(float64(ms))
}

func (m *Metrics) tier(tier State, outcome string) {
	if m == nil {
		return
	}
	m.GuardrailTiers.WithLabelValues(string(tier), outcome).Inc()
}

func (m *Metrics) run(tier State) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(tier)).Inc()
}

func (m *Metrics) delivery(provider, outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(provider, outcome).Inc()
}
