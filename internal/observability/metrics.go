package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics: agent invocations, tool executions,
// connector dispatches, and trigger fires.
type Metrics struct {
	// AgentInvocations counts invocations by agent and status
	// (success|error).
	AgentInvocations *prometheus.CounterVec

	// AgentInvocationDuration measures invocation latency in seconds.
	AgentInvocationDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption by agent and type
	// (input|output).
	TokensUsed *prometheus.CounterVec

	// ToolExecutions counts tool dispatches by tool name and status.
	ToolExecutions *prometheus.CounterVec

	// ConnectorDispatches counts integration events handed to an agent,
	// by connector kind (chat|email) and agent.
	ConnectorDispatches *prometheus.CounterVec

	// ConnectorQueueDepth is the current single-flight queue depth per
	// connector.
	ConnectorQueueDepth *prometheus.GaugeVec

	// TriggerFires counts trigger activations by type (cron|webhook) and
	// agent.
	TriggerFires *prometheus.CounterVec

	// ActiveSessions tracks the live session count.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers all metrics with the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in
// tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AgentInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_agent_invocations_total",
				Help: "Total agent invocations by agent and status",
			},
			[]string{"agent", "status"},
		),
		AgentInvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_agent_invocation_duration_seconds",
				Help:    "Agent invocation latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_tokens_total",
				Help: "Total tokens consumed by agent and type",
			},
			[]string{"agent", "type"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ConnectorDispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_connector_dispatches_total",
				Help: "Total integration events dispatched to agents",
			},
			[]string{"kind", "agent"},
		),
		ConnectorQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maestro_connector_queue_depth",
				Help: "Current single-flight queue depth per connector",
			},
			[]string{"connector"},
		),
		TriggerFires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_trigger_fires_total",
				Help: "Total trigger activations by type and agent",
			},
			[]string{"type", "agent"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maestro_active_sessions",
				Help: "Current number of live sessions",
			},
		),
	}
}

// RecordInvocation records one agent invocation outcome.
func (m *Metrics) RecordInvocation(agent, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.AgentInvocations.WithLabelValues(agent, status).Inc()
	m.AgentInvocationDuration.WithLabelValues(agent).Observe(durationSeconds)
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(agent, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(agent, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool dispatch outcome.
func (m *Metrics) RecordToolExecution(tool, status string) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}

// RecordDispatch records one connector event handed to an agent.
func (m *Metrics) RecordDispatch(kind, agent string) {
	m.ConnectorDispatches.WithLabelValues(kind, agent).Inc()
}

// RecordTriggerFire records one trigger activation.
func (m *Metrics) RecordTriggerFire(triggerType, agent string) {
	m.TriggerFires.WithLabelValues(triggerType, agent).Inc()
}

// SetQueueDepth records the current dispatch queue depth of a connector.
func (m *Metrics) SetQueueDepth(connector string, depth int) {
	m.ConnectorQueueDepth.WithLabelValues(connector).Set(float64(depth))
}

// SetActiveSessions records the live session count.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
