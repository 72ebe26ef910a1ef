package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus metrics: session lifecycle,
// turn loop throughput, tool dispatch outcomes, approval gate decisions,
// model usage, and outbound channel sends.
type Metrics struct {
	// SessionsStarted counts sessions by role and creator.
	SessionsStarted *prometheus.CounterVec

	// SessionsEnded counts sessions reaching a terminal (or suspended)
	// status. Labels: role, status.
	SessionsEnded *prometheus.CounterVec

	// Turns counts completed turns by role.
	Turns *prometheus.CounterVec

	// ToolExecutions counts tool dispatches.
	// Labels: tool, outcome (ok|error|refused|rejected|pending).
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	ToolDuration *prometheus.HistogramVec

	// ApprovalDecisions counts gate outcomes.
	// Labels: mode, decision (auto_execute|require_approval|reject).
	ApprovalDecisions *prometheus.CounterVec

	// ModelRequests counts provider calls. Labels: provider, model, status.
	ModelRequests *prometheus.CounterVec

	// ModelLatency measures provider call latency in seconds.
	ModelLatency *prometheus.HistogramVec

	// ModelTokens counts tokens. Labels: provider, model, type (input|output).
	ModelTokens *prometheus.CounterVec

	// EventsDropped counts stream events dropped because a consumer fell
	// behind. Labels: event_type.
	EventsDropped *prometheus.CounterVec

	// OutboundSends counts channel deliveries. Labels: channel, status.
	OutboundSends *prometheus.CounterVec
}

// NewMetrics registers all metrics on the default registry. Call once at
// startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on a specific registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_sessions_started_total",
				Help: "Sessions started by role and creator",
			},
			[]string{"role", "creator"},
		),
		SessionsEnded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_sessions_ended_total",
				Help: "Sessions ended by role and final status",
			},
			[]string{"role", "status"},
		),
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_turns_total",
				Help: "Completed agent turns by role",
			},
			[]string{"role"},
		),
		ToolExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_tool_executions_total",
				Help: "Tool dispatches by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxassist_tool_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		ApprovalDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_approval_decisions_total",
				Help: "Approval gate decisions by autonomy mode",
			},
			[]string{"mode", "decision"},
		),
		ModelRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_model_requests_total",
				Help: "Model provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ModelLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxassist_model_latency_seconds",
				Help:    "Model provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ModelTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_model_tokens_total",
				Help: "Token usage by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		EventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_events_dropped_total",
				Help: "Session stream events dropped due to slow consumers",
			},
			[]string{"event_type"},
		),
		OutboundSends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxassist_outbound_sends_total",
				Help: "Outbound channel deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),
	}
}

// RecordModelRequest records one provider call.
func (m *Metrics) RecordModelRequest(provider, model, status string, seconds float64, inputTokens, outputTokens int64) {
	m.ModelRequests.WithLabelValues(provider, model, status).Inc()
	m.ModelLatency.WithLabelValues(provider, model).Observe(seconds)
	if inputTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(tool, outcome string, seconds float64) {
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}
