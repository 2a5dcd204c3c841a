package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors emitted by the orchestration
// runtime, grouped the way the teacher's observability.Metrics groups
// its gateway/LLM/tool counters.
type Metrics struct {
	TurnDuration        *prometheus.HistogramVec
	TurnCounter         *prometheus.CounterVec
	ToolCallCounter      *prometheus.CounterVec
	ToolCallDuration     *prometheus.HistogramVec
	HitlPauseCounter     *prometheus.CounterVec
	OAuthFlowCounter     *prometheus.CounterVec
	McpConnectCounter    *prometheus.CounterVec
	RecipientChooserHits *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
}

// NewMetrics registers and returns the runtime's Prometheus collectors
// against reg. Pass prometheus.NewRegistry() in tests to avoid collisions
// with the global default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentcore_turn_duration_seconds",
			Help: "Duration of one orchestrator turn, from invoke to terminal/paused state.",
		}, []string{"outcome"}),
		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_turns_total",
			Help: "Total orchestrator turns processed, labeled by terminal outcome.",
		}, []string{"outcome"}),
		ToolCallCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total tool calls dispatched, labeled by catalog id and result.",
		}, []string{"catalog_id", "result"}),
		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentcore_tool_call_duration_seconds",
			Help: "Duration of individual tool calls.",
		}, []string{"catalog_id"}),
		HitlPauseCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_hitl_pauses_total",
			Help: "Total times a turn paused for human-in-the-loop approval.",
		}, []string{"catalog_id"}),
		OAuthFlowCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_oauth_flows_total",
			Help: "Total OAuth authorization flows started/completed/failed.",
		}, []string{"server", "outcome"}),
		McpConnectCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_mcp_connections_total",
			Help: "Total MCP server connection attempts, labeled by transport and result.",
		}, []string{"server", "transport", "result"}),
		RecipientChooserHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_recipient_chooser_selections_total",
			Help: "Total times the recipient chooser selected a given agent.",
		}, []string{"agent"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_active_sessions",
			Help: "Current count of sessions with at least one running task.",
		}),
	}
}
