// Package metrics centralizes the Prometheus collectors the control plane
// exposes at GET /metrics. Grounded on the instrumentation convention
// GoogleCloudPlatform-prometheus-engine and cuemby-warren both use for
// long-running daemons: package-level collectors registered once,
// incremented from the call sites that own the state transition.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TunnelState is 1 for the tunnel's current state, 0 otherwise, labeled
	// by state name ("up", "down", "restarting").
	TunnelState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metasuper_tunnel_state",
		Help: "Current tunnel state (1=active) labeled by state name.",
	}, []string{"state"})

	// TunnelRestartsTotal counts restart attempts since process start.
	TunnelRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metasuper_tunnel_restarts_total",
		Help: "Total tunnel restart attempts.",
	})

	// PortAllocationsActive tracks active allocations per project.
	PortAllocationsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metasuper_port_allocations_active",
		Help: "Active port allocations labeled by project.",
	}, []string{"project"})

	// ToolCallsTotal counts tool executions labeled by tool name and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metasuper_tool_calls_total",
		Help: "Tool invocations labeled by tool name and outcome (ok|error).",
	}, []string{"tool", "outcome"})

	// ToolCallDuration tracks tool execution latency in seconds.
	ToolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metasuper_tool_call_duration_seconds",
		Help:    "Tool execution latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	// CNAMERequestsTotal counts CNAME lifecycle operations by outcome.
	CNAMERequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metasuper_cname_requests_total",
		Help: "CNAME lifecycle requests labeled by operation and outcome.",
	}, []string{"operation", "outcome"})
)

func init() {
	prometheus.MustRegister(
		TunnelState,
		TunnelRestartsTotal,
		PortAllocationsActive,
		ToolCallsTotal,
		ToolCallDuration,
		CNAMERequestsTotal,
	)
}
