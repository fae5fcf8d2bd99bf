// Package metrics registers the Prometheus collectors csa exposes for its
// slot scheduler, pipeline stages, and MCP proxy hub. All registration happens once, process-wide: every
// component that wants to record something calls the package-level
// functions below rather than holding its own collector handles.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registerOnce sync.Once

	slotOccupancy *prometheus.GaugeVec
	pipelineStageDur *prometheus.HistogramVec
	mcpHubOverhead *prometheus.HistogramVec
)

// Register creates and registers csa's collectors. Safe to call more than
// once; only the first call has any effect. Every recording function below
// calls Register first, so callers that never invoke it directly (e.g.
// short-lived `csa run` one-shots with no metrics consumer) still get
// working collectors on first use — Register just makes the moment
// explicit for servers that expose /metrics.
func Register() {
	registerOnce.Do(func() {
		slotOccupancy = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "csa_slot_occupancy",
				Help: "Number of concurrency slots currently held, by tool.",
			},
			[]string{"tool"},
		)

		pipelineStageDur = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "csa_pipeline_stage_duration_seconds",
				Help: "Duration of each pipeline orchestrator stage.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms.. ~16s
			},
			[]string{"stage"},
		)

		mcpHubOverhead = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "csa_mcp_hub_proxy_overhead_seconds",
				Help: "Hub-added latency forwarding a request to its owning MCP backend, excluding the backend's own response time.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms.. ~1s
			},
			[]string{"method"},
		)
	})
}

// SlotAcquired increments the slot occupancy gauge for tool.
func SlotAcquired(tool string) {
	Register()
	slotOccupancy.WithLabelValues(tool).Inc()
}

// SlotReleased decrements the slot occupancy gauge for tool.
func SlotReleased(tool string) {
	Register()
	slotOccupancy.WithLabelValues(tool).Dec()
}

// ObservePipelineStage records how long a named pipeline stage took.
func ObservePipelineStage(stage string, seconds float64) {
	Register()
	pipelineStageDur.WithLabelValues(stage).Observe(seconds)
}

// ObserveMCPHubOverhead records the hub's own added latency for a forwarded
// JSON-RPC method, distinct from the backend's processing time.
func ObserveMCPHubOverhead(method string, seconds float64) {
	Register()
	mcpHubOverhead.WithLabelValues(method).Observe(seconds)
}
