// Package metrics registers the gateway's Prometheus instruments, scraped
// via promhttp.Handler() on C8's /metrics route (SPEC_FULL.md ambient A2).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VendorCallDuration records C5 adapter call latency, labeled by provider
// and outcome ("ok"/"error").
var VendorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nexusgw",
	Subsystem: "vendor",
	Name:      "call_duration_seconds",
	Help:      "Latency of outbound vendor LLM calls.",
	Buckets:   prometheus.DefBuckets,
}, []string{"provider", "outcome"})

// ToolExecutionDuration records C6 tool-backend call latency, labeled by
// tool name and outcome.
var ToolExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nexusgw",
	Subsystem: "tool",
	Name:      "execution_duration_seconds",
	Help:      "Latency of banking tool backend calls.",
	Buckets:   prometheus.DefBuckets,
}, []string{"tool", "outcome"})

// ToolDeniedTotal counts C7 permission-gate denials, labeled by tool name.
var ToolDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexusgw",
	Subsystem: "tool",
	Name:      "denied_total",
	Help:      "Tool calls denied by the ABAC permission gate.",
}, []string{"tool"})

// LoopIterationsTotal counts every pass of C7's bounded tool-calling loop.
var LoopIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "nexusgw",
	Subsystem: "orchestrator",
	Name:      "loop_iterations_total",
	Help:      "Tool-calling loop iterations across all requests.",
})

// ObserveVendorCall records the elapsed time of a vendor adapter call.
func ObserveVendorCall(provider string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	VendorCallDuration.WithLabelValues(provider, outcome).Observe(time.Since(started).Seconds())
}

// ObserveToolExecution records the elapsed time of a single tool call.
func ObserveToolExecution(tool string, started time.Time, isError bool) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	ToolExecutionDuration.WithLabelValues(tool, outcome).Observe(time.Since(started).Seconds())
}
