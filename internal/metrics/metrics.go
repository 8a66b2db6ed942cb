// Package metrics registers the Prometheus metrics used by the router.
// Import this package from the server entry point to register all metrics
// before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts routed requests labelled by provider, model, and
	// outcome ("success", "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_requests_total",
			Help: "Total number of requests routed.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end routing latency in seconds,
	// retries included.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrouter_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// CostTotal accumulates estimated spend in USD.
	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_cost_usd_total",
			Help: "Estimated spend in USD.",
		},
		[]string{"provider", "model"},
	)
)

// Routing decisions.
var (
	// SelectionRule counts which model-selection rule fired.
	SelectionRule = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_selection_rule_total",
			Help: "Model selections by precedence rule.",
		},
		[]string{"rule"},
	)

	// RoutingReason counts completed requests by routing reason
	// ("primary", "fallback", "default").
	RoutingReason = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_routing_reason_total",
			Help: "Routed requests by routing reason.",
		},
		[]string{"reason"},
	)

	// DispatchAttempts counts individual upstream calls by provider and
	// outcome ("success", "error").
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_dispatch_attempts_total",
			Help: "Upstream dispatch attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// RoutingFailures counts requests that could not be served, by kind
	// ("no_healthy_provider", "fallback_exhausted", "not_found", "canceled").
	RoutingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_routing_failures_total",
			Help: "Requests that failed routing, by failure kind.",
		},
		[]string{"kind"},
	)
)

// Health and storage.
var (
	// ProviderHealthy is 1 when the last probe of a provider succeeded.
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrouter_provider_healthy",
			Help: "Provider health from the last probe (1=healthy 0=unhealthy).",
		},
		[]string{"provider"},
	)

	// ProbeLatency records the latency of the last probe in seconds.
	ProbeLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrouter_provider_probe_latency_seconds",
			Help: "Latency of the last health probe in seconds.",
		},
		[]string{"provider"},
	)

	// UsageAppendFailures counts usage records that could not be persisted.
	UsageAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrouter_usage_append_failures_total",
			Help: "Usage records dropped because the ledger write failed.",
		},
	)
)

// ForgetProvider drops per-provider gauges for a provider that is no
// longer configured.
func ForgetProvider(name string) {
	ProviderHealthy.DeleteLabelValues(name)
	ProbeLatency.DeleteLabelValues(name)
}
