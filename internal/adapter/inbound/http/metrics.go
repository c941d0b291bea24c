package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aigate"

// Metrics holds all Prometheus metrics for the gateway. It satisfies the
// service.ToolMetrics and service.RouterMetrics observers.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	RouterDecisions  *prometheus.CounterVec
	AuditDropsTotal  prometheus.Counter
	ToolsGenerated   prometheus.Gauge
	RateLimited      *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route", "method"},
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls by operation and outcome",
			},
			[]string{"operation", "outcome", "dry_run"},
		),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RouterDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "router_decisions_total",
				Help:      "Model router decisions by tier and reason tag",
			},
			[]string{"tier", "reason"},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		ToolsGenerated: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tools_generated",
				Help:      "Number of tools in the most recently generated tool set",
			},
		),
		RateLimited: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-user rate limit",
			},
			[]string{"scope"},
		),
	}
}

// ObserveToolCall records one executed tool call. The tool name is not a
// label; resource ids are unbounded.
func (m *Metrics) ObserveToolCall(_, operation, outcome string, dryRun bool, d time.Duration) {
	dr := "false"
	if dryRun {
		dr = "true"
	}
	m.ToolCallsTotal.WithLabelValues(operation, outcome, dr).Inc()
	m.ToolCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveRouterDecision records one routing decision.
func (m *Metrics) ObserveRouterDecision(tier, reason string) {
	m.RouterDecisions.WithLabelValues(tier, reason).Inc()
}

// AuditDropped counts one dropped audit record.
func (m *Metrics) AuditDropped() {
	m.AuditDropsTotal.Inc()
}
