// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for fetch latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Headless renders take seconds, not milliseconds.
var renderBuckets = []float64{.5, 1, 2, 3, 5, 8, 13, 21, 34, 60}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RewriteFailures      prometheus.Counter
	HeaderPolicyFailures prometheus.Counter

	BrowserSessionsActive prometheus.Gauge
	BrowserRenders        *prometheus.CounterVec
	BrowserRenderDuration prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frame_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frame_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frame_proxy_upstream_request_duration_seconds",
			Help:    "Upstream fetch latency in seconds, including the body read.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		RewriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frame_proxy_rewrite_failures_total",
			Help: "Bodies returned unmodified because URL rewriting failed.",
		}),

		HeaderPolicyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frame_proxy_header_policy_failures_total",
			Help: "Responses where at least one header fell back to pass-through.",
		}),

		BrowserSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frame_proxy_browser_sessions_active",
			Help: "Headless browser processes currently alive.",
		}),

		BrowserRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_proxy_browser_renders_total",
			Help: "Headless renders by outcome.",
		}, []string{"outcome"}),

		BrowserRenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frame_proxy_browser_render_duration_seconds",
			Help:    "Headless render latency in seconds, from slot acquisition to teardown.",
			Buckets: renderBuckets,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RewriteFailures,
		m.HeaderPolicyFailures,
		m.BrowserSessionsActive,
		m.BrowserRenders,
		m.BrowserRenderDuration,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/proxy-headless", "/proxy", "/healthz", "/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
