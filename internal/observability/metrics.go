// Package observability owns the Prometheus registry and the metrics the
// chat pipeline reports.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection stages.
const (
	StageOrigin     = "origin"
	StageRateLimit  = "rate_limit"
	StageAuth       = "auth"
	StageValidation = "validation"
	StageModel      = "model"
)

// Metrics groups the gateway's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	chatRequests      *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	timeToFirstToken  prometheus.Histogram
	streamDuration    *prometheus.HistogramVec
	activeStreams     prometheus.Gauge
	toolCalls         *prometheus.CounterVec
	clientDisconnects prometheus.Counter
	promptTokens      prometheus.Histogram
}

// NewMetrics creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "socratic_chat_requests_total",
			Help: "Chat requests by final HTTP status",
		}, []string{"status"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "socratic_chat_rejections_total",
			Help: "Chat requests rejected before streaming, by pipeline stage",
		}, []string{"stage"}),
		timeToFirstToken: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "socratic_stream_time_to_first_token_seconds",
			Help:    "Time from stream start to the first text delta",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		streamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socratic_stream_duration_seconds",
			Help:    "Total streaming duration by outcome",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"status"}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "socratic_stream_active",
			Help: "Streams currently in flight",
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "socratic_tool_calls_total",
			Help: "Tool executions by tool and outcome",
		}, []string{"tool", "status"}),
		clientDisconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "socratic_client_disconnects_total",
			Help: "Streams cancelled because the client went away",
		}),
		promptTokens: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "socratic_prompt_tokens_estimate",
			Help:    "Estimated prompt tokens per provider call",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		}),
	}
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGaugeFunc exposes a value computed at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// The methods below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveRequest(status string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRejection(stage string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveTimeToFirstToken(seconds float64) {
	if m == nil {
		return
	}
	m.timeToFirstToken.Observe(seconds)
}

func (m *Metrics) ObserveStream(status string, seconds float64) {
	if m == nil {
		return
	}
	m.streamDuration.WithLabelValues(status).Observe(seconds)
}

// StreamStarted increments the active stream gauge and returns the matching
// decrement.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

func (m *Metrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) ObserveClientDisconnect() {
	if m == nil {
		return
	}
	m.clientDisconnects.Inc()
}

func (m *Metrics) ObservePromptTokens(n int) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(n))
}
