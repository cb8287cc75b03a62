// Package metrics defines the bridge's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpbridge"

// Chat request outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every instrument. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	chatRequests    *prometheus.CounterVec
	chatRounds      *prometheus.HistogramVec
	roundLimitHits  prometheus.Counter
	backendDuration *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the instruments on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests handled, by mode and outcome.",
		}, []string{"mode", "status"}),

		chatRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_rounds",
			Help:      "Backend rounds needed to answer one chat request.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
		}, []string{"mode"}),

		roundLimitHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_round_limit_reached_total",
			Help:      "Chat requests that still asked for tools when the round limit was reached.",
		}),

		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Time until the backend answered a chat round (headers for streams).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),

		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by catalog name and outcome.",
		}, []string{"tool", "status"}),

		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route, method and status code.",
		}, []string{"route", "method", "code"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"route", "method", "code"}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Instrument wraps h with request counting and latency under route.
func (m *Metrics) Instrument(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerCounter(m.httpRequests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.httpDuration.MustCurryWith(labels), h))
}

// ChatDone records a finished chat request.
func (m *Metrics) ChatDone(mode string, rounds int, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.chatRequests.WithLabelValues(mode, status).Inc()
	if rounds > 0 {
		m.chatRounds.WithLabelValues(mode).Observe(float64(rounds))
	}
}

// RoundLimitReached counts a request cut off by the round limit.
func (m *Metrics) RoundLimitReached() {
	if m == nil {
		return
	}
	m.roundLimitHits.Inc()
}

// BackendRound records how long the backend took to answer a round.
func (m *Metrics) BackendRound(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}
