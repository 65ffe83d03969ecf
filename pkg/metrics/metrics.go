// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deepreport"

// Metrics owns a private registry so tests can create as many instances as
// they like. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	llmRequests     *prometheus.CounterVec
	llmRetries      *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	sandboxQueries  *prometheus.CounterVec
	sandboxDuration prometheus.Histogram
	sections        *prometheus.CounterVec
	reports         *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM completions by agent and outcome.",
		}, []string{"agent", "outcome"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Retried LLM attempts after a transient failure.",
		}, []string{"agent"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Wall time of LLM completions including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),
		sandboxQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_queries_total",
			Help:      "SQL sandbox executions by outcome.",
		}, []string{"outcome"}),
		sandboxDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_query_duration_seconds",
			Help:      "Engine execution time of accepted queries.",
			Buckets:   prometheus.DefBuckets,
		}),
		sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sections_total",
			Help:      "Researched sections by outcome.",
		}, []string{"outcome"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Report generation runs by final status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.llmRequests, m.llmRetries, m.llmDuration,
		m.sandboxQueries, m.sandboxDuration,
		m.sections, m.reports,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLLM records one completed LLM call.
func (m *Metrics) ObserveLLM(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(agent, outcome).Inc()
	m.llmDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// IncLLMRetry counts one retry of a transient LLM failure.
func (m *Metrics) IncLLMRetry(agent string) {
	if m == nil {
		return
	}
	m.llmRetries.WithLabelValues(agent).Inc()
}

// ObserveSandbox records one sandbox execution. d is zero for queries
// rejected before reaching the engine.
func (m *Metrics) ObserveSandbox(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sandboxQueries.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.sandboxDuration.Observe(d.Seconds())
	}
}

// IncSection counts a finished section (completed, degraded, failed).
func (m *Metrics) IncSection(outcome string) {
	if m == nil {
		return
	}
	m.sections.WithLabelValues(outcome).Inc()
}

// IncReport counts a finished report run by final status.
func (m *Metrics) IncReport(status string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(status).Inc()
}
