// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing
// for analysis threads.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casework"

// Metrics holds the collectors the engine records into. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	searchCalls      *prometheus.CounterVec
	categories       *prometheus.CounterVec
	searchIterations prometheus.Histogram
	threads          *prometheus.CounterVec
	activeThreads    prometheus.Gauge
	checkpointWrites *prometheus.CounterVec
}

// NewMetrics creates a Metrics backed by its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Completion calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of completion calls by stage.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"stage"}),
		providerTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"direction"}),
		searchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_calls_total",
			Help:      "Search calls by outcome.",
		}, []string{"outcome"}),
		categories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "categories_completed_total",
			Help:      "Categories that reached the join, by result.",
		}, []string{"result"}),
		searchIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "category_search_iterations",
			Help:      "Search iterations per completed category.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		threads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_finished_total",
			Help:      "Threads reaching a terminal status.",
		}, []string{"status"}),
		activeThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads_active",
			Help:      "Threads currently running in this process.",
		}),
		checkpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes by node.",
		}, []string{"node"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.providerCalls,
		m.providerDuration,
		m.providerTokens,
		m.searchCalls,
		m.categories,
		m.searchIterations,
		m.threads,
		m.activeThreads,
		m.checkpointWrites,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCompletion records one completion call.
func (m *Metrics) ObserveCompletion(stage string, d time.Duration, tokensIn, tokensOut int, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(stage, outcome(err)).Inc()
	m.providerDuration.WithLabelValues(stage).Observe(d.Seconds())
	if tokensIn > 0 {
		m.providerTokens.WithLabelValues("in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		m.providerTokens.WithLabelValues("out").Add(float64(tokensOut))
	}
}

// ObserveSearch records one search call.
func (m *Metrics) ObserveSearch(err error) {
	if m == nil {
		return
	}
	m.searchCalls.WithLabelValues(outcome(err)).Inc()
}

// CategoryCompleted records a category reaching the join.
func (m *Metrics) CategoryCompleted(iterations int, degraded bool) {
	if m == nil {
		return
	}
	result := "ok"
	if degraded {
		result = "degraded"
	}
	m.categories.WithLabelValues(result).Inc()
	if iterations > 0 {
		m.searchIterations.Observe(float64(iterations))
	}
}

// ThreadStarted increments the active run gauge.
func (m *Metrics) ThreadStarted() {
	if m == nil {
		return
	}
	m.activeThreads.Inc()
}

// RunEnded decrements the active run gauge.
func (m *Metrics) RunEnded() {
	if m == nil {
		return
	}
	m.activeThreads.Dec()
}

// ThreadFinished counts a thread reaching status.
func (m *Metrics) ThreadFinished(status string) {
	if m == nil {
		return
	}
	m.threads.WithLabelValues(status).Inc()
}

// CheckpointWritten counts a checkpoint write at node.
func (m *Metrics) CheckpointWritten(node string) {
	if m == nil {
		return
	}
	m.checkpointWrites.WithLabelValues(node).Inc()
}
