// Package metric exposes Prometheus instrumentation for the flow engine.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineMetrics collects counters and timings for message processing.
type EngineMetrics struct {
	registry *prometheus.Registry

	MessagesProcessed *prometheus.CounterVec
	SessionsFinished  prometheus.Counter
	PathResolutions   *prometheus.CounterVec
	ProcessDuration   prometheus.Histogram
}

// NewEngineMetrics creates and registers the engine metric set on a
// dedicated registry.
func NewEngineMetrics() *EngineMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &EngineMetrics{
		registry: registry,
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convoflow_messages_processed_total",
			Help: "Inbound messages processed, labeled by result status.",
		}, []string{"status"}),
		SessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convoflow_sessions_finished_total",
			Help: "Sessions that reached the FINISHED state.",
		}),
		PathResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convoflow_path_resolutions_total",
			Help: "Next-node resolutions, labeled by outcome.",
		}, []string{"outcome"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "convoflow_process_duration_seconds",
			Help:    "End-to-end message processing latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(m.MessagesProcessed, m.SessionsFinished, m.PathResolutions, m.ProcessDuration)
	return m
}

// Handler returns the HTTP handler serving the metric exposition endpoint.
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
