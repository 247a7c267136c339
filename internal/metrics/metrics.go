// Package metrics provides the Prometheus instrumentation contract for the
// EventFlow pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Histogram buckets for event processing latency (seconds).
var processingBuckets = []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0}

// Histogram buckets for queue wait time (seconds).
var queueWaitBuckets = []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0}

// Metrics holds every collector the pipeline emits. All collectors are
// registered on a private registry so tests can create isolated instances
// without tripping duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived     *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
	EventsFailed       *prometheus.CounterVec
	EventsDuplicate    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	QueueWaitTime      prometheus.Histogram
	QueueDepth         prometheus.Gauge
	PendingMessages    prometheus.Gauge
	ActiveWorkers      prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_received_total",
			Help: "Total number of events received",
		}, []string{"kind"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Total number of events processed successfully",
		}, []string{"kind"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_failed_total",
			Help: "Total number of events that failed processing",
		}, []string{"kind", "reason"}),
		EventsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_duplicate_total",
			Help: "Total number of duplicate events detected",
		}, []string{"kind"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_processing_duration_seconds",
			Help:    "Time spent processing events",
			Buckets: processingBuckets,
		}, []string{"kind"}),
		QueueWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "event_queue_wait_time_seconds",
			Help:    "Time events spend in queue before processing",
			Buckets: queueWaitBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of events in queue",
		}),
		PendingMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pending_messages",
			Help: "Entries delivered to a consumer but not yet acknowledged",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Number of active worker processes",
		}),
	}

	registry.MustRegister(
		m.EventsReceived,
		m.EventsProcessed,
		m.EventsFailed,
		m.EventsDuplicate,
		m.ProcessingDuration,
		m.QueueWaitTime,
		m.QueueDepth,
		m.PendingMessages,
		m.ActiveWorkers,
	)

	return m
}

// Registry exposes the underlying registry for the metrics HTTP endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
