// Package metrics provides Prometheus metrics for the detection service
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	OutcomeWritten  = "written"
	OutcomeDropped  = "dropped"
	OutcomeDegraded = "degraded"

	OutcomeSaved    = "saved"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics contains Prometheus metrics for detection, history and training operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	objectsTotal      prometheus.Counter
	historyEvents     *prometheus.CounterVec
	trainingFiles     *prometheus.CounterVec
}

// New creates and registers the service metrics on a private registry,
// together with Go runtime and process collectors.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return NewWithRegistry(registry)
}

// NewWithRegistry creates and registers the service metrics on registry
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_requests_total",
			Help: "Total number of API requests by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)

	m.inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detect_inference_duration_seconds",
			Help:    "Time taken by the model to process one image",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"outcome"},
	)

	m.objectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_objects_total",
			Help: "Total number of objects returned by the model",
		},
	)

	m.historyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_events_total",
			Help: "Total number of audit events by type and write outcome",
		},
		[]string{"type", "outcome"}, // outcome: written, dropped, degraded
	)

	m.trainingFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "training_files_total",
			Help: "Total number of training files by outcome",
		},
		[]string{"outcome"}, // outcome: saved, rejected, failed
	)
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.inferenceDuration.Describe(ch)
	m.objectsTotal.Describe(ch)
	m.historyEvents.Describe(ch)
	m.trainingFiles.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.inferenceDuration.Collect(ch)
	m.objectsTotal.Collect(ch)
	m.historyEvents.Collect(ch)
	m.trainingFiles.Collect(ch)
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a finished API request
func (m *Metrics) RecordRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// RecordInference records one model call and, on success, the number of objects found
func (m *Metrics) RecordInference(seconds float64, objects int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.inferenceDuration.WithLabelValues(outcome).Observe(seconds)
	if err == nil && objects > 0 {
		m.objectsTotal.Add(float64(objects))
	}
}

// RecordHistoryEvent counts an audit event write attempt
func (m *Metrics) RecordHistoryEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.historyEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordTrainingFile counts one training upload item
func (m *Metrics) RecordTrainingFile(outcome string) {
	if m == nil {
		return
	}
	m.trainingFiles.WithLabelValues(outcome).Inc()
}
