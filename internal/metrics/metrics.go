// Package metrics defines the Prometheus collectors of the capture service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
)

// Namespace prefixes every metric name.
const Namespace = "finance_capture"

// Metrics groups the collectors.
type Metrics struct {
	extractions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	upstreamRetries    *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	jobs               *prometheus.CounterVec
}

// New creates the collectors and registers them, plus a build-info
// collector, on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(Namespace, "extraction", "total"),
			Help: "Extractions by modality and outcome.",
		}, []string{"modality", "outcome"}),
		extractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prometheus.BuildFQName(Namespace, "extraction", "duration_seconds"),
			Help:    "End-to-end extraction latency, including transcription and retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"modality"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(Namespace, "upstream", "retries_total"),
			Help: "Retried calls to the model provider by operation.",
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(Namespace, "http", "requests_total"),
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prometheus.BuildFQName(Namespace, "http", "request_duration_seconds"),
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(Namespace, "jobs", "total"),
			Help: "Extraction jobs entering each status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			versioncollector.NewCollector(Namespace),
			m.extractions,
			m.extractionDuration,
			m.upstreamRetries,
			m.httpRequests,
			m.httpDuration,
			m.jobs,
		)
	}
	return m
}

// ObserveExtraction records one finished extraction.
func (m *Metrics) ObserveExtraction(modality, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(modality, outcome).Inc()
	m.extractionDuration.WithLabelValues(modality).Observe(d.Seconds())
}

// IncRetry counts a retried upstream call ("transcribe" or "complete").
func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(operation).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncJob counts a job reaching status.
func (m *Metrics) IncJob(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}
