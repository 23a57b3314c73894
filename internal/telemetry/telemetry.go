// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instruments the server and worker publish.
type Metrics struct {
	registry *prometheus.Registry

	// CasesProcessed counts finished cases by final status.
	CasesProcessed *prometheus.CounterVec

	// StageDuration observes wall time per pipeline stage.
	StageDuration *prometheus.HistogramVec

	// JobsInFlight tracks jobs currently being processed.
	JobsInFlight prometheus.Gauge

	// UploadedFiles counts accepted input files.
	UploadedFiles prometheus.Counter
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CasesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctqa",
			Name:      "cases_processed_total",
			Help:      "Cases that reached a terminal status.",
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ctqa",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctqa",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed by the worker.",
		}),
		UploadedFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ctqa",
			Name:      "uploaded_files_total",
			Help:      "Input files accepted for upload.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// TimeStage starts a stage timer; the returned func records the elapsed
// time when called.
func (m *Metrics) TimeStage(stage string) func() {
	start := time.Now()
	return func() { m.ObserveStage(stage, time.Since(start)) }
}
