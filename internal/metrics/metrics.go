// =============================================================================
// Merchant Analytics - Metrics
// =============================================================================

// Package metrics holds the Prometheus collectors for the pipeline, the CRM
// client and the sync queue. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analytics"

// Metrics is the set of collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	rows         *prometheus.CounterVec
	files        *prometheus.CounterVec
	crmRequests  *prometheus.CounterVec
	syncJobs     *prometheus.CounterVec
	fileDuration prometheus.Histogram
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows processed by the ingestion pipeline.",
		}, []string{"kind", "outcome"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Input files processed, by status.",
		}, []string{"status"}),
		crmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_requests_total",
			Help:      "Requests made to the CRM API.",
		}, []string{"endpoint", "outcome"}),
		syncJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Sync job state transitions.",
		}, []string{"type", "status"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent processing one input file.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(m.rows, m.files, m.crmRequests, m.syncJobs, m.fileDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRows adds n rows with the given kind and outcome ("success",
// "failed").
func (m *Metrics) ObserveRows(kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(kind, outcome).Add(float64(n))
}

// ObserveFile records one processed file.
func (m *Metrics) ObserveFile(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(status).Inc()
	m.fileDuration.Observe(d.Seconds())
}

// ObserveCRMRequest records one CRM request attempt.
func (m *Metrics) ObserveCRMRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.crmRequests.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveSyncJob records a sync job reaching status.
func (m *Metrics) ObserveSyncJob(jobType, status string) {
	if m == nil {
		return
	}
	m.syncJobs.WithLabelValues(jobType, status).Inc()
}
