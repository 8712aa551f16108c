// Package metrics defines the Prometheus instruments of the service.
//
// All methods are safe on a nil *Metrics so packages can be used without
// metrics wired, as tests do.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "enrolment"

// Metrics holds every instrument.
type Metrics struct {
	// Batch uploads by analysis mode and outcome (ok, client_error, error).
	BatchUploads *prometheus.CounterVec

	BatchDuration *prometheus.HistogramVec

	// Rows written per replace, by role.
	RowsReplaced *prometheus.CounterVec

	// Current generation size per role.
	SnapshotRows *prometheus.GaugeVec

	ReportDuration *prometheus.HistogramVec

	// Report cache lookups by report and result (hit, miss).
	CacheLookups *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec

	HTTPDuration *prometheus.HistogramVec

	// Requests rejected by the per-IP limiter.
	RateLimited prometheus.Counter
}

// New creates all instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BatchUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_uploads_total",
			Help:      "Batch uploads by analysis mode and outcome",
		}, []string{"mode", "outcome"}),

		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_upload_duration_seconds",
			Help:      "Duration of a batch upload from normalization to the last replace",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		RowsReplaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_rows_replaced_total",
			Help:      "Rows written into a snapshot by replace operations",
		}, []string{"role"}),

		SnapshotRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_rows",
			Help:      "Rows in the current generation of each snapshot",
		}, []string{"role"}),

		ReportDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Duration of report computation, cache misses only",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"report"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_lookups_total",
			Help:      "Report cache lookups by report and result",
		}, []string{"report", "result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter",
		}),
	}
}

// ObserveBatch records the outcome and duration of one batch upload.
func (m *Metrics) ObserveBatch(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchUploads.WithLabelValues(mode, outcome).Inc()
	m.BatchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveReplace records a completed replace of role with n rows.
func (m *Metrics) ObserveReplace(role string, n int) {
	if m == nil {
		return
	}
	m.RowsReplaced.WithLabelValues(role).Add(float64(n))
	m.SnapshotRows.WithLabelValues(role).Set(float64(n))
}

// ObserveReport records the computation time of a report.
func (m *Metrics) ObserveReport(report string, d time.Duration) {
	if m != nil {
		m.ReportDuration.WithLabelValues(report).Observe(d.Seconds())
	}
}

// IncrementCacheLookup records a cache hit or miss for report.
func (m *Metrics) IncrementCacheLookup(report string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(report, result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncrementRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) IncrementRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}
