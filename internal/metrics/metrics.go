// Package metrics exposes Prometheus instrumentation for the job pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline instruments. A nil *Metrics is a valid no-op
// receiver so callers never need to guard instrumentation sites.
type Metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	verdictsTotal    *prometheus.CounterVec
	differencesTotal prometheus.Counter
	storeErrors      prometheus.Counter
	activeWorkers    prometheus.Gauge
	jobDuration      prometheus.Histogram
	classifyDuration prometheus.Histogram
}

// New creates and registers the pipeline metrics on a fresh registry.
func New() *Metrics {
	return NewWith(prometheus.NewRegistry())
}

// NewWith creates the pipeline metrics and registers them on reg.
func NewWith(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_jobs_total",
			Help: "Jobs reaching a terminal status, by status.",
		}, []string{"status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_job_failures_total",
			Help: "Failed jobs by failure kind.",
		}, []string{"kind"}),
		verdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_verdicts_total",
			Help: "Classification verdicts by exit code.",
		}, []string{"exit_code"}),
		differencesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_differences_total",
			Help: "Individual differences recorded across all verdicts.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_store_errors_total",
			Help: "Persistence errors observed by the pipeline.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aurora_active_workers",
			Help: "Workers currently running a job pipeline.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurora_job_duration_seconds",
			Help:    "Wall time from submission to a terminal job status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		classifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurora_classify_duration_seconds",
			Help:    "Wall time spent classifying output against the reference.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(m.jobsTotal, m.failuresTotal, m.verdictsTotal,
		m.differencesTotal, m.storeErrors, m.activeWorkers,
		m.jobDuration, m.classifyDuration)
	m.registry = reg
	return m
}

// JobFinished records a terminal job status.
func (m *Metrics) JobFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(seconds)
}

// JobFailed records the failure kind of a failed job.
func (m *Metrics) JobFailed(kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(kind).Inc()
}

// VerdictRecorded records a classification outcome.
func (m *Metrics) VerdictRecorded(exitCode string, differences int, seconds float64) {
	if m == nil {
		return
	}
	m.verdictsTotal.WithLabelValues(exitCode).Inc()
	m.differencesTotal.Add(float64(differences))
	m.classifyDuration.Observe(seconds)
}

// StoreError counts one persistence error.
func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

// WorkerStarted marks one worker busy.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

// WorkerDone marks one worker idle again.
func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// Handler returns the scrape handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
