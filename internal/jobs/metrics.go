package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lastOK     *prometheus.GaugeVec
	violations *prometheus.CounterVec
	open       *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err == nil {
		t.metrics.lastOK.WithLabelValues(t.job).SetToCurrentTime()
	}
	return err
}

// AddIntegrityViolations increments the integrity violation counter for a
// company and violation kind.
func (m *Metrics) AddIntegrityViolations(companyID, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if companyID == "" {
		companyID = "unknown"
	}
	m.violations.WithLabelValues(companyID, kind).Add(float64(count))
}

// SetOpenViolations records how many violations the latest check of a
// company found. Zero clears the alert condition.
func (m *Metrics) SetOpenViolations(companyID string, count int) {
	if m == nil {
		return
	}
	if companyID == "" {
		companyID = "unknown"
	}
	m.open.WithLabelValues(companyID).Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lastOK := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_jobs_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per job.",
	}, []string{"job"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_integrity_violations_total",
		Help: "Ledger integrity violations found by the integrity job, by company and kind.",
	}, []string{"company", "kind"})
	open := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_ledger_integrity_open_violations",
		Help: "Violations found by the latest integrity check of each company.",
	}, []string{"company"})
	registerer.MustRegister(runs, failures, duration, lastOK, violations, open)
	return &Metrics{runs: runs, failures: failures, duration: duration, lastOK: lastOK, violations: violations, open: open}
}
