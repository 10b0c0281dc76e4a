// Package metrics exposes ingestion counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	rowsWritten   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	fetchAttempts prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rows_written_total",
			Help: "Rows committed to the store, by persistence stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_stage_duration_seconds",
			Help:    "Wall time of each persistence stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Feed runs by outcome.",
		}, []string{"outcome"}),
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_fetch_attempts_total",
			Help: "Archive download attempts, retries included.",
		}),
	}
	m.registry.MustRegister(
		m.rowsWritten,
		m.stageDuration,
		m.runs,
		m.fetchAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RowsWritten(stage string, n int) {
	m.rowsWritten.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) StageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunFinished counts a run under its outcome, e.g. "success" or
// "partial_write".
func (m *Metrics) RunFinished(outcome string) {
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FetchAttempt() {
	m.fetchAttempts.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
