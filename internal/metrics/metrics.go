// Package metrics provides Prometheus metrics for the snapshot pipelines
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/takak2166/notionsnap/internal/notion"
	"github.com/takak2166/notionsnap/internal/storage"
)

// Metrics holds all Prometheus metrics for notionsnap
type Metrics struct {
	registry *prometheus.Registry

	// Notion API metrics
	NotionRequestsTotal   *prometheus.CounterVec
	NotionRequestDuration *prometheus.HistogramVec

	// Job metrics
	JobsTotal    *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobsInFlight *prometheus.GaugeVec
	QueueDepth   *prometheus.GaugeVec

	// Pipeline metrics
	ReplicationsTotal *prometheus.CounterVec
	SnapshotItems     prometheus.Histogram
	RestoreItemsTotal *prometheus.CounterVec
	EmbeddingsTotal   prometheus.Counter
}

// New creates every metric on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.NotionRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionsnap_notion_requests_total",
			Help: "Total number of Notion API calls",
		},
		[]string{"operation", "status"},
	)

	m.NotionRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionsnap_notion_request_duration_seconds",
			Help:    "Duration of Notion API calls in seconds, queue wait included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	m.JobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionsnap_jobs_total",
			Help: "Total number of processed jobs",
		},
		[]string{"kind", "status"},
	)

	m.JobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionsnap_job_duration_seconds",
			Help:    "Duration of jobs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind"},
	)

	m.JobsInFlight = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notionsnap_jobs_in_flight",
			Help: "Number of jobs currently being processed",
		},
		[]string{"kind"},
	)

	m.QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notionsnap_queue_depth",
			Help: "Jobs waiting or claimed in each queue",
		},
		[]string{"kind"},
	)

	m.ReplicationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionsnap_replications_total",
			Help: "Total number of destination writes",
		},
		[]string{"role", "status"},
	)

	m.SnapshotItems = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notionsnap_snapshot_items",
			Help:    "Number of items captured per snapshot",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
	)

	m.RestoreItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionsnap_restore_items_total",
			Help: "Total number of restored items",
		},
		[]string{"status"},
	)

	m.EmbeddingsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "notionsnap_embeddings_total",
			Help: "Total number of stored embedding vectors",
		},
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NotionObserver records every queued Notion call
func (m *Metrics) NotionObserver() notion.Observer {
	return func(op string, err error, elapsed time.Duration) {
		status := "ok"
		switch {
		case notion.IsRateLimited(err):
			status = "rate_limited"
		case err != nil:
			status = "error"
		}
		m.NotionRequestsTotal.WithLabelValues(op, status).Inc()
		m.NotionRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// ObserveReplication counts the outcome of each destination write
func (m *Metrics) ObserveReplication(results []storage.Result) {
	for _, r := range results {
		role := "secondary"
		if r.Primary {
			role = "primary"
		}
		status := "ok"
		if !r.OK {
			status = "error"
		}
		m.ReplicationsTotal.WithLabelValues(role, status).Inc()
	}
}

// ObserveJob records a finished job
func (m *Metrics) ObserveJob(kind string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobsTotal.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
