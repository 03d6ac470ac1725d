// Package metrics exports ingestion and search metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kioku"

// Search modes.
const (
	ModeHybrid   = "hybrid"
	ModeDegraded = "degraded"
	ModeEmpty    = "empty"
)

// Ingestion item outcomes.
const (
	OutcomeEmbedded = "embedded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Collector holds the application's metrics on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	searches      *prometheus.CounterVec
	searchLatency *prometheus.HistogramVec
	searchResults prometheus.Histogram

	ingestItems    *prometheus.CounterVec
	ingestRuns     *prometheus.CounterVec
	ingestProgress prometheus.Gauge
	ingestRunning  prometheus.Gauge
}

// New creates a Collector with its own registry, including Go runtime and process collectors.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Total number of search queries by scoring mode",
		},
		[]string{"mode"},
	)
	c.searchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Search latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)
	c.searchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)
	c.ingestItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Total number of source items processed by outcome",
		},
		[]string{"outcome"},
	)
	c.ingestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by status",
		},
		[]string{"status"},
	)
	c.ingestProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "progress_ratio",
			Help:      "Fraction of the current or last ingestion run that is complete",
		},
	)
	c.ingestRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "running",
			Help:      "1 while an ingestion run is in progress",
		},
	)

	c.registry.MustRegister(
		c.searches,
		c.searchLatency,
		c.searchResults,
		c.ingestItems,
		c.ingestRuns,
		c.ingestProgress,
		c.ingestRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one search.
func (c *Collector) ObserveSearch(mode string, d time.Duration, results int) {
	if c == nil {
		return
	}
	c.searches.WithLabelValues(mode).Inc()
	c.searchLatency.WithLabelValues(mode).Observe(d.Seconds())
	c.searchResults.Observe(float64(results))
}

// IngestItem records the outcome of one source item.
func (c *Collector) IngestItem(outcome string) {
	if c == nil {
		return
	}
	c.ingestItems.WithLabelValues(outcome).Inc()
}

// IngestStarted marks a run as in progress.
func (c *Collector) IngestStarted() {
	if c == nil {
		return
	}
	c.ingestRunning.Set(1)
	c.ingestProgress.Set(0)
}

// IngestProgress records the completed fraction of the current run.
func (c *Collector) IngestProgress(fraction float64) {
	if c == nil {
		return
	}
	c.ingestProgress.Set(fraction)
}

// IngestFinished records the end of a run; status is "ok", "aborted" or "error".
func (c *Collector) IngestFinished(status string) {
	if c == nil {
		return
	}
	c.ingestRunning.Set(0)
	c.ingestRuns.WithLabelValues(status).Inc()
}
