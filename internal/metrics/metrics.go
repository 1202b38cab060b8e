// Package metrics provides Prometheus metrics for sutcontext
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sutcontext"

// Metrics holds all Prometheus metrics for sutcontext.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Embedding cache metrics
	CacheLookupsTotal       *prometheus.CounterVec
	CacheWriteFailuresTotal prometheus.Counter

	// Embedding provider metrics
	EmbeddingRequestsTotal   *prometheus.CounterVec
	EmbeddingRequestDuration *prometheus.HistogramVec

	// Retrieval metrics
	RetrievalsTotal     *prometheus.CounterVec
	RetrievalStageTime  *prometheus.HistogramVec
	RetrievedChunksKind *prometheus.CounterVec

	// Index metrics
	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration prometheus.Histogram
	IndexRecords       prometheus.Gauge
	IndexTerms         prometheus.Gauge

	// MCP tool metrics
	ToolCallsTotal *prometheus.CounterVec
}

// New creates all metrics on a fresh registry, together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.CacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by result (memory_hit, disk_hit, miss)",
		},
		[]string{"result"},
	)

	m.CacheWriteFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_write_failures_total",
			Help:      "Embedding cache entries that could not be persisted",
		},
	)

	m.EmbeddingRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Calls to the embedding provider",
		},
		[]string{"provider", "status"},
	)

	m.EmbeddingRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Duration of embedding provider calls in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	m.RetrievalsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Hybrid retrievals by status",
		},
		[]string{"status"},
	)

	m.RetrievalStageTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Duration of retrieval stages in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"stage"},
	)

	m.RetrievedChunksKind = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks_total",
			Help:      "Returned chunks by match kind",
		},
		[]string{"match_kind"},
	)

	m.IndexBuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index builds by status",
		},
		[]string{"status"},
	)

	m.IndexBuildDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Duration of full index builds in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	m.IndexRecords = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_records",
			Help:      "Records in the published index",
		},
	)

	m.IndexTerms = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_terms",
			Help:      "Distinct active-ingredient terms in the published index",
		},
	)

	m.ToolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordCacheLookup records an embedding cache lookup outcome.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheWriteFailure counts a cache entry that could not be persisted.
func (m *Metrics) RecordCacheWriteFailure() {
	if m == nil {
		return
	}
	m.CacheWriteFailuresTotal.Inc()
}

// RecordEmbedding records a provider call.
func (m *Metrics) RecordEmbedding(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbeddingRequestsTotal.WithLabelValues(provider, status(err)).Inc()
	m.EmbeddingRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetrieval records a retrieval and the duration of each of its stages.
func (m *Metrics) RecordRetrieval(stages map[string]time.Duration, err error) {
	if m == nil {
		return
	}
	m.RetrievalsTotal.WithLabelValues(status(err)).Inc()
	for stage, d := range stages {
		m.RetrievalStageTime.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordMatch counts a returned chunk by match kind.
func (m *Metrics) RecordMatch(kind string) {
	if m == nil {
		return
	}
	m.RetrievedChunksKind.WithLabelValues(kind).Inc()
}

// RecordIndexBuild records a full index build.
func (m *Metrics) RecordIndexBuild(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.IndexBuildsTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.IndexBuildDuration.Observe(duration.Seconds())
	}
}

// UpdateIndexStats sets the published index gauges.
func (m *Metrics) UpdateIndexStats(records, terms int) {
	if m == nil {
		return
	}
	m.IndexRecords.Set(float64(records))
	m.IndexTerms.Set(float64(terms))
}

// RecordToolCall records an MCP tool invocation.
func (m *Metrics) RecordToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status(err)).Inc()
}
