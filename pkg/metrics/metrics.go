// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeatureRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoenrich_feature_requests_total",
		Help: "Feature service requests by outcome (ok, rate_limited, error)",
	}, []string{"outcome"})
	FeatureRequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoenrich_feature_request_duration_ms",
		Help:    "Feature service request duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	})
	FeaturesFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoenrich_features_fetched_total",
		Help: "Total features returned by the feature service",
	})
	FeatureCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoenrich_feature_cache_hits_total",
		Help: "Total feature cache hits",
	})
	FeatureCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoenrich_feature_cache_misses_total",
		Help: "Total feature cache misses",
	})
	CellsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoenrich_cells_finished_total",
		Help: "Cells reaching a terminal fetch status, by status",
	}, []string{"status"})
	RateLimitWaitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoenrich_rate_limit_waits_total",
		Help: "Backoff waits caused by feature service throttling",
	})
	ActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoenrich_active_indexing_runs",
		Help: "Indexing runs currently dispatching cells",
	})
	EnrichedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoenrich_enrichment_records_total",
		Help: "Records processed by enrichment, by outcome (enriched, unchanged, failed)",
	}, []string{"outcome"})
	MappingErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoenrich_mapping_errors_total",
		Help: "Per-record tag coercion failures",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoenrich_http_requests_total",
		Help: "Operator API requests by route pattern and status code",
	}, []string{"route", "status"})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoenrich_http_request_duration_ms",
		Help:    "Operator API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000, 5000, 30000},
	}, []string{"route"})
	MCPToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoenrich_mcp_tool_calls_total",
		Help: "MCP tool calls by tool and outcome (ok, error)",
	}, []string{"tool", "outcome"})
)

func init() {
	prometheus.MustRegister(FeatureRequestsTotal)
	prometheus.MustRegister(FeatureRequestDurationMs)
	prometheus.MustRegister(FeaturesFetchedTotal)
	prometheus.MustRegister(FeatureCacheHitsTotal)
	prometheus.MustRegister(FeatureCacheMissesTotal)
	prometheus.MustRegister(CellsFinishedTotal)
	prometheus.MustRegister(RateLimitWaitsTotal)
	prometheus.MustRegister(ActiveRuns)
	prometheus.MustRegister(EnrichedRecordsTotal)
	prometheus.MustRegister(MappingErrorsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDurationMs)
	prometheus.MustRegister(MCPToolCallsTotal)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
