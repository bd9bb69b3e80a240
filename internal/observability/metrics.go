package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the chart/trigger surface.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Calls to geocoder, station directory, hourly observations and alert webhook.
	// Watch for: error vs success ratio per service.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 growth on "hourly" (gap-fill batches get long).
	UpstreamDuration *prometheus.HistogramVec

	// Upstream failures by stable category (see client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Retry attempts on upstream calls. High values = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Postal code -> station ID cache outcomes.
	StationCacheHitsTotal   prometheus.Counter
	StationCacheMissesTotal prometheus.Counter

	// Cache backend errors by operation.
	CacheErrorsTotal *prometheus.CounterVec

	// Station cache warming runs, failed runs and duration.
	StationWarmingTotal           prometheus.Counter
	StationWarmingErrorsTotal     prometheus.Counter
	StationWarmingDurationSeconds prometheus.Histogram

	// Enrichment outcomes per requested timestamp: served from the reading store,
	// fetched live (gap), or accepted as absent because it is outside the recent window.
	ReadingStoreHitsTotal          prometheus.Counter
	ReadingStoreGapsTotal          prometheus.Counter
	ReadingStoreExpiredMissesTotal prometheus.Counter

	// Gap fetches that produced no value (soft absent).
	HourlyFetchAbsentTotal prometheus.Counter

	// Readings appended to the reading store.
	ReadingStoreAppendedTotal prometheus.Counter

	// Scheduled/manual runs by outcome (success, partial, failed).
	RunsTotal *prometheus.CounterVec

	// Wall time of a full run across all sources.
	RunDurationSeconds prometheus.Histogram

	// Per-source update outcome. Watch for: one source failing repeatedly.
	SourceUpdatesTotal *prometheus.CounterVec

	// Freshness alerts sent per source.
	FreshnessAlertsTotal *prometheus.CounterVec

	// Circuit breaker state per component (0=closed, 1=half_open, 2=open).
	CircuitBreakerState *prometheus.GaugeVec

	// Rate limit denials on POST /runs.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of calls to external services",
		},
		[]string{"service", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "External service latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "External service failures by category",
		},
		[]string{"service", "category"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for external service calls",
		},
		[]string{"service"},
	)
	StationCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationCacheHitsTotal",
			Help: "Postal code to station lookups served from cache",
		},
	)
	StationCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationCacheMissesTotal",
			Help: "Postal code to station lookups that required geocoding",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Station cache backend errors",
		},
		[]string{"operation"},
	)
	ReadingStoreHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "readingStoreHitsTotal",
			Help: "Requested hours served from the persistent reading store",
		},
	)
	ReadingStoreGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "readingStoreGapsTotal",
			Help: "Requested hours missing from the store inside the recent window (fetched live)",
		},
	)
	ReadingStoreExpiredMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "readingStoreExpiredMissesTotal",
			Help: "Requested hours missing from the store and older than the recent window (left absent)",
		},
	)
	HourlyFetchAbsentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hourlyFetchAbsentTotal",
			Help: "Live hourly fetches that returned no temperature",
		},
	)
	ReadingStoreAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "readingStoreAppendedTotal",
			Help: "Readings appended to the persistent reading store",
		},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runsTotal",
			Help: "Update runs by outcome",
		},
		[]string{"status"},
	)
	RunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runDurationSeconds",
			Help:    "Update run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	SourceUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourceUpdatesTotal",
			Help: "Per-source update outcomes",
		},
		[]string{"source", "status"},
	)
	FreshnessAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshnessAlertsTotal",
			Help: "Stale-data alerts sent per source",
		},
		[]string{"source"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"component"},
	)
	StationWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationWarmingTotal",
			Help: "Total number of station cache warming runs",
		},
	)
	StationWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationWarmingErrorsTotal",
			Help: "Total number of station cache warming runs with at least one failure",
		},
	)
	StationWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stationWarmingDurationSeconds",
			Help:    "Duration of station cache warming runs",
			Buckets: prometheus.DefBuckets,
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal, UpstreamRetriesTotal,
		StationCacheHitsTotal, StationCacheMissesTotal, CacheErrorsTotal,
		StationWarmingTotal, StationWarmingErrorsTotal, StationWarmingDurationSeconds,
		ReadingStoreHitsTotal, ReadingStoreGapsTotal, ReadingStoreExpiredMissesTotal,
		HourlyFetchAbsentTotal, ReadingStoreAppendedTotal,
		RunsTotal, RunDurationSeconds, SourceUpdatesTotal, FreshnessAlertsTotal,
		CircuitBreakerState, RateLimitDeniedTotal,
	)
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open", "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
