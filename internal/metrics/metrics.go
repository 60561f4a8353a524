// Package metrics publishes Prometheus metrics for the output cache: page
// request outcomes, entry store operations, tag evictions, and producer
// latency.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the store method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records entry store lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records entry store write attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of an entry store lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup returned a live entry.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no live entry was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of an entry store write.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the write failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for cache engine activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	pageRequests *prometheus.CounterVec
	pageLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	evictedEntries  *prometheus.CounterVec
	producerLatency *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	pageRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagecache",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total page requests served through the output cache engine.",
	}, []string{"route", "status_code", "cache"})

	pageLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagecache",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed page requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "cache"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagecache",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Entry store operations executed by the cache engine.",
	}, []string{"policy", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagecache",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for entry store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"policy", "operation", "result"})

	evictedEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagecache",
		Subsystem: "cache",
		Name:      "evicted_entries_total",
		Help:      "Entries removed by tag eviction.",
	}, []string{"tag"})

	producerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagecache",
		Subsystem: "producer",
		Name:      "duration_seconds",
		Help:      "Latency distribution for route producer invocations on cache misses.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"policy"})

	reg.MustRegister(pageRequests, pageLatency, cacheOperations, cacheLatency, evictedEntries, producerLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		pageRequests:    pageRequests,
		pageLatency:     pageLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		evictedEntries:  evictedEntries,
		producerLatency: producerLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObservePageRequest records the outcome and latency for a completed page
// request. The cache label carries the engine decision (hit, miss,
// revalidated, bypass).
func (r *Recorder) ObservePageRequest(route string, statusCode int, cacheStatus string, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	cacheLabel := normalizeLabel(cacheStatus)
	r.pageRequests.WithLabelValues(routeLabel, statusLabel, cacheLabel).Inc()
	r.pageLatency.WithLabelValues(routeLabel, cacheLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of an entry store lookup.
func (r *Recorder) ObserveCacheLookup(policy string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(policy), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of an entry store write.
func (r *Recorder) ObserveCacheStore(policy string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(policy), CacheOperationStore, resultLabel, duration)
}

// ObserveEviction records a tag eviction and the number of entries it
// removed. Tags form a small, configuration-declared set, so they are safe
// as a label.
func (r *Recorder) ObserveEviction(tag string, removed int) {
	if r == nil || removed < 0 {
		return
	}
	r.evictedEntries.WithLabelValues(normalizeLabel(tag)).Add(float64(removed))
}

// ObserveProducer records the latency of a producer invocation.
func (r *Recorder) ObserveProducer(policy string, duration time.Duration) {
	if r == nil {
		return
	}
	r.producerLatency.WithLabelValues(normalizeLabel(policy)).Observe(duration.Seconds())
}

func (r *Recorder) observeCache(policy string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(policy, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(policy, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
