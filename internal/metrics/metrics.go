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

// CacheOperation identifies the memo cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records memo cache lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records producer runs that populate the cache.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a live entry was reused.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates the producer had to run.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the producer failed.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a producer run.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the produced value was stored.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the producer returned an error.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for API and cache activity. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	cacheReclaimed  *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamestats",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total API requests served, by operation and status.",
	}, []string{"operation", "status_code", "from_cache"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gamestats",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed API requests.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamestats",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Report memo cache operations.",
	}, []string{"cache", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gamestats",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for memo cache operations, producer time included.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"cache", "operation", "result"})

	cacheReclaimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamestats",
		Subsystem: "cache",
		Name:      "reclaimed_total",
		Help:      "Memo cache entries dropped after the garbage collector reclaimed their value.",
	}, []string{"cache"})

	reg.MustRegister(httpRequests, httpLatency, cacheOperations, cacheLatency, cacheReclaimed)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		cacheReclaimed:  cacheReclaimed,
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

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the status and latency of a completed API request.
func (r *Recorder) ObserveRequest(operation string, statusCode int, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	operationLabel := normalizeLabel(operation)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.httpRequests.WithLabelValues(operationLabel, statusLabel, strconv.FormatBool(fromCache)).Inc()
	r.httpLatency.WithLabelValues(operationLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(cache string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(cache), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a producer run.
func (r *Recorder) ObserveCacheStore(cache string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(cache), CacheOperationStore, resultLabel, duration)
}

// ObserveCacheReclaim counts an entry dropped after its value was collected.
func (r *Recorder) ObserveCacheReclaim(cache string) {
	if r == nil {
		return
	}
	r.cacheReclaimed.WithLabelValues(normalizeLabel(cache)).Inc()
}

func (r *Recorder) observeCache(cache string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(cache, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(cache, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
