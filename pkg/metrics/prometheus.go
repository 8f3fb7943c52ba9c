// Package metrics provides Prometheus metrics for the vault service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Drop reasons used with RecordEventDropped.
const (
	ReasonDecrypt    = "decrypt"
	ReasonValidation = "validation"
)

// Manager manages all Prometheus metrics for the vault.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Decryption pipeline
	eventsFetched        prometheus.Counter
	eventsDecrypted      prometheus.Counter
	eventsDropped        *prometheus.CounterVec
	decryptBatchSize     prometheus.Histogram
	decryptBatchLatency  prometheus.Histogram
	secretResolutions    *prometheus.CounterVec
	secretResolutionsDup prometheus.Counter

	// Decryption cache
	cacheLookups      *prometheus.CounterVec
	cacheWrites       prometheus.Counter
	cacheCommits      prometheus.Counter
	cacheCommitErrors prometheus.Counter
	cacheEntries      prometheus.Gauge

	// Statistics
	statsComputations *prometheus.CounterVec
	statsLatency      prometheus.Histogram
	statsLoss         prometheus.Histogram
	statsFieldErrors  *prometheus.CounterVec

	// Ingestion
	eventsIngested     prometheus.Counter
	eventsDuplicate    prometheus.Counter
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram
	workerErrors       prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "vault",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// Collectors still exist so Record* stays safe, but nothing scrapes them.
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

// Configure replaces the global manager with one built from opts on a fresh
// registry. Call it once at startup, before handlers capture GetRegistry.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// RefreshInterval is how often gauge updaters should sample.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// Enabled reports whether the global manager exports its metrics.
func Enabled() bool {
	return globalManager.enabled
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for all metric definitions
	auto := promauto.With(m.registry)

	m.eventsFetched = auto.NewCounter(m.counterOpts("events_fetched_total",
		"Encrypted events read from the store for statistics"))
	m.eventsDecrypted = auto.NewCounter(m.counterOpts("events_decrypted_total",
		"Events whose payload was decrypted successfully"))
	m.eventsDropped = auto.NewCounterVec(m.counterOpts("events_dropped_total",
		"Events dropped from a batch, by reason"), []string{"reason"})
	m.decryptBatchSize = auto.NewHistogram(m.histogramOpts("decrypt_batch_size",
		"Number of events per decryption batch", prometheus.ExponentialBuckets(1, 4, 8)))
	m.decryptBatchLatency = auto.NewHistogram(m.histogramOpts("decrypt_batch_latency_milliseconds",
		"Wall time of a decryption batch in milliseconds", m.histogramBuckets))
	m.secretResolutions = auto.NewCounterVec(m.counterOpts("secret_resolutions_total",
		"Secret resolutions by result"), []string{"result"})
	m.secretResolutionsDup = auto.NewCounter(m.counterOpts("secret_resolutions_shared_total",
		"Secret resolutions served by an in-flight resolution of the same secret"))

	m.cacheLookups = auto.NewCounterVec(m.counterOpts("cache_lookups_total",
		"Decryption cache lookups by result"), []string{"result"})
	m.cacheWrites = auto.NewCounter(m.counterOpts("cache_writes_total",
		"Decryption cache writes"))
	m.cacheCommits = auto.NewCounter(m.counterOpts("cache_commits_total",
		"Decryption cache commits"))
	m.cacheCommitErrors = auto.NewCounter(m.counterOpts("cache_commit_errors_total",
		"Decryption cache commits that failed"))
	m.cacheEntries = auto.NewGauge(m.gaugeOpts("cache_entries",
		"Entries held by the in-memory decryption cache"))

	m.statsComputations = auto.NewCounterVec(m.counterOpts("stats_computations_total",
		"Statistics computations by resolution"), []string{"resolution"})
	m.statsLatency = auto.NewHistogram(m.histogramOpts("stats_latency_milliseconds",
		"Statistics computation latency in milliseconds", m.histogramBuckets))
	m.statsLoss = auto.NewHistogram(m.histogramOpts("stats_loss_ratio",
		"Share of fetched events that could not be attributed", prometheus.LinearBuckets(0, 0.1, 11)))
	m.statsFieldErrors = auto.NewCounterVec(m.counterOpts("stats_field_errors_total",
		"Derived statistics that failed and were left empty"), []string{"field"})

	m.eventsIngested = auto.NewCounter(m.counterOpts("events_ingested_total",
		"Encrypted events persisted by the ingestion workers"))
	m.eventsDuplicate = auto.NewCounter(m.counterOpts("events_duplicate_total",
		"Duplicate events rejected at ingestion"))
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Current size of the ingestion queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Capacity of the ingestion queue"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total",
		"Events rejected by a full or closed ingestion queue"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count",
		"Number of ingestion workers"))
	m.workerLatency = auto.NewHistogram(m.histogramOpts("worker_latency_milliseconds",
		"Time spent persisting one ingested event in milliseconds", m.histogramBuckets))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total",
		"Ingested events that could not be persisted"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"HTTP errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordEventsFetched adds n to the fetched events counter.
func RecordEventsFetched(n int) {
	if n > 0 {
		globalManager.eventsFetched.Add(float64(n))
	}
}

// RecordEventDecrypted increments the decrypted events counter.
func RecordEventDecrypted() {
	globalManager.eventsDecrypted.Inc()
}

// RecordEventDropped increments the dropped counter for reason.
func RecordEventDropped(reason string) {
	globalManager.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordDecryptBatch records the size and latency of a decryption batch.
func RecordDecryptBatch(size int, latencyMs float64) {
	globalManager.decryptBatchSize.Observe(float64(size))
	globalManager.decryptBatchLatency.Observe(latencyMs)
}

// RecordSecretResolution counts a secret resolution by result
// (cache_hit, decrypted, not_found, error).
func RecordSecretResolution(result string) {
	globalManager.secretResolutions.WithLabelValues(result).Inc()
}

// RecordSecretResolutionShared counts a resolution that joined an in-flight one.
func RecordSecretResolutionShared() {
	globalManager.secretResolutionsDup.Inc()
}

// RecordCacheLookup counts a cache lookup as hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite increments the cache write counter.
func RecordCacheWrite() {
	globalManager.cacheWrites.Inc()
}

// RecordCacheCommit counts a commit, failed or not.
func RecordCacheCommit(err error) {
	globalManager.cacheCommits.Inc()
	if err != nil {
		globalManager.cacheCommitErrors.Inc()
	}
}

// UpdateCacheEntries sets the in-memory cache entry gauge.
func UpdateCacheEntries(n int64) {
	globalManager.cacheEntries.Set(float64(n))
}

// RecordStatsComputation records a finished statistics computation.
func RecordStatsComputation(resolution string, latencyMs, loss float64) {
	globalManager.statsComputations.WithLabelValues(resolution).Inc()
	globalManager.statsLatency.Observe(latencyMs)
	globalManager.statsLoss.Observe(loss)
}

// RecordStatsFieldError counts a derived field that could not be computed.
func RecordStatsFieldError(field string) {
	globalManager.statsFieldErrors.WithLabelValues(field).Inc()
}

// RecordEventIngested increments the ingested events counter.
func RecordEventIngested() {
	globalManager.eventsIngested.Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// UpdateQueueSize updates the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity updates the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount updates the worker count gauge.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerLatency records time spent persisting one event.
func RecordWorkerLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint increments the error counter for an endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage updates the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records the average GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
