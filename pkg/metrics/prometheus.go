// Package metrics provides Prometheus metrics for the feedtrace service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the Prometheus collectors of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingest
	batchesAccepted  prometheus.Counter
	batchesDuplicate prometheus.Counter
	batchesRejected  *prometheus.CounterVec
	eventsIngested   *prometheus.CounterVec
	eventsInvalid    prometheus.Counter
	beaconFlushes    prometheus.Counter
	sessionsOpen     prometheus.Gauge

	// Analytics
	visibilityTransitions *prometheus.CounterVec
	rowsBuilt             prometheus.Counter
	rowBuildLatency       prometheus.Histogram
	summaries             prometheus.Counter
	summaryLatency        prometheus.Histogram
	normalizeIssues       *prometheus.CounterVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Store
	storeWriteLatency *prometheus.HistogramVec
	storeQueryLatency *prometheus.HistogramVec
	storeRows         prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "feedtrace",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.batchesAccepted = m.counter("batches_accepted_total", "Event batches accepted for processing")
	m.batchesDuplicate = m.counter("batches_duplicate_total", "Event batches dropped as already ingested")
	m.batchesRejected = m.counterVec("batches_rejected_total", "Event batches refused", "reason")
	m.eventsIngested = m.counterVec("events_ingested_total", "Events appended to session logs", "action")
	m.eventsInvalid = m.counter("events_invalid_total", "Events dropped by validation")
	m.beaconFlushes = m.counter("beacon_flushes_total", "Page-hide beacon flushes received")
	m.sessionsOpen = m.gauge("sessions_open", "Sessions currently held in memory")

	m.visibilityTransitions = m.counterVec("visibility_transitions_total", "Visibility transitions ingested", "kind")
	m.rowsBuilt = m.counter("rows_built_total", "Participant rows built on submit")
	m.rowBuildLatency = m.histogram("row_build_latency_milliseconds", "Participant row build latency in milliseconds")
	m.summaries = m.counter("summaries_total", "Roster summaries computed")
	m.summaryLatency = m.histogram("summary_latency_milliseconds", "Roster summary latency in milliseconds")
	m.normalizeIssues = m.counterVec("normalize_issues_total", "Recovered roster row problems", "kind")

	m.queueSize = m.gauge("queue_size", "Batches waiting in ingest queues")
	m.queueCapacity = m.gauge("queue_capacity", "Ingest queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Ingest queue utilization (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Batches enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Batches dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Batches that could not be enqueued")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds")

	m.workerCount = m.gauge("worker_count", "Configured worker shards")
	m.workerActiveCount = m.gauge("worker_active_count", "Worker shards currently processing a batch")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Batch processing latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Batches whose processing failed")

	m.storeWriteLatency = m.histogramVec("store_write_latency_milliseconds", "Row store write latency in milliseconds", "driver")
	m.storeQueryLatency = m.histogramVec("store_query_latency_milliseconds", "Row store query latency in milliseconds", "driver")
	m.storeRows = m.gauge("store_rows", "Participant rows known to the row store")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Ingest.

// RecordBatchAccepted counts a batch accepted for processing.
func RecordBatchAccepted() { globalManager.batchesAccepted.Inc() }

// RecordBatchDuplicate counts a batch dropped by the deduper.
func RecordBatchDuplicate() { globalManager.batchesDuplicate.Inc() }

// RecordBatchRejected counts a refused batch.
func RecordBatchRejected(reason string) {
	globalManager.batchesRejected.WithLabelValues(reason).Inc()
}

// RecordEventIngested counts an event appended to a session log.
func RecordEventIngested(action string) {
	globalManager.eventsIngested.WithLabelValues(action).Inc()
}

// RecordEventInvalid counts an event dropped by validation.
func RecordEventInvalid() { globalManager.eventsInvalid.Inc() }

// RecordBeaconFlush counts a page-hide flush.
func RecordBeaconFlush() { globalManager.beaconFlushes.Inc() }

// UpdateSessionsOpen sets the number of in-memory sessions.
func UpdateSessionsOpen(n int) { globalManager.sessionsOpen.Set(float64(n)) }

// Analytics.

// RecordVisibilityTransition counts an enter, exit or synthetic_exit.
func RecordVisibilityTransition(kind string) {
	globalManager.visibilityTransitions.WithLabelValues(kind).Inc()
}

// RecordRowBuilt counts a participant row and its build latency.
func RecordRowBuilt(latencyMs float64) {
	globalManager.rowsBuilt.Inc()
	globalManager.rowBuildLatency.Observe(latencyMs)
}

// RecordSummary counts a roster summary and its latency.
func RecordSummary(latencyMs float64) {
	globalManager.summaries.Inc()
	globalManager.summaryLatency.Observe(latencyMs)
}

// RecordNormalizeIssues adds recovered row problems of one kind.
func RecordNormalizeIssues(kind string, n int) {
	if n > 0 {
		globalManager.normalizeIssues.WithLabelValues(kind).Add(float64(n))
	}
}

// Queue.

// UpdateQueueSize sets the number of queued batches.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue counts an enqueued batch.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeued batch.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a batch that could not be enqueued.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker.

// UpdateWorkerCount sets the number of worker shards.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of busy shards.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records how long a batch took.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed batch.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// Store.

// RecordStoreWrite records a row store write.
func RecordStoreWrite(driver string, latencyMs float64) {
	globalManager.storeWriteLatency.WithLabelValues(driver).Observe(latencyMs)
}

// RecordStoreQuery records a row store read.
func RecordStoreQuery(driver string, latencyMs float64) {
	globalManager.storeQueryLatency.WithLabelValues(driver).Observe(latencyMs)
}

// UpdateStoreRows sets the number of stored rows.
func UpdateStoreRows(n int) { globalManager.storeRows.Set(float64(n)) }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records a GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
