// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors stay nil until Init registers them. Every helper is a no-op
// before that, so the engine can be embedded without metrics.
var (
	pagesDiscoveredTotal       prometheus.Counter
	itemsCompletedTotal        prometheus.Counter
	itemsFailedTotal           *prometheus.CounterVec
	retryAttemptsTotal         prometheus.Counter
	proxyRotationsTotal        prometheus.Counter
	checkpointSavesTotal       prometheus.Counter
	fetchDurationSeconds       *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	pendingItems               prometheus.Gauge
	recordsPublishedTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "turbocrawl_pages_discovered_total",
				Help: "Total number of listing pages fetched and parsed.",
			},
		)

		itemsCompletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "turbocrawl_items_completed_total",
				Help: "Total number of items resolved into records.",
			},
		)

		itemsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turbocrawl_items_failed_total",
				Help: "Total number of items that failed, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		retryAttemptsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "turbocrawl_retry_attempts_total",
				Help: "Total number of fetch attempts made after the first.",
			},
		)

		proxyRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "turbocrawl_proxy_rotations_total",
				Help: "Total number of proxy rotations between attempts.",
			},
		)

		checkpointSavesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "turbocrawl_checkpoint_saves_total",
				Help: "Total number of checkpoint snapshots persisted.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turbocrawl_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by backend.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"backend"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "turbocrawl_active_workers",
				Help: "Number of workers currently resolving an item.",
			},
		)

		pendingItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "turbocrawl_pending_items",
				Help: "Number of discovered items not yet resolved.",
			},
		)

		recordsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turbocrawl_records_published_total",
				Help: "Total number of record events handed to the publisher, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncPageDiscovered counts one successfully discovered page.
func IncPageDiscovered() {
	if pagesDiscoveredTotal != nil {
		pagesDiscoveredTotal.Inc()
	}
}

// IncItemCompleted counts one item resolved into a record.
func IncItemCompleted() {
	if itemsCompletedTotal != nil {
		itemsCompletedTotal.Inc()
	}
}

// IncItemFailed counts one processing failure by kind.
func IncItemFailed(kind string) {
	if itemsFailedTotal != nil {
		itemsFailedTotal.WithLabelValues(kind).Inc()
	}
}

// IncRetryAttempt counts a fetch attempt beyond the first.
func IncRetryAttempt() {
	if retryAttemptsTotal != nil {
		retryAttemptsTotal.Inc()
	}
}

// IncProxyRotation counts one proxy rotation.
func IncProxyRotation() {
	if proxyRotationsTotal != nil {
		proxyRotationsTotal.Inc()
	}
}

// IncCheckpointSave counts one checkpoint write.
func IncCheckpointSave() {
	if checkpointSavesTotal != nil {
		checkpointSavesTotal.Inc()
	}
}

// ObserveFetchDuration records a fetch latency for the given backend.
func ObserveFetchDuration(backend string, d time.Duration) {
	if fetchDurationSeconds != nil {
		fetchDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// SetPendingItems sets the pending items gauge.
func SetPendingItems(n int) {
	if pendingItems != nil {
		pendingItems.Set(float64(n))
	}
}

// IncRecordPublished counts a publish outcome, result "ok" or "error".
func IncRecordPublished(result string) {
	if recordsPublishedTotal != nil {
		recordsPublishedTotal.WithLabelValues(result).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	if httpRequestDurationSeconds != nil {
		httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}
