// Package metrics exposes Prometheus collectors for the ingestion pipeline.
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

var (
	pagesTotal        *prometheus.CounterVec
	fetchRetriesTotal prometheus.Counter
	recordsTotal      *prometheus.CounterVec
	changeEventsTotal *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	httpDuration      *prometheus.HistogramVec

	once sync.Once
)

// Page outcome labels.
const (
	PageFetched = "fetched"
	PageCached  = "cached"
	PageFailed  = "failed"
)

// Record outcome labels.
const (
	RecordExtracted = "extracted"
	RecordDropped   = "dropped"
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowatch_pages_total",
				Help: "Total pages processed, labeled by outcome (fetched, cached, failed).",
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bowatch_fetch_retries_total",
				Help: "Total transient fetch failures that triggered a backoff retry.",
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowatch_records_total",
				Help: "Total records produced by extraction, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		changeEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowatch_change_events_total",
				Help: "Total change events emitted against the previous snapshot, by kind.",
			},
			[]string{"kind"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bowatch_crawl_queue_depth",
				Help: "Number of pages currently waiting in the crawl queue.",
			},
		)

		httpDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bowatch_http_request_duration_seconds",
				Help:    "HTTP request latency by method, route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for the given outcome.
func ObservePage(outcome string) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one backoff retry.
func ObserveRetry() {
	if fetchRetriesTotal == nil {
		return
	}
	fetchRetriesTotal.Inc()
}

// ObserveRecord increments the record counter for the given outcome.
func ObserveRecord(outcome string) {
	if recordsTotal == nil {
		return
	}
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveChange counts one emitted change event of the given kind.
func ObserveChange(kind string) {
	if changeEventsTotal == nil {
		return
	}
	changeEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest records one handled HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpDuration == nil {
		return
	}
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// SetQueueDepth records the current crawl queue length.
func SetQueueDepth(n int) {
	if queueDepth == nil {
		return
	}
	queueDepth.Set(float64(n))
}
