package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

const metricsNamespace = "pickup"

// Write path labels.
const (
	WritePathProcedure = "procedure"
	WritePathFallback  = "fallback"
	WritePathFailed    = "failed"
)

// Marker lookup results.
const (
	MarkerHit   = "hit"
	MarkerMiss  = "miss"
	MarkerError = "error"
)

// MetricsService owns the process's Prometheus registry and keeps plain counters alongside it
// for the health payload.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	markerLookups   *prometheus.CounterVec
	markerWrites    prometheus.Histogram
	storeQueries    *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	writePaths      *prometheus.CounterVec
	logAppendFailed prometheus.Counter
	feedEvents      *prometheus.CounterVec
	resyncs         *prometheus.CounterVec
	prepares        *prometheus.CounterVec

	counts struct {
		requests, requestNanos  atomic.Uint64
		markerHits, markerTotal atomic.Uint64
		queries, queryNanos     atomic.Uint64
		transitions             atomic.Uint64
		fallbacks, failedWrites atomic.Uint64
		logFailures             atomic.Uint64
		feedEvents, resyncs     atomic.Uint64
	}
}

// NewMetricsService builds a service with its own registry so tests can create many.
func NewMetricsService() *MetricsService {
	m := &MetricsService{registry: prometheus.NewRegistry()}

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "route", "status"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	m.markerLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "prepare_marker_lookups_total",
		Help: "Prepared-day marker lookups by result",
	}, []string{"result"})
	m.markerWrites = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Name: "prepare_marker_write_seconds",
		Help:    "Latency of prepared-day marker writes",
		Buckets: prometheus.DefBuckets,
	})
	m.storeQueries = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Name: "store_query_duration_seconds",
		Help:    "Roster store round trips by query",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_transitions_total",
		Help: "Accepted roster status transitions",
	}, []string{"status", "direction"})
	m.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_transitions_rejected_total",
		Help: "Roster status transitions rejected before any write",
	}, []string{"code"})
	m.writePaths = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_write_path_total",
		Help: "Outcome of roster status writes by path",
	}, []string{"path"})
	m.logAppendFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_log_append_failures_total",
		Help: "Status log appends that failed on the fallback path",
	})
	m.feedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_feed_events_total",
		Help: "Change feed messages received",
	}, []string{"kind"})
	m.resyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_resyncs_total",
		Help: "Full roster resyncs",
	}, []string{"reason", "result"})
	m.prepares = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "roster_prepare_total",
		Help: "Daily preparation attempts by outcome",
	}, []string{"outcome"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration, m.httpRequests,
		m.markerLookups, m.markerWrites, m.storeQueries,
		m.transitions, m.rejections, m.writePaths, m.logAppendFailed,
		m.feedEvents, m.resyncs, m.prepares,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request. route should be a template, never a raw path.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.counts.requests.Add(1)
	m.counts.requestNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordMarkerLookup counts a prepared-day marker lookup.
func (m *MetricsService) RecordMarkerLookup(result string) {
	if m == nil {
		return
	}
	m.markerLookups.WithLabelValues(result).Inc()
	if result == MarkerError {
		return
	}
	m.counts.markerTotal.Add(1)
	if result == MarkerHit {
		m.counts.markerHits.Add(1)
	}
}

// ObserveMarkerWrite records how long a marker write took.
func (m *MetricsService) ObserveMarkerWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.markerWrites.Observe(duration.Seconds())
}

// ObserveStoreQuery records a roster store round trip.
func (m *MetricsService) ObserveStoreQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.storeQueries.WithLabelValues(label).Observe(duration.Seconds())
	m.counts.queries.Add(1)
	m.counts.queryNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordTransition counts an accepted status change.
func (m *MetricsService) RecordTransition(status models.Status, direction string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status), direction).Inc()
	m.counts.transitions.Add(1)
}

// RecordRejection counts a transition refused by validation.
func (m *MetricsService) RecordRejection(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

// RecordWritePath counts which write path persisted a status change.
func (m *MetricsService) RecordWritePath(path string) {
	if m == nil {
		return
	}
	m.writePaths.WithLabelValues(path).Inc()
	switch path {
	case WritePathFallback:
		m.counts.fallbacks.Add(1)
	case WritePathFailed:
		m.counts.failedWrites.Add(1)
	}
}

// RecordLogAppendFailure counts a best-effort log append that failed.
func (m *MetricsService) RecordLogAppendFailure() {
	if m == nil {
		return
	}
	m.logAppendFailed.Inc()
	m.counts.logFailures.Add(1)
}

// RecordFeedEvent counts a change feed message by kind.
func (m *MetricsService) RecordFeedEvent(kind string) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(kind).Inc()
	m.counts.feedEvents.Add(1)
}

// RecordResync counts a full resync and its outcome.
func (m *MetricsService) RecordResync(reason string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.resyncs.WithLabelValues(reason, result).Inc()
	m.counts.resyncs.Add(1)
}

// RecordPrepare counts a daily preparation attempt.
func (m *MetricsService) RecordPrepare(outcome string) {
	if m == nil {
		return
	}
	m.prepares.WithLabelValues(outcome).Inc()
}

// Snapshot summarises the plain counters for the health endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	c := &m.counts
	return models.SystemMetrics{
		RequestsTotal:            c.requests.Load(),
		AverageRequestDurationMs: averageMillis(c.requestNanos.Load(), c.requests.Load()),
		Transitions:              c.transitions.Load(),
		FallbackWrites:           c.fallbacks.Load(),
		FailedWrites:             c.failedWrites.Load(),
		LogAppendFailures:        c.logFailures.Load(),
		FeedEvents:               c.feedEvents.Load(),
		Resyncs:                  c.resyncs.Load(),
		MarkerHitRatio:           ratio(c.markerHits.Load(), c.markerTotal.Load()),
		StoreQueries:             c.queries.Load(),
		AverageStoreQueryMs:      averageMillis(c.queryNanos.Load(), c.queries.Load()),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func averageMillis(totalNanos, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNanos) / float64(n) / float64(time.Millisecond)
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
