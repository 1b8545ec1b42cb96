package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	tickDuration    prometheus.Observer
	occurrences     *prometheus.CounterVec
	remindersSent   prometheus.Counter
	locksSwept      prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
	materializedCount    uint64
	skippedCount         uint64
	conflictedCount      uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_tick_duration_seconds",
		Help:    "Duration of routine engine ticks",
		Buckets: prometheus.DefBuckets,
	})

	occurrences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_occurrences_total",
		Help: "Occurrences processed by the routine engine, by outcome",
	}, []string{"outcome"})

	remindersSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_reminders_sent_total",
		Help: "Reminder notifications delivered",
	})

	locksSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_locks_swept_total",
		Help: "Expired occurrence locks removed by the sweeper",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, tickDuration, occurrences, remindersSent, locksSwept, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		tickDuration:    tickDuration,
		occurrences:     occurrences,
		remindersSent:   remindersSent,
		locksSwept:      locksSwept,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveTick records one engine pass.
func (m *MetricsService) ObserveTick(duration time.Duration) {
	if m == nil || m.tickDuration == nil {
		return
	}
	m.tickDuration.Observe(duration.Seconds())
}

// RecordOccurrence counts engine outcomes: "materialized", "skipped" or "conflicted".
func (m *MetricsService) RecordOccurrence(outcome string) {
	if m == nil {
		return
	}
	m.occurrences.WithLabelValues(outcome).Inc()
	switch outcome {
	case "materialized":
		atomic.AddUint64(&m.materializedCount, 1)
	case "skipped":
		atomic.AddUint64(&m.skippedCount, 1)
	case "conflicted":
		atomic.AddUint64(&m.conflictedCount, 1)
	}
}

// RecordReminder counts one delivered reminder.
func (m *MetricsService) RecordReminder() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}

// RecordLocksSwept counts expired locks removed.
func (m *MetricsService) RecordLocksSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.locksSwept.Add(float64(n))
}

// Snapshot returns aggregated metrics suitable for health endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		OccurrencesMaterialized:  atomic.LoadUint64(&m.materializedCount),
		OccurrencesSkipped:       atomic.LoadUint64(&m.skippedCount),
		OccurrencesConflicted:    atomic.LoadUint64(&m.conflictedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
