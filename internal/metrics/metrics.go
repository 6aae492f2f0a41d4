// Package metrics provides Prometheus metrics for the tracker.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query results reported on BlockLocationQueries.
const (
	ResultInService    = "in_service"
	ResultNotInService = "not_in_service"
	ResultError        = "error"
)

// Metrics holds every collector the tracker exports. All recording methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tracker metrics
	RecordsIngested      *prometheus.CounterVec
	RecordsRejected      *prometheus.CounterVec
	RecordCacheKeys      prometheus.Gauge
	RecordsEvicted       prometheus.Counter
	BlockLocationQueries *prometheus.CounterVec
	PredictionDuration   prometheus.Histogram
	FeedFetchErrors      *prometheus.CounterVec

	// Assignment database pool
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics on a private registry. The logger reports
// collector failures.
func NewWithLogger(logger *slog.Logger) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_records_ingested_total",
			Help: "Vehicle location records accepted, by ingest source",
		}, []string{"source"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_records_rejected_total",
			Help: "Vehicle reports that could not be turned into records, by ingest source",
		}, []string{"source"}),
		RecordCacheKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_record_cache_keys",
			Help: "Number of vehicle/block keys held in the record cache",
		}),
		RecordsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_records_evicted_total",
			Help: "Records dropped from the cache by the retention window",
		}),
		BlockLocationQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_block_location_queries_total",
			Help: "Block location queries, by result",
		}, []string{"result"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_prediction_duration_seconds",
			Help:    "Time spent applying realtime data to a batch of stop times",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		FeedFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_feed_fetch_errors_total",
			Help: "Failed realtime feed fetches, by feed",
		}, []string{"feed"}),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_db_connections_open",
			Help: "Number of open assignment database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_db_connections_in_use",
			Help: "Number of assignment database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_db_connections_idle",
			Help: "Number of idle assignment database connections",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_db_wait_seconds_total",
			Help: "Total time blocked waiting for an assignment database connection",
		}),
		logger: logger,
	}

	m.Registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecordsIngested,
		m.RecordsRejected,
		m.RecordCacheKeys,
		m.RecordsEvicted,
		m.BlockLocationQueries,
		m.PredictionDuration,
		m.FeedFetchErrors,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitSecondsTotal,
	)

	return m
}

func (m *Metrics) ObserveIngested(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsIngested.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ObserveRejected(source string) {
	if m == nil {
		return
	}
	m.RecordsRejected.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsEvicted.Add(float64(n))
}

func (m *Metrics) SetCacheKeys(n int) {
	if m == nil {
		return
	}
	m.RecordCacheKeys.Set(float64(n))
}

func (m *Metrics) ObserveQuery(result string) {
	if m == nil {
		return
	}
	m.BlockLocationQueries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePrediction(d time.Duration) {
	if m == nil {
		return
	}
	m.PredictionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveFeedError(feed string) {
	if m == nil {
		return
	}
	m.FeedFetchErrors.WithLabelValues(feed).Inc()
}

// StartDBStatsCollector polls db's pool statistics every interval until
// Shutdown. Only the first call starts a collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil && m.logger != nil {
				m.logger.Error("panic in DB stats collector", "error", r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastWait time.Duration
		for {
			select {
			case <-ticker.C:
				lastWait = m.collectDBStats(db.Stats(), lastWait)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Metrics) collectDBStats(stats sql.DBStats, lastWait time.Duration) time.Duration {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	if delta := stats.WaitDuration - lastWait; delta > 0 {
		m.DBWaitSecondsTotal.Add(delta.Seconds())
	}
	return stats.WaitDuration
}

// Shutdown stops the DB stats collector and waits for it to exit. It is safe
// to call more than once.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
