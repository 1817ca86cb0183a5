// Package metrics provides Prometheus instrumentation for the split-save service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsave",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "splitsave",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Engine metrics ---

	// EngineOperationsTotal counts engine operations by outcome.
	EngineOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsave",
			Name:      "engine_operations_total",
			Help:      "Total behavioral engine operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// EngineOperationDuration observes engine operation latency.
	EngineOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "splitsave",
			Name:      "engine_operation_duration_seconds",
			Help:      "Behavioral engine operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// EngineStageFailuresTotal counts failures by the stage they happened in.
	EngineStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsave",
			Name:      "engine_stage_failures_total",
			Help:      "Total behavioral engine failures by operation and stage.",
		},
		[]string{"operation", "stage"},
	)

	// RecommendationsEmittedTotal counts recommendations returned, by category.
	RecommendationsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsave",
			Name:      "engine_recommendations_emitted_total",
			Help:      "Total recommendations emitted by category.",
		},
		[]string{"category"},
	)

	// IncidentsLearnedTotal counts under-saving incidents folded into profiles.
	IncidentsLearnedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "splitsave",
		Name:      "engine_incidents_learned_total",
		Help:      "Total under-saving incidents learned.",
	})

	// ProfilesRefreshedTotal counts scheduled profile refreshes by result.
	ProfilesRefreshedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsave",
			Name:      "engine_profiles_refreshed_total",
			Help:      "Total scheduled profile refreshes by result.",
		},
		[]string{"result"},
	)

	// TrackedUsers is the number of users seen by the last refresh run.
	TrackedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave",
		Name:      "tracked_users",
		Help:      "Number of users with recorded financial events at the last refresh.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "splitsave", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EngineOperationsTotal,
		EngineOperationDuration,
		EngineStageFailuresTotal,
		RecommendationsEmittedTotal,
		IncidentsLearnedTotal,
		ProfilesRefreshedTotal,
		TrackedUsers,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
