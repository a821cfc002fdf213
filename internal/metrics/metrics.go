// Package metrics provides Prometheus instrumentation for the marketplace.
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
	// HTTPRequestsTotal counts HTTP requests by method, path pattern, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatswap",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seatswap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OrderTransitionsTotal counts order status transitions by resulting status.
	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatswap",
			Name:      "order_transitions_total",
			Help:      "Total order status transitions by resulting status.",
		},
		[]string{"status"},
	)

	// ProviderCallsTotal counts payment provider calls by provider, call, and result.
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatswap",
			Name:      "provider_calls_total",
			Help:      "Total payment provider calls by provider, call type, and result.",
		},
		[]string{"provider", "call", "result"},
	)

	// HoldsReclaimedTotal counts stale holds released by the reclaimer.
	HoldsReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatswap",
			Name:      "holds_reclaimed_total",
			Help:      "Total stale ticket holds released by the reclaimer sweep.",
		},
	)

	// PayoutBatchesTotal counts payout batches created.
	PayoutBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatswap",
			Name:      "payout_batches_total",
			Help:      "Total payout batches created.",
		},
	)

	// PayoutTransfersTotal counts transfer instructions produced by batch runs.
	PayoutTransfersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatswap",
			Name:      "payout_transfers_total",
			Help:      "Total per-seller transfer instructions produced.",
		},
	)

	// PayoutAmountCents observes per-batch payout totals in minor units.
	PayoutAmountCents = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seatswap",
			Name:      "payout_batch_amount_cents",
			Help:      "Payout batch totals in minor currency units.",
			Buckets:   prometheus.ExponentialBuckets(1000, 10, 7),
		},
	)

	// ActiveWebSocketClients tracks connected feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seatswap",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket feed clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatswap", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatswap", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatswap", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatswap", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrderTransitionsTotal,
		ProviderCallsTotal,
		HoldsReclaimedTotal,
		PayoutBatchesTotal,
		PayoutTransfersTotal,
		PayoutAmountCents,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
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

// Handler returns the Prometheus metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket maps a status code to a low-cardinality label.
func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
