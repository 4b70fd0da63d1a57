package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	liveSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_sessions_active",
			Help: "Number of sessions started but not yet ended by this instance",
		},
	)

	presenceJoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_presence_joins_total",
			Help: "Total number of presence entries created",
		},
	)

	presenceLeavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_presence_leaves_total",
			Help: "Total number of presence entries closed",
		},
	)

	presenceTransfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_presence_transfers_total",
			Help: "Total number of device hand-offs",
		},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Number of open websocket connections",
		},
	)

	realtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Total number of realtime events emitted",
		},
		[]string{"event"},
	)
)

// Metrics returns a gin middleware that collects HTTP request metrics.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpRequestsInFlight.Inc()
		c.Next()
		httpRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the Prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSessionStarted increments live_sessions_active.
func RecordSessionStarted() { liveSessionsActive.Inc() }

// RecordSessionEnded decrements live_sessions_active.
func RecordSessionEnded() { liveSessionsActive.Dec() }

// RecordPresenceJoin counts a created presence.
func RecordPresenceJoin() { presenceJoinsTotal.Inc() }

// RecordPresenceLeave counts n closed presences.
func RecordPresenceLeave(n int) { presenceLeavesTotal.Add(float64(n)) }

// RecordTransfer counts a device hand-off.
func RecordTransfer() { presenceTransfersTotal.Inc() }

// RecordConnectionOpened and RecordConnectionClosed track open websocket connections.
func RecordConnectionOpened() { realtimeConnections.Inc() }

func RecordConnectionClosed() { realtimeConnections.Dec() }

// RecordEvent counts an emitted realtime event.
func RecordEvent(event string) { realtimeEventsTotal.WithLabelValues(event).Inc() }
