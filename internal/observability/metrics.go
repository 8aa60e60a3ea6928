package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_ws_active_sessions",
			Help: "Number of active gateway sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_ws_events_total",
			Help: "Total number of gateway session events.",
		},
		[]string{"event"},
	)
	wsDroppedFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_ws_dropped_frames_total",
			Help: "Outbound frames dropped due to session backpressure.",
		},
	)
	outboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_outbox_published_total",
			Help: "Total number of outbox events published to the broker.",
		},
	)
	outboxErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_outbox_errors_total",
			Help: "Total number of failed outbox publisher cycles.",
		},
	)
	scanResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_attachment_scan_results_total",
			Help: "Attachment scan outcomes.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveSessions,
		wsEventsTotal,
		wsDroppedFramesTotal,
		outboxPublishedTotal,
		outboxErrorsTotal,
		scanResultsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive()              { wsActiveSessions.Inc() }
func DecWSActive()              { wsActiveSessions.Dec() }
func IncWSEvent(event string)   { wsEventsTotal.WithLabelValues(event).Inc() }
func IncWSDroppedFrame()        { wsDroppedFramesTotal.Inc() }
func AddOutboxPublished(n int)  { outboxPublishedTotal.Add(float64(n)) }
func IncOutboxError()           { outboxErrorsTotal.Inc() }
func IncScanResult(result string) {
	scanResultsTotal.WithLabelValues(result).Inc()
}
