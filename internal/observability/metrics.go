package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted, by media type.",
		},
		[]string{"media_type"},
	)
	markReadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_mark_read_failures_total",
			Help: "Best-effort mark-as-read writes that failed.",
		},
	)
	feedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_feed_subscribers",
			Help: "Live change feed subscriptions.",
		},
	)
	feedDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_feed_dropped_total",
			Help: "Changes dropped because a subscriber buffer was full.",
		},
	)
	presenceSyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_syncs_total",
			Help: "Presence snapshots broadcast.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesSentTotal,
		markReadFailuresTotal,
		feedSubscribers,
		feedDroppedTotal,
		presenceSyncsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncMessageSent(mediaType string) {
	if mediaType == "" {
		mediaType = "text"
	}
	messagesSentTotal.WithLabelValues(mediaType).Inc()
}

func IncMarkReadFailure() {
	markReadFailuresTotal.Inc()
}

func SetFeedSubscribers(n int) {
	feedSubscribers.Set(float64(n))
}

func IncFeedDropped() {
	feedDroppedTotal.Inc()
}

func IncPresenceSync() {
	presenceSyncsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
