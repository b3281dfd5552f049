package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_registry_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_registry_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// BlocksKnown reports the current size of the block store, updated
	// by the server at startup and after every install.
	BlocksKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_registry_blocks_known",
			Help: "Number of distinct blocks currently stored",
		},
	)

	// DedupRatio reports bytes-written-to-disk / bytes-received over the
	// process lifetime, the headline dedup payoff metric.
	DedupRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_registry_dedup_ratio",
			Help: "Ratio of unique block bytes stored to total bytes received",
		},
	)

	// UploadSessionsInFlight tracks currently Open upload sessions.
	UploadSessionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_registry_upload_sessions_in_flight",
			Help: "Number of upload sessions currently open",
		},
	)
)

// Metrics records per-request HTTP counters and latency histograms.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	}
}
