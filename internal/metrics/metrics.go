package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchTotal counts fetch outcomes per data type and source.
	// outcome is one of: ok, unavailable, invalid, error.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finbot",
		Name:      "fetch_total",
		Help:      "Provider fetch outcomes.",
	}, []string{"data_type", "source", "outcome"})

	// CacheReads counts cache read results: hit, miss, failed_marker.
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finbot",
		Name:      "cache_reads_total",
		Help:      "Cache read results.",
	}, []string{"data_type", "result"})

	// AIRequests counts AI pipeline runs per model and mode.
	AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finbot",
		Name:      "ai_requests_total",
		Help:      "AI analysis requests.",
	}, []string{"model", "mode"})

	// AIFirstToken observes time to first streamed token per model.
	AIFirstToken = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finbot",
		Name:      "ai_first_token_seconds",
		Help:      "Latency to first LLM token.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	// AITotalDuration observes whole-stream LLM latency per model.
	AITotalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finbot",
		Name:      "ai_request_duration_seconds",
		Help:      "Total LLM request latency.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	// HTTPDuration observes handler latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finbot",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPDuration.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
