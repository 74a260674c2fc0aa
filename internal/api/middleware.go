package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
)

// correlationMiddleware binds the inbound correlation ID, generating
// one when the client did not send one, and echoes it on the response.
func correlationMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(observability.CorrelationIDHeader)
		if id == "" {
			id = observability.GenerateCorrelationID()
			metrics.CorrelationIDsGenerated.Inc()
		} else {
			metrics.CorrelationIDsProvided.Inc()
		}
		c.Request = c.Request.WithContext(observability.WithCorrelationID(c.Request.Context(), id))
		c.Header(observability.CorrelationIDHeader, id)
		c.Next()
	}
}

// requestMetricsMiddleware counts requests and records latency by
// method, route template and status code.
func requestMetricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.APIRequestDuration.WithLabelValues(
			c.Request.Method, endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// rateLimitMiddleware applies a process-wide token bucket.
func rateLimitMiddleware(cfg config.AppConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}
		c.Next()
	}
}

// drainGate rejects new requests once shutdown draining has begun.
func (s *Server) drainGate() gin.HandlerFunc {
	drainer := s.deps.Resilience.Drainer
	return func(c *gin.Context) {
		if err := drainer.BeginRequest(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Service is shutting down",
				"message": "Server is draining and not accepting new requests",
			})
			return
		}
		defer drainer.EndRequest()
		c.Next()
	}
}

// bulkheadGate caps concurrent requests through the given bulkhead.
func (s *Server) bulkheadGate(b *resilience.Bulkhead) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := b.Acquire(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Service overloaded",
				"message": "Too many concurrent requests, please retry later",
			})
			return
		}
		defer b.Release()
		c.Next()
	}
}
