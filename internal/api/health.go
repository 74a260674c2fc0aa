package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

func (s *Server) registerHealth() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleHealth)
	s.router.GET("/health/ready", s.handleReady)
	s.router.GET("/health/resilience", s.handleResilience)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": ServiceName,
	})
}

// handleReady reports readiness. The database is the only hard
// dependency: the cache and the producer degrade gracefully, so their
// state is reported but does not fail the probe.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	draining := s.deps.Resilience.Drainer.IsDraining()
	dbOK := s.deps.DB.Ping(ctx) == nil
	cacheOK := s.deps.Cache.Ping(ctx) == nil

	checks := gin.H{
		"database":       dbOK,
		"cache":          cacheOK,
		"kafka_producer": s.deps.Producer.Ready(),
		"draining":       draining,
	}
	if s.deps.AuditPing != nil {
		checks["mongodb"] = s.deps.AuditPing.Ping(ctx) == nil
	}

	if dbOK && !draining {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
}

func (s *Server) handleResilience(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Resilience.Snapshot())
}
