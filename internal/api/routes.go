package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
	"github.com/meshcontrol/traffic-manager/internal/routing"
)

var routeKeyParams = []string{"tenant", "service", "env", "version"}

// routeKeyFromQuery extracts the route key from query parameters,
// reporting the full required list when any is missing.
func routeKeyFromQuery(c *gin.Context) (models.RouteKey, bool) {
	key := models.RouteKey{
		Tenant:  c.Query("tenant"),
		Service: c.Query("service"),
		Env:     c.Query("env"),
		Version: c.Query("version"),
	}
	if key.Validate() != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Missing required parameters",
			"required": routeKeyParams,
		})
		return models.RouteKey{}, false
	}
	return key, true
}

func (s *Server) handleResolve(c *gin.Context) {
	key, ok := routeKeyFromQuery(c)
	if !ok {
		return
	}

	resolution, err := s.deps.Resolver.Resolve(c.Request.Context(), key)
	switch {
	case errors.Is(err, models.ErrRouteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
		return
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Service temporarily unavailable",
			"message": "Database is unavailable and no cached entry exists",
		})
		return
	case err != nil:
		s.deps.Logger.WithContext(c.Request.Context()).Error("resolve failed", map[string]interface{}{
			"route": key.String(),
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{
		"tenant":  key.Tenant,
		"service": key.Service,
		"env":     key.Env,
		"version": key.Version,
		"url":     resolution.URL,
	}
	if resolution.Source == routing.SourceCacheFallback {
		body["source"] = routing.SourceCacheFallback
	}
	c.JSON(http.StatusOK, body)
}

type createRequest struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
	Env     string `json:"env"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	key := models.RouteKey{Tenant: req.Tenant, Service: req.Service, Env: req.Env, Version: req.Version}
	if key.Validate() != nil || models.ValidateURL(req.URL) != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Missing required parameters",
			"required": append(append([]string{}, routeKeyParams...), "url"),
		})
		return
	}

	route, err := s.deps.Writer.Create(c.Request.Context(), key, req.URL)
	if s.writeError(c, key, err) {
		return
	}
	c.JSON(http.StatusCreated, routeBody(route))
}

type activateRequest struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
	Env     string `json:"env"`
	Version string `json:"version"`
}

func (s *Server) handleActivate(c *gin.Context) {
	s.handleSetActive(c, s.deps.Writer.Activate)
}

func (s *Server) handleDeactivate(c *gin.Context) {
	s.handleSetActive(c, s.deps.Writer.Deactivate)
}

func (s *Server) handleSetActive(c *gin.Context, op func(ctx context.Context, key models.RouteKey) (*models.Route, error)) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	key := models.RouteKey{Tenant: req.Tenant, Service: req.Service, Env: req.Env, Version: req.Version}
	if key.Validate() != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Missing required parameters",
			"required": routeKeyParams,
		})
		return
	}

	route, err := op(c.Request.Context(), key)
	if s.writeError(c, key, err) {
		return
	}
	c.JSON(http.StatusOK, routeBody(route))
}

// writeError translates write-path errors to responses, reporting
// whether the request is finished.
func (s *Server) writeError(c *gin.Context, key models.RouteKey, err error) bool {
	switch {
	case err == nil:
		return false
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrRouteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Service temporarily unavailable",
			"message": "Database circuit breaker is open",
		})
	default:
		s.deps.Logger.WithContext(c.Request.Context()).Error("write failed", map[string]interface{}{
			"route": key.String(),
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
	return true
}

func routeBody(route *models.Route) gin.H {
	return gin.H{
		"tenant":    route.Tenant,
		"service":   route.Service,
		"env":       route.Env,
		"version":   route.Version,
		"url":       route.URL,
		"is_active": route.Active,
	}
}
