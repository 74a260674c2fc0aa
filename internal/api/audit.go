package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshcontrol/traffic-manager/internal/audit"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

var auditActions = map[string]bool{
	"created":     true,
	"activated":   true,
	"deactivated": true,
}

// auditLimit parses the limit parameter, enforcing the 1..1000 bound.
func auditLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultAuditLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxAuditLimit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be between 1 and 1000",
		})
		return 0, false
	}
	return limit, true
}

func auditFilter(c *gin.Context) audit.Filter {
	return audit.Filter{
		Tenant:  c.Query("tenant"),
		Service: c.Query("service"),
		Env:     c.Query("env"),
		Version: c.Query("version"),
	}
}

func (s *Server) auditError(c *gin.Context, err error) {
	s.deps.Logger.WithContext(c.Request.Context()).Error("audit query failed", map[string]interface{}{
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func (s *Server) handleAuditRoute(c *gin.Context) {
	key, ok := routeKeyFromQuery(c)
	if !ok {
		return
	}
	limit, ok := auditLimit(c)
	if !ok {
		return
	}

	docs, err := s.deps.Audit.RouteHistory(c.Request.Context(), key, limit)
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"route": gin.H{
			"tenant":  key.Tenant,
			"service": key.Service,
			"env":     key.Env,
			"version": key.Version,
		},
		"count":  len(docs),
		"events": docs,
	})
}

func (s *Server) handleAuditRecent(c *gin.Context) {
	raw := c.DefaultQuery("days", "30")
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "days must be between 1 and 365",
		})
		return
	}
	limit, ok := auditLimit(c)
	if !ok {
		return
	}

	docs, err := s.deps.Audit.RecentEvents(c.Request.Context(), days, auditFilter(c), limit)
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":   days,
		"count":  len(docs),
		"events": docs,
	})
}

func (s *Server) handleAuditAction(c *gin.Context) {
	action := c.Query("action")
	if !auditActions[action] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "action must be one of created, activated, deactivated",
		})
		return
	}
	// hours is optional; without it the query has no time bound.
	var hours int
	var hoursField interface{}
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "hours must be a positive integer",
			})
			return
		}
		hours = parsed
		hoursField = parsed
	}
	limit, ok := auditLimit(c)
	if !ok {
		return
	}

	docs, err := s.deps.Audit.EventsByAction(c.Request.Context(), action, hours, auditFilter(c), limit)
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action": action,
		"hours":  hoursField,
		"count":  len(docs),
		"events": docs,
	})
}

func (s *Server) handleAuditTimeRange(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "start_time must be a valid RFC3339 timestamp",
		})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "end_time must be a valid RFC3339 timestamp",
		})
		return
	}
	if !start.Before(end) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "start_time must be before end_time",
		})
		return
	}
	action := c.Query("action")
	if action != "" && !auditActions[action] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "action must be one of created, activated, deactivated",
		})
		return
	}
	limit, ok := auditLimit(c)
	if !ok {
		return
	}

	filter := auditFilter(c)
	filter.Action = action
	docs, err := s.deps.Audit.EventsInRange(c.Request.Context(), start, end, filter, limit)
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"start_time": start.UTC().Format(time.RFC3339),
		"end_time":   end.UTC().Format(time.RFC3339),
		"count":      len(docs),
		"events":     docs,
	})
}
