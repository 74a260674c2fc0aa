// Package api implements the HTTP surface: route resolution and
// mutation, audit queries, health probes and metrics exposition.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshcontrol/traffic-manager/internal/audit"
	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
	"github.com/meshcontrol/traffic-manager/internal/routing"
)

// ServiceName appears in health responses.
const ServiceName = "traffic-manager"

// Pinger is the connectivity check the health handlers need from a
// dependency client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuditQueries is the slice of the audit store the query endpoints use.
type AuditQueries interface {
	RouteHistory(ctx context.Context, key models.RouteKey, limit int) ([]audit.Document, error)
	RecentEvents(ctx context.Context, days int, filter audit.Filter, limit int) ([]audit.Document, error)
	EventsByAction(ctx context.Context, action string, hours int, filter audit.Filter, limit int) ([]audit.Document, error)
	EventsInRange(ctx context.Context, start, end time.Time, filter audit.Filter, limit int) ([]audit.Document, error)
}

// Dependencies carries everything the HTTP surface needs. Consumers of
// the package construct concrete clients; tests substitute fakes.
type Dependencies struct {
	Config     *config.Config
	Logger     observability.Logger
	Metrics    *observability.Metrics
	Resilience *resilience.Manager
	Resolver   *routing.Resolver
	Writer     *routing.Writer
	DB         Pinger
	Cache      Pinger
	Producer   events.Publisher
	Audit      AuditQueries
	// AuditPing is optional; when set, readiness reports the audit store
	// state as an advisory check.
	AuditPing Pinger
}

// Server wires the gin router and the underlying http.Server.
type Server struct {
	deps   Dependencies
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router with the full middleware chain and all
// routes registered.
func NewServer(deps Dependencies) *Server {
	if !deps.Config.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(correlationMiddleware(deps.Metrics))
	router.Use(requestMetricsMiddleware(deps.Metrics))
	if deps.Config.App.RateLimitEnabled {
		router.Use(rateLimitMiddleware(deps.Config.App))
	}

	s := &Server{
		deps:   deps,
		router: router,
		http: &http.Server{
			Addr:    deps.Config.App.ListenAddress(),
			Handler: router,
		},
	}
	s.registerHealth()
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	m := s.deps.Resilience
	v1 := s.router.Group("/api/v1")

	read := v1.Group("/routes")
	read.Use(s.drainGate(), s.bulkheadGate(m.ReadBulkhead))
	read.GET("/resolve", s.handleResolve)

	write := v1.Group("/routes")
	write.Use(s.drainGate(), s.bulkheadGate(m.WriteBulkhead))
	write.POST("", s.handleCreate)
	write.POST("/activate", s.handleActivate)
	write.POST("/deactivate", s.handleDeactivate)

	auditGroup := v1.Group("/audit")
	auditGroup.Use(s.drainGate(), s.bulkheadGate(m.ReadBulkhead))
	auditGroup.GET("/route", s.handleAuditRoute)
	auditGroup.GET("/recent", s.handleAuditRecent)
	auditGroup.GET("/action", s.handleAuditAction)
	auditGroup.GET("/time-range", s.handleAuditTimeRange)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start binds and serves until Shutdown. http.ErrServerClosed is the
// clean-shutdown signal and is not returned as an error.
func (s *Server) Start() error {
	s.deps.Logger.Info("http server listening", map[string]interface{}{
		"addr": s.http.Addr,
	})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
