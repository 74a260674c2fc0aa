// Package worker runs the Kafka consumer groups that fan route events
// out to cache invalidation, cache warming and the audit log.
package worker

import (
	"context"
	"errors"

	"github.com/meshcontrol/traffic-manager/internal/cache"
	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
	"github.com/meshcontrol/traffic-manager/internal/routing"
)

// Handler processes one route event.
type Handler interface {
	Handle(ctx context.Context, ev *events.RouteEvent) error
}

// Invalidator drops the cached entry for the changed route so the next
// resolve reads fresh state from the database.
type Invalidator struct {
	cache  cache.Cache
	logger observability.Logger
}

// NewInvalidator wires the cache invalidation handler.
func NewInvalidator(c cache.Cache, logger observability.Logger) *Invalidator {
	return &Invalidator{cache: c, logger: logger}
}

func (h *Invalidator) Handle(ctx context.Context, ev *events.RouteEvent) error {
	key := ev.Key().CacheKey()
	if err := h.cache.Delete(ctx, key); err != nil {
		return err
	}
	h.logger.Debug("cache invalidated", map[string]interface{}{
		"key":    key,
		"action": ev.Action,
	})
	return nil
}

// Warmer re-resolves the changed route so the cache is repopulated
// before the next client asks. Deactivated routes resolve to not found,
// which plants the negative entry.
type Warmer struct {
	resolver *routing.Resolver
	logger   observability.Logger
}

// NewWarmer wires the cache warming handler.
func NewWarmer(resolver *routing.Resolver, logger observability.Logger) *Warmer {
	return &Warmer{resolver: resolver, logger: logger}
}

func (h *Warmer) Handle(ctx context.Context, ev *events.RouteEvent) error {
	_, err := h.resolver.Resolve(ctx, ev.Key())
	if errors.Is(err, models.ErrRouteNotFound) {
		return nil
	}
	return err
}

// AuditSink is the audit store operation the auditor needs.
type AuditSink interface {
	Insert(ctx context.Context, ev *events.RouteEvent) error
}

// Auditor persists the event into MongoDB, isolated behind its own
// bulkhead and circuit breaker so a slow audit store cannot back up the
// other consumer groups' shared process resources.
type Auditor struct {
	store    AuditSink
	bulkhead *resilience.Bulkhead
	circuit  *resilience.CircuitBreaker
	logger   observability.Logger
}

// NewAuditor wires the audit log handler.
func NewAuditor(store AuditSink, manager *resilience.Manager, logger observability.Logger) *Auditor {
	return &Auditor{
		store:    store,
		bulkhead: manager.AuditBulkhead,
		circuit:  manager.AuditCircuit,
		logger:   logger,
	}
}

func (h *Auditor) Handle(ctx context.Context, ev *events.RouteEvent) error {
	return h.bulkhead.Execute(ctx, func() error {
		return h.circuit.Call(func() error {
			return h.store.Insert(ctx, ev)
		})
	})
}
