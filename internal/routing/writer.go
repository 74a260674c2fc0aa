package routing

import (
	"context"
	"errors"
	"time"

	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
)

// Writer implements the write path: transactional store mutation first,
// then best-effort event publication. A route change is durable once the
// transaction commits; the event only fans it out.
type Writer struct {
	store     Store
	publisher events.Publisher
	dbCircuit *resilience.CircuitBreaker
	metrics   *observability.Metrics
	logger    observability.Logger
}

// NewWriter wires the write engine.
func NewWriter(
	store Store,
	publisher events.Publisher,
	manager *resilience.Manager,
	metrics *observability.Metrics,
	logger observability.Logger,
) *Writer {
	return &Writer{
		store:     store,
		publisher: publisher,
		dbCircuit: manager.DBCircuit,
		metrics:   metrics,
		logger:    logger,
	}
}

// Create upserts the route and publishes a created event.
func (w *Writer) Create(ctx context.Context, key models.RouteKey, url string) (*models.Route, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateURL(url); err != nil {
		return nil, err
	}
	return w.write(ctx, events.ActionCreated, func(ctx context.Context) (*models.Route, error) {
		return w.store.CreateRoute(ctx, key, url)
	})
}

// Activate marks the route active and publishes an activated event.
func (w *Writer) Activate(ctx context.Context, key models.RouteKey) (*models.Route, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return w.write(ctx, events.ActionActivated, func(ctx context.Context) (*models.Route, error) {
		return w.store.SetRouteActive(ctx, key, true)
	})
}

// Deactivate marks the route inactive and publishes a deactivated event.
func (w *Writer) Deactivate(ctx context.Context, key models.RouteKey) (*models.Route, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return w.write(ctx, events.ActionDeactivated, func(ctx context.Context) (*models.Route, error) {
		return w.store.SetRouteActive(ctx, key, false)
	})
}

func (w *Writer) write(ctx context.Context, action events.Action, mutate func(ctx context.Context) (*models.Route, error)) (*models.Route, error) {
	w.metrics.WriteRequests.Inc()
	start := time.Now()
	defer func() {
		w.metrics.WriteLatency.Observe(time.Since(start).Seconds())
	}()

	var route *models.Route
	var notFound bool
	err := w.dbCircuit.Call(func() error {
		result, err := mutate(ctx)
		if errors.Is(err, models.ErrRouteNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		route = result
		return nil
	})
	if err != nil {
		w.metrics.WriteFailure.Inc()
		return nil, err
	}
	if notFound {
		return nil, models.ErrRouteNotFound
	}

	w.metrics.WriteSuccess.Inc()
	w.publish(ctx, action, route)
	return route, nil
}

// publish sends the change event. Failures are logged and swallowed:
// the committed transaction is the source of truth.
func (w *Writer) publish(ctx context.Context, action events.Action, route *models.Route) {
	ev := events.NewRouteEvent(ctx, action, route.RouteKey, route.URL)
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.logger.Warn("event publish failed", map[string]interface{}{
			"event_id": ev.EventID,
			"action":   ev.Action,
			"route":    route.String(),
			"error":    err.Error(),
		})
	}
}
