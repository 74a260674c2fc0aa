// Package events defines the route change event and the Kafka producer
// that publishes it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// Action identifies what happened to a route.
type Action string

const (
	ActionCreated     Action = "created"
	ActionActivated   Action = "activated"
	ActionDeactivated Action = "deactivated"
)

// occurredAtLayout is the wire format for occurred_at. Second precision,
// always UTC with a literal Z.
const occurredAtLayout = "2006-01-02T15:04:05Z"

// EventTypeRouteChanged is the only event type on the route events topic.
const EventTypeRouteChanged = "route_changed"

// RouteEvent is the wire form of one route change. The field set and
// names are a contract shared with every consumer group.
type RouteEvent struct {
	EventID       string  `json:"event_id"`
	EventType     string  `json:"event_type"`
	Action        string  `json:"action"`
	Tenant        string  `json:"tenant"`
	Service       string  `json:"service"`
	Env           string  `json:"env"`
	Version       string  `json:"version"`
	URL           string  `json:"url"`
	OccurredAt    string  `json:"occurred_at"`
	CorrelationID *string `json:"correlation_id"`
}

// NewRouteEvent builds an event for the given change, stamping a fresh
// event ID and the current UTC time. The correlation ID is taken from
// the context and left null when the context carries none.
func NewRouteEvent(ctx context.Context, action Action, key models.RouteKey, url string) *RouteEvent {
	ev := &RouteEvent{
		EventID:    uuid.New().String(),
		EventType:  EventTypeRouteChanged,
		Action:     string(action),
		Tenant:     key.Tenant,
		Service:    key.Service,
		Env:        key.Env,
		Version:    key.Version,
		URL:        url,
		OccurredAt: time.Now().UTC().Format(occurredAtLayout),
	}
	if id := observability.CorrelationID(ctx); id != "" {
		ev.CorrelationID = &id
	}
	return ev
}

// Key reconstructs the route key from the event fields.
func (e *RouteEvent) Key() models.RouteKey {
	return models.RouteKey{Tenant: e.Tenant, Service: e.Service, Env: e.Env, Version: e.Version}
}

// PartitionKey returns the Kafka partition key for this event, so all
// events for one route preserve their relative order.
func (e *RouteEvent) PartitionKey() string {
	return e.Key().PartitionKey()
}
