package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

var eventKey = models.RouteKey{Tenant: "t", Service: "s", Env: "prod", Version: "v1"}

func TestNewRouteEventFields(t *testing.T) {
	ctx := observability.WithCorrelationID(context.Background(), "req-abc123def456aa00")

	ev := NewRouteEvent(ctx, ActionCreated, eventKey, "https://s.t.example.com/v1")

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "route_changed", ev.EventType)
	assert.Equal(t, "created", ev.Action)
	assert.Equal(t, "t", ev.Tenant)
	assert.Equal(t, "s", ev.Service)
	assert.Equal(t, "prod", ev.Env)
	assert.Equal(t, "v1", ev.Version)
	assert.Equal(t, "https://s.t.example.com/v1", ev.URL)
	require.NotNil(t, ev.CorrelationID)
	assert.Equal(t, "req-abc123def456aa00", *ev.CorrelationID)

	occurred, err := time.Parse("2006-01-02T15:04:05Z", ev.OccurredAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), occurred, time.Minute)
}

func TestNewRouteEventNullCorrelationID(t *testing.T) {
	ev := NewRouteEvent(context.Background(), ActionDeactivated, eventKey, "https://x")
	assert.Nil(t, ev.CorrelationID)

	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"correlation_id":null`)
}

func TestRouteEventWireShape(t *testing.T) {
	ev := NewRouteEvent(context.Background(), ActionActivated, eventKey, "https://x")

	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))

	want := []string{
		"event_id", "event_type", "action",
		"tenant", "service", "env", "version",
		"url", "occurred_at", "correlation_id",
	}
	assert.Len(t, decoded, len(want))
	for _, field := range want {
		assert.Contains(t, decoded, field)
	}
}

func TestRouteEventPartitionKey(t *testing.T) {
	ev := NewRouteEvent(context.Background(), ActionCreated, eventKey, "https://x")
	assert.Equal(t, "t:s:prod:v1", ev.PartitionKey())
	assert.Equal(t, eventKey, ev.Key())
}
