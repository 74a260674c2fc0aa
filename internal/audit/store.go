// Package audit persists route events into MongoDB and serves the
// audit query endpoints.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// DocumentRoute is the route key as stored inside an audit document.
type DocumentRoute struct {
	Tenant  string `bson:"tenant" json:"tenant"`
	Service string `bson:"service" json:"service"`
	Env     string `bson:"env" json:"env"`
	Version string `bson:"version" json:"version"`
}

// Document is the stored projection of a route event: the event fields
// with the route key grouped into a subdocument, plus the processing
// timestamp and optional change context.
type Document struct {
	EventID       string                 `bson:"event_id" json:"event_id"`
	EventType     string                 `bson:"event_type" json:"event_type"`
	Action        string                 `bson:"action" json:"action"`
	Route         DocumentRoute          `bson:"route" json:"route"`
	URL           string                 `bson:"url" json:"url"`
	CorrelationID *string                `bson:"correlation_id" json:"correlation_id"`
	OccurredAt    time.Time              `bson:"occurred_at" json:"occurred_at"`
	ProcessedAt   time.Time              `bson:"processed_at" json:"processed_at"`
	PreviousURL   *string                `bson:"previous_url,omitempty" json:"previous_url,omitempty"`
	PreviousState *string                `bson:"previous_state,omitempty" json:"previous_state,omitempty"`
	ChangedBy     *string                `bson:"changed_by,omitempty" json:"changed_by,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Filter narrows audit queries to a subset of the route key space.
// Empty fields are not constrained.
type Filter struct {
	Tenant  string
	Service string
	Env     string
	Version string
	Action  string
}

func (f Filter) bson() bson.M {
	m := bson.M{}
	if f.Tenant != "" {
		m["route.tenant"] = f.Tenant
	}
	if f.Service != "" {
		m["route.service"] = f.Service
	}
	if f.Env != "" {
		m["route.env"] = f.Env
	}
	if f.Version != "" {
		m["route.version"] = f.Version
	}
	if f.Action != "" {
		m["action"] = f.Action
	}
	return m
}

// Store is a lazily connected MongoDB audit store. The first operation
// connects, pings and ensures the indexes; later operations reuse the
// client.
type Store struct {
	cfg    config.MongoConfig
	logger observability.Logger

	mu         sync.Mutex
	client     *mongo.Client
	collection *mongo.Collection
}

// NewStore creates a store without connecting.
func NewStore(cfg config.MongoConfig, logger observability.Logger) *Store {
	return &Store{cfg: cfg, logger: logger}
}

func (s *Store) connect(ctx context.Context) (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection != nil {
		return s.collection, nil
	}

	opts := options.Client().
		ApplyURI(s.cfg.URI()).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetServerSelectionTimeout(s.cfg.ServerSelectionTimeout).
		SetMaxPoolSize(50).
		SetMinPoolSize(2)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	collection := client.Database(s.cfg.Name).Collection(s.cfg.AuditCollection)
	if err := ensureIndexes(ctx, collection); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	s.client = client
	s.collection = collection
	s.logger.Info("mongodb connected", map[string]interface{}{
		"database":   s.cfg.Name,
		"collection": s.cfg.AuditCollection,
	})
	return collection, nil
}

func ensureIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "route.tenant", Value: 1},
				{Key: "route.service", Value: 1},
				{Key: "route.env", Value: 1},
				{Key: "route.version", Value: 1},
				{Key: "occurred_at", Value: -1},
			},
			Options: options.Index().SetName("route_occurred_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("occurred_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "action", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("action_occurred_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("event_id_idx").SetUnique(true),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

// parseOccurredAt accepts the second-precision Z form events are written
// with, and falls back to full RFC3339 for offsets, normalizing to UTC.
func parseOccurredAt(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05Z", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse occurred_at %q: %w", value, err)
	}
	return t.UTC(), nil
}

// Insert stores the projection of ev. A duplicate event_id means the
// event was already processed, and is treated as success so redelivery
// stays idempotent.
func (s *Store) Insert(ctx context.Context, ev *events.RouteEvent) error {
	collection, err := s.connect(ctx)
	if err != nil {
		return err
	}

	occurredAt, err := parseOccurredAt(ev.OccurredAt)
	if err != nil {
		return err
	}

	doc := Document{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Action:    ev.Action,
		Route: DocumentRoute{
			Tenant:  ev.Tenant,
			Service: ev.Service,
			Env:     ev.Env,
			Version: ev.Version,
		},
		URL:           ev.URL,
		CorrelationID: ev.CorrelationID,
		OccurredAt:    occurredAt,
		ProcessedAt:   time.Now().UTC(),
	}

	if _, err := collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert audit event %s: %w", ev.EventID, err)
	}
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.M, limit int64) ([]Document, error) {
	collection, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetLimit(limit)
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer cursor.Close(ctx)

	docs := make([]Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return docs, nil
}

// RouteHistory returns the newest events for one route key.
func (s *Store) RouteHistory(ctx context.Context, key models.RouteKey, limit int) ([]Document, error) {
	return s.find(ctx, bson.M{
		"route.tenant":  key.Tenant,
		"route.service": key.Service,
		"route.env":     key.Env,
		"route.version": key.Version,
	}, int64(limit))
}

// RecentEvents returns events from the last given number of days,
// optionally narrowed by filter.
func (s *Store) RecentEvents(ctx context.Context, days int, filter Filter, limit int) ([]Document, error) {
	q := filter.bson()
	q["occurred_at"] = bson.M{"$gte": time.Now().UTC().AddDate(0, 0, -days)}
	return s.find(ctx, q, int64(limit))
}

// EventsByAction returns events with the given action, optionally
// narrowed by filter. When hours is positive the query is limited to
// that look-back window; zero or negative means no time bound.
func (s *Store) EventsByAction(ctx context.Context, action string, hours int, filter Filter, limit int) ([]Document, error) {
	return s.find(ctx, eventsByActionQuery(action, hours, filter, time.Now()), int64(limit))
}

func eventsByActionQuery(action string, hours int, filter Filter, now time.Time) bson.M {
	q := filter.bson()
	q["action"] = action
	if hours > 0 {
		q["occurred_at"] = bson.M{"$gte": now.UTC().Add(-time.Duration(hours) * time.Hour)}
	}
	return q
}

// EventsInRange returns events that occurred within [start, end],
// optionally narrowed by filter.
func (s *Store) EventsInRange(ctx context.Context, start, end time.Time, filter Filter, limit int) ([]Document, error) {
	return s.find(ctx, eventsInRangeQuery(start, end, filter), int64(limit))
}

func eventsInRangeQuery(start, end time.Time, filter Filter) bson.M {
	q := filter.bson()
	q["occurred_at"] = bson.M{"$gte": start.UTC(), "$lte": end.UTC()}
	return q
}

// Ping verifies connectivity, connecting first if needed.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client.Ping(ctx, nil)
}

// Close disconnects the client if it was connected.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.collection = nil
	return err
}
