package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcontrol/traffic-manager/internal/audit"
	"github.com/meshcontrol/traffic-manager/internal/cache"
	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
	"github.com/meshcontrol/traffic-manager/internal/routing"
)

// memCache is a map-backed cache.Cache for handler tests.
type memCache struct {
	entries   map[string]string
	negatives map[string]bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string), negatives: make(map[string]bool)}
}

func (m *memCache) Get(ctx context.Context, k string) (cache.Lookup, error) {
	if m.negatives[k] {
		return cache.Lookup{Status: cache.NegativeHit}, nil
	}
	if url, ok := m.entries[k]; ok {
		return cache.Lookup{Status: cache.Hit, URL: url}, nil
	}
	return cache.Lookup{Status: cache.Miss}, nil
}

func (m *memCache) Set(ctx context.Context, k, url string) error {
	m.entries[k] = url
	return nil
}

func (m *memCache) SetNegative(ctx context.Context, k string) error {
	m.negatives[k] = true
	return nil
}

func (m *memCache) Delete(ctx context.Context, k string) error {
	delete(m.entries, k)
	delete(m.negatives, k)
	return nil
}

func (m *memCache) Ping(ctx context.Context) error { return nil }
func (m *memCache) Close() error                   { return nil }

// memStore keeps routes in a map keyed by partition key.
type memStore struct {
	routes map[string]*models.Route
}

func newMemStore() *memStore {
	return &memStore{routes: make(map[string]*models.Route)}
}

func (m *memStore) ResolveActiveURL(ctx context.Context, k models.RouteKey) (string, error) {
	route, ok := m.routes[k.PartitionKey()]
	if !ok || !route.Active {
		return "", models.ErrRouteNotFound
	}
	return route.URL, nil
}

func (m *memStore) CreateRoute(ctx context.Context, k models.RouteKey, url string) (*models.Route, error) {
	route := &models.Route{RouteKey: k, URL: url, Active: true}
	m.routes[k.PartitionKey()] = route
	return route, nil
}

func (m *memStore) SetRouteActive(ctx context.Context, k models.RouteKey, active bool) (*models.Route, error) {
	route, ok := m.routes[k.PartitionKey()]
	if !ok {
		return nil, models.ErrRouteNotFound
	}
	route.Active = active
	return route, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubProducer struct{ ready bool }

func (s stubProducer) Publish(ctx context.Context, ev *events.RouteEvent) error { return nil }
func (s stubProducer) Ready() bool                                              { return s.ready }
func (s stubProducer) Close() error                                             { return nil }

type stubAudit struct {
	docs []audit.Document
	err  error
}

func (s stubAudit) RouteHistory(ctx context.Context, key models.RouteKey, limit int) ([]audit.Document, error) {
	return s.docs, s.err
}

func (s stubAudit) RecentEvents(ctx context.Context, days int, filter audit.Filter, limit int) ([]audit.Document, error) {
	return s.docs, s.err
}

func (s stubAudit) EventsByAction(ctx context.Context, action string, hours int, filter audit.Filter, limit int) ([]audit.Document, error) {
	return s.docs, s.err
}

func (s stubAudit) EventsInRange(ctx context.Context, start, end time.Time, filter audit.Filter, limit int) ([]audit.Document, error) {
	return s.docs, s.err
}

// recordingAudit captures the arguments the handlers pass through.
type recordingAudit struct {
	stubAudit
	days   int
	action string
	hours  int
	filter audit.Filter
}

func (r *recordingAudit) RecentEvents(ctx context.Context, days int, filter audit.Filter, limit int) ([]audit.Document, error) {
	r.days = days
	r.filter = filter
	return r.docs, r.err
}

func (r *recordingAudit) EventsByAction(ctx context.Context, action string, hours int, filter audit.Filter, limit int) ([]audit.Document, error) {
	r.action = action
	r.hours = hours
	r.filter = filter
	return r.docs, r.err
}

func (r *recordingAudit) EventsInRange(ctx context.Context, start, end time.Time, filter audit.Filter, limit int) ([]audit.Document, error) {
	r.filter = filter
	return r.docs, r.err
}

type testHarness struct {
	server  *Server
	cache   *memCache
	store   *memStore
	manager *resilience.Manager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg := &config.Config{
		App: config.AppConfig{
			Environment:      "development",
			LogLevel:         "ERROR",
			APIHost:          "127.0.0.1",
			APIPort:          8000,
			PositiveCacheTTL: 60 * time.Second,
			NegativeCacheTTL: 10 * time.Second,
		},
	}
	logger := observability.NewLoggerWithLevel("test", observability.LogLevelError)
	metrics := observability.NewMetrics()
	manager := resilience.NewManager(logger)

	mc := newMemCache()
	ms := newMemStore()
	resolver := routing.NewResolver(mc, ms, manager, metrics, logger)
	writer := routing.NewWriter(ms, stubProducer{ready: true}, manager, metrics, logger)

	server := NewServer(Dependencies{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Resilience: manager,
		Resolver:   resolver,
		Writer:     writer,
		DB:         stubPinger{},
		Cache:      stubPinger{},
		Producer:   stubProducer{ready: true},
		Audit:      stubAudit{},
	})
	return &testHarness{server: server, cache: mc, store: ms, manager: manager}
}

func (h *testHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestResolveHotRead(t *testing.T) {
	h := newHarness(t)
	h.cache.entries["route:team-a:payments:prod:v2"] = "https://payments.example.com/v2"

	rec := h.do(t, http.MethodGet, "/api/v1/routes/resolve?tenant=team-a&service=payments&env=prod&version=v2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "team-a", body["tenant"])
	assert.Equal(t, "https://payments.example.com/v2", body["url"])
	assert.NotContains(t, body, "source")
}

func TestResolveMissingParams(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/routes/resolve?tenant=team-a&service=payments", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Missing required parameters", body["error"])
	assert.ElementsMatch(t, []interface{}{"tenant", "service", "env", "version"}, body["required"])
}

func TestResolveNotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/routes/resolve?tenant=x&service=y&env=prod&version=v1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", decode(t, rec)["error"])
}

func TestCreateThenResolve(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/routes",
		`{"tenant":"t","service":"s","env":"prod","version":"v1","url":"https://s.t.example.com/v1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["is_active"])
	assert.Equal(t, "https://s.t.example.com/v1", body["url"])

	rec = h.do(t, http.MethodGet, "/api/v1/routes/resolve?tenant=t&service=s&env=prod&version=v1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://s.t.example.com/v1", decode(t, rec)["url"])
}

func TestCreateMissingURL(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/routes",
		`{"tenant":"t","service":"s","env":"prod","version":"v1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required parameters", decode(t, rec)["error"])
}

func TestDeactivateHidesRoute(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/api/v1/routes",
		`{"tenant":"t","service":"s","env":"prod","version":"v1","url":"https://x"}`)

	rec := h.do(t, http.MethodPost, "/api/v1/routes/deactivate",
		`{"tenant":"t","service":"s","env":"prod","version":"v1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["is_active"])

	rec = h.do(t, http.MethodGet, "/api/v1/routes/resolve?tenant=t&service=s&env=prod&version=v1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivateUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/routes/activate",
		`{"tenant":"nope","service":"s","env":"prod","version":"v1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrelationIDGenerated(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health", "")
	id := rec.Header().Get(observability.CorrelationIDHeader)
	require.NotEmpty(t, id)
	assert.True(t, strings.HasPrefix(id, "req-"), "generated ID has req- prefix, got %q", id)
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(observability.CorrelationIDHeader, "req-1122334455667788")
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, "req-1122334455667788", rec.Header().Get(observability.CorrelationIDHeader))
}

func TestDrainingRejectsRequests(t *testing.T) {
	h := newHarness(t)
	h.manager.Drainer.StartDrain()

	rec := h.do(t, http.MethodGet, "/api/v1/routes/resolve?tenant=t&service=s&env=prod&version=v1", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Service is shutting down", body["error"])
	assert.Equal(t, "Server is draining and not accepting new requests", body["message"])

	// Liveness and metrics keep serving while draining.
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/resilience", "").Code)
}

func TestReadyReflectsDraining(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])

	h.manager.Drainer.StartDrain()
	rec = h.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode(t, rec)["status"])
}

func TestReadyFailsWhenDatabaseDown(t *testing.T) {
	h := newHarness(t)
	h.server.deps.DB = stubPinger{err: errors.New("refused")}

	rec := h.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	checks := decode(t, rec)["checks"].(map[string]interface{})
	assert.Equal(t, false, checks["database"])
	assert.Equal(t, true, checks["cache"])
}

func TestAuditRouteEnvelope(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/audit/route?tenant=t&service=s&env=prod&version=v1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(0), body["count"])
	route := body["route"].(map[string]interface{})
	assert.Equal(t, "t", route["tenant"])
}

func TestAuditLimitBounds(t *testing.T) {
	h := newHarness(t)

	for _, limit := range []string{"0", "1001", "abc"} {
		rec := h.do(t, http.MethodGet,
			"/api/v1/audit/route?tenant=t&service=s&env=prod&version=v1&limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestAuditDaysBounds(t *testing.T) {
	h := newHarness(t)

	for _, days := range []string{"0", "366"} {
		rec := h.do(t, http.MethodGet, "/api/v1/audit/recent?days="+days, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "days=%s", days)
	}
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/audit/recent?days=90", "").Code)
}

func TestAuditRecentDefaultsToThirtyDays(t *testing.T) {
	h := newHarness(t)
	ra := &recordingAudit{}
	h.server.deps.Audit = ra

	rec := h.do(t, http.MethodGet, "/api/v1/audit/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, ra.days)
	assert.Equal(t, float64(30), decode(t, rec)["days"])
}

func TestAuditActionValidation(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusBadRequest,
		h.do(t, http.MethodGet, "/api/v1/audit/action?action=destroyed", "").Code)
	assert.Equal(t, http.StatusOK,
		h.do(t, http.MethodGet, "/api/v1/audit/action?action=created", "").Code)
}

func TestAuditActionHoursOptional(t *testing.T) {
	h := newHarness(t)
	ra := &recordingAudit{}
	h.server.deps.Audit = ra

	// Without hours the query has no time bound and the response echoes null.
	rec := h.do(t, http.MethodGet, "/api/v1/audit/action?action=created", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, ra.hours)
	assert.Nil(t, decode(t, rec)["hours"])

	rec = h.do(t, http.MethodGet, "/api/v1/audit/action?action=created&hours=6", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, ra.hours)
	assert.Equal(t, float64(6), decode(t, rec)["hours"])

	assert.Equal(t, http.StatusBadRequest,
		h.do(t, http.MethodGet, "/api/v1/audit/action?action=created&hours=0", "").Code)
}

func TestAuditTimeRangeValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet,
		"/api/v1/audit/time-range?start_time=2026-08-02T00:00:00Z&end_time=2026-08-01T00:00:00Z", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "start_time must be before end_time", decode(t, rec)["error"])

	rec = h.do(t, http.MethodGet,
		"/api/v1/audit/time-range?start_time=not-a-time&end_time=2026-08-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet,
		"/api/v1/audit/time-range?start_time=2026-08-01T00:00:00Z&end_time=2026-08-02T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditTimeRangeActionFilter(t *testing.T) {
	h := newHarness(t)
	ra := &recordingAudit{}
	h.server.deps.Audit = ra

	rec := h.do(t, http.MethodGet,
		"/api/v1/audit/time-range?start_time=2026-08-01T00:00:00Z&end_time=2026-08-02T00:00:00Z&action=deactivated", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deactivated", ra.filter.Action)

	rec = h.do(t, http.MethodGet,
		"/api/v1/audit/time-range?start_time=2026-08-01T00:00:00Z&end_time=2026-08-02T00:00:00Z&action=destroyed", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/health", "/health/live"} {
		rec := h.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, ServiceName, body["service"])
	}
}

func TestResilienceSnapshotEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health/resilience", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Contains(t, body, "circuit_breakers")
	assert.Contains(t, body, "retry_budgets")
	assert.Contains(t, body, "bulkheads")
	assert.Contains(t, body, "graceful_draining")
}
