// Package database implements the PostgreSQL store that is the source
// of truth for tenants, services, environments and endpoints.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// Store wraps the connection pool and the route queries.
type Store struct {
	db      *sqlx.DB
	metrics *observability.Metrics
	logger  observability.Logger
}

// New opens the pool and verifies connectivity with one ping. The
// database is a hard dependency: a failed ping is returned to the
// caller rather than deferred.
func New(cfg config.DatabaseConfig, metrics *observability.Metrics, logger observability.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		metrics.DBConnectionErrors.Inc()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected", map[string]interface{}{
		"host": cfg.Host,
		"name": cfg.Name,
	})
	return &Store{db: db, metrics: metrics, logger: logger}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sqlx.DB, metrics *observability.Metrics, logger observability.Logger) *Store {
	return &Store{db: db, metrics: metrics, logger: logger}
}

const resolveActiveURLQuery = `
SELECT ep.url
FROM tenants t
JOIN services s ON s.tenant_id = t.id
JOIN environments e ON e.service_id = s.id
JOIN endpoints ep ON ep.environment_id = e.id
WHERE t.name = $1
  AND s.name = $2
  AND e.name = $3
  AND ep.version = $4
  AND ep.is_active = true
LIMIT 1`

// ResolveActiveURL returns the active endpoint URL for key, or
// models.ErrRouteNotFound when no active endpoint matches.
func (s *Store) ResolveActiveURL(ctx context.Context, key models.RouteKey) (string, error) {
	s.metrics.DBQueries.Inc()
	var url string
	err := s.db.GetContext(ctx, &url, resolveActiveURLQuery, key.Tenant, key.Service, key.Env, key.Version)
	if err == sql.ErrNoRows {
		return "", models.ErrRouteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}
	return url, nil
}

// CreateRoute creates the tenant, service and environment rows if they
// are missing and upserts the endpoint, all in one transaction. The
// returned route reflects the row state after the upsert.
func (s *Store) CreateRoute(ctx context.Context, key models.RouteKey, url string) (*models.Route, error) {
	var route *models.Route
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		tenantID, err := s.getOrCreate(ctx, tx,
			`INSERT INTO tenants (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
			`SELECT id FROM tenants WHERE name = $1`,
			key.Tenant)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", key.Tenant, err)
		}

		serviceID, err := s.getOrCreate(ctx, tx,
			`INSERT INTO services (tenant_id, name) VALUES ($1, $2) ON CONFLICT (tenant_id, name) DO NOTHING RETURNING id`,
			`SELECT id FROM services WHERE tenant_id = $1 AND name = $2`,
			tenantID, key.Service)
		if err != nil {
			return fmt.Errorf("service %s: %w", key.Service, err)
		}

		envID, err := s.getOrCreate(ctx, tx,
			`INSERT INTO environments (service_id, name) VALUES ($1, $2) ON CONFLICT (service_id, name) DO NOTHING RETURNING id`,
			`SELECT id FROM environments WHERE service_id = $1 AND name = $2`,
			serviceID, key.Env)
		if err != nil {
			return fmt.Errorf("environment %s: %w", key.Env, err)
		}

		s.metrics.DBQueries.Inc()
		var row struct {
			ID       int64  `db:"id"`
			URL      string `db:"url"`
			IsActive bool   `db:"is_active"`
		}
		err = tx.GetContext(ctx, &row, `
INSERT INTO endpoints (environment_id, version, url, is_active)
VALUES ($1, $2, $3, true)
ON CONFLICT (environment_id, version)
DO UPDATE SET url = EXCLUDED.url, is_active = EXCLUDED.is_active, updated_at = now()
RETURNING id, url, is_active`, envID, key.Version, url)
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", key.Version, err)
		}

		route = &models.Route{RouteKey: key, URL: row.URL, Active: row.IsActive}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return route, nil
}

const environmentIDQuery = `
SELECT e.id
FROM tenants t
JOIN services s ON s.tenant_id = t.id
JOIN environments e ON e.service_id = s.id
WHERE t.name = $1
  AND s.name = $2
  AND e.name = $3`

const setEndpointActiveQuery = `
UPDATE endpoints
SET is_active = $3, updated_at = now()
WHERE environment_id = $1
  AND version = $2
RETURNING id, url`

// SetRouteActive flips the endpoint's active flag in one transaction,
// returning the route state after the update or models.ErrRouteNotFound
// when the key does not exist.
func (s *Store) SetRouteActive(ctx context.Context, key models.RouteKey, active bool) (*models.Route, error) {
	var route *models.Route
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		s.metrics.DBQueries.Inc()
		var envID int64
		err := tx.GetContext(ctx, &envID, environmentIDQuery, key.Tenant, key.Service, key.Env)
		if err == sql.ErrNoRows {
			return models.ErrRouteNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup environment %s: %w", key, err)
		}

		s.metrics.DBQueries.Inc()
		var row struct {
			ID  int64  `db:"id"`
			URL string `db:"url"`
		}
		err = tx.GetContext(ctx, &row, setEndpointActiveQuery, envID, key.Version, active)
		if err == sql.ErrNoRows {
			return models.ErrRouteNotFound
		}
		if err != nil {
			return fmt.Errorf("set active %s: %w", key, err)
		}

		route = &models.Route{RouteKey: key, URL: row.URL, Active: active}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return route, nil
}

// getOrCreate runs the conditional insert and falls back to the select
// when another transaction already created the row.
func (s *Store) getOrCreate(ctx context.Context, tx *sqlx.Tx, insert, sel string, args ...interface{}) (int64, error) {
	s.metrics.DBQueries.Inc()
	var id int64
	err := tx.GetContext(ctx, &id, insert, args...)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	s.metrics.DBQueries.Inc()
	if err := tx.GetContext(ctx, &id, sel, args...); err != nil {
		return 0, err
	}
	return id, nil
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", map[string]interface{}{"error": rbErr.Error()})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats exposes pool statistics for the metrics sampler.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
