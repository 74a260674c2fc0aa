// Package routing implements the read and write engines that sit
// between the HTTP surface and the storage layers.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/meshcontrol/traffic-manager/internal/cache"
	"github.com/meshcontrol/traffic-manager/internal/models"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
)

// Store is the slice of the database layer the engines need.
type Store interface {
	ResolveActiveURL(ctx context.Context, key models.RouteKey) (string, error)
	CreateRoute(ctx context.Context, key models.RouteKey, url string) (*models.Route, error)
	SetRouteActive(ctx context.Context, key models.RouteKey, active bool) (*models.Route, error)
}

// Resolution source values reported to clients.
const (
	SourceCache         = "cache"
	SourceDatabase      = "database"
	SourceCacheFallback = "cache_fallback"
)

// Resolution is a successful resolve result.
type Resolution struct {
	URL    string
	Source string
}

// Resolver implements the read path: cache first, database on miss,
// with negative caching and a stale-cache fallback when the database
// circuit is open.
type Resolver struct {
	cache        cache.Cache
	store        Store
	dbCircuit    *resilience.CircuitBreaker
	cacheCircuit *resilience.CircuitBreaker
	dbBudget     *resilience.RetryBudget
	cacheBudget  *resilience.RetryBudget
	metrics      *observability.Metrics
	logger       observability.Logger
}

// NewResolver wires the read engine.
func NewResolver(
	c cache.Cache,
	store Store,
	manager *resilience.Manager,
	metrics *observability.Metrics,
	logger observability.Logger,
) *Resolver {
	return &Resolver{
		cache:        c,
		store:        store,
		dbCircuit:    manager.DBCircuit,
		cacheCircuit: manager.CacheCircuit,
		dbBudget:     manager.DBRetryBudget,
		cacheBudget:  manager.CacheRetryBudget,
		metrics:      metrics,
		logger:       logger,
	}
}

// Resolve returns the active endpoint URL for key. It returns
// models.ErrRouteNotFound when no active route exists, and
// resilience.ErrCircuitOpen when the database is unavailable and the
// cache holds nothing for the key.
func (r *Resolver) Resolve(ctx context.Context, key models.RouteKey) (*Resolution, error) {
	r.metrics.ResolveRequests.Inc()
	start := time.Now()
	defer func() {
		r.metrics.ResolveLatency.Observe(time.Since(start).Seconds())
	}()

	if err := key.Validate(); err != nil {
		return nil, err
	}
	cacheKey := key.CacheKey()

	lookup := r.cacheRead(ctx, cacheKey)
	switch lookup.Status {
	case cache.Hit:
		r.metrics.ResolveCacheHit.Inc()
		// With the database circuit open every cache-served answer is a
		// fallback, so clients see the marker even on a plain hit.
		if r.dbCircuit.State() == resilience.StateOpen {
			return &Resolution{URL: lookup.URL, Source: SourceCacheFallback}, nil
		}
		return &Resolution{URL: lookup.URL, Source: SourceCache}, nil
	case cache.NegativeHit:
		r.metrics.ResolveNegativeCacheHit.Inc()
		return nil, models.ErrRouteNotFound
	}
	r.metrics.ResolveCacheMiss.Inc()

	url, err := r.resolveFromStore(ctx, key)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// The database is down. Serve whatever the cache still holds,
		// even if the circuit-protected read above failed.
		if fallback, cerr := r.cache.Get(ctx, cacheKey); cerr == nil && fallback.Status == cache.Hit {
			r.logger.Warn("serving from cache with database circuit open", map[string]interface{}{
				"route": key.String(),
			})
			return &Resolution{URL: fallback.URL, Source: SourceCacheFallback}, nil
		}
		return nil, err
	}
	if errors.Is(err, models.ErrRouteNotFound) {
		r.storeNegative(ctx, cacheKey)
		return nil, models.ErrRouteNotFound
	}
	if err != nil {
		return nil, err
	}

	r.storePositive(ctx, cacheKey, url)
	return &Resolution{URL: url, Source: SourceDatabase}, nil
}

// cacheRead performs the circuit-protected cache lookup. Any failure,
// including an open cache circuit, degrades to a miss.
func (r *Resolver) cacheRead(ctx context.Context, cacheKey string) cache.Lookup {
	var lookup cache.Lookup
	err := r.cacheCircuit.Call(func() error {
		var err error
		lookup, err = r.cache.Get(ctx, cacheKey)
		return err
	})
	if err == nil {
		return lookup
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) && r.cacheBudget.CanRetry() {
		if r.cacheBudget.RecordRetry() == nil {
			time.Sleep(r.cacheBudget.MinRetryInterval())
			rerr := r.cacheCircuit.Call(func() error {
				var cerr error
				lookup, cerr = r.cache.Get(ctx, cacheKey)
				return cerr
			})
			if rerr == nil {
				return lookup
			}
		}
	}
	r.logger.Warn("cache read failed, treating as miss", map[string]interface{}{
		"key":   cacheKey,
		"error": err.Error(),
	})
	return cache.Lookup{Status: cache.Miss}
}

// resolveFromStore runs the database lookup through the circuit breaker
// with one budgeted retry on transient failures. A missing route is a
// business outcome, not a database failure, so it never counts against
// the circuit.
func (r *Resolver) resolveFromStore(ctx context.Context, key models.RouteKey) (string, error) {
	attempt := func() (string, error) {
		var url string
		var notFound bool
		err := r.dbCircuit.Call(func() error {
			resolved, err := r.store.ResolveActiveURL(ctx, key)
			if errors.Is(err, models.ErrRouteNotFound) {
				notFound = true
				return nil
			}
			if err != nil {
				return err
			}
			url = resolved
			return nil
		})
		if err != nil {
			return "", err
		}
		if notFound {
			return "", models.ErrRouteNotFound
		}
		return url, nil
	}

	url, err := attempt()
	if err == nil || errors.Is(err, models.ErrRouteNotFound) || errors.Is(err, resilience.ErrCircuitOpen) {
		return url, err
	}

	if r.dbBudget.CanRetry() && r.dbBudget.RecordRetry() == nil {
		time.Sleep(r.dbBudget.MinRetryInterval())
		r.logger.Warn("retrying database resolve", map[string]interface{}{
			"route": key.String(),
			"error": err.Error(),
		})
		return attempt()
	}
	return "", err
}

func (r *Resolver) storePositive(ctx context.Context, cacheKey, url string) {
	if err := r.cache.Set(ctx, cacheKey, url); err != nil {
		r.logger.Warn("cache set failed", map[string]interface{}{
			"key":   cacheKey,
			"error": err.Error(),
		})
	}
}

func (r *Resolver) storeNegative(ctx context.Context, cacheKey string) {
	if err := r.cache.SetNegative(ctx, cacheKey); err != nil {
		r.logger.Warn("negative cache set failed", map[string]interface{}{
			"key":   cacheKey,
			"error": err.Error(),
		})
	}
}
