// Package cache provides the Redis-backed route cache with negative
// caching for keys known to have no active route.
package cache

import "context"

// LookupStatus classifies a cache read.
type LookupStatus int

const (
	// Miss means the key is not cached.
	Miss LookupStatus = iota
	// Hit means the key is cached with a resolved URL.
	Hit
	// NegativeHit means the key is cached as known-absent.
	NegativeHit
)

// Lookup is the result of a cache read.
type Lookup struct {
	Status LookupStatus
	URL    string
}

// Cache is the route cache used by the resolver and the event consumers.
type Cache interface {
	// Get reads the cached entry for key.
	Get(ctx context.Context, key string) (Lookup, error)
	// Set stores a resolved URL under key with the positive TTL.
	Set(ctx context.Context, key, url string) error
	// SetNegative stores the known-absent marker under key with the
	// negative TTL.
	SetNegative(ctx context.Context, key string) error
	// Delete removes key so the next read falls through to the store.
	Delete(ctx context.Context, key string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying client.
	Close() error
}
