// Package models holds the core domain types shared across the
// traffic-manager services: route identity, route state, and the
// business-level errors surfaced by the read and write engines.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRouteNotFound is returned when a resolution or state change addresses
// a route key that has no active row in the store.
var ErrRouteNotFound = errors.New("route not found")

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RouteKey is the four-part business identity of a route.
type RouteKey struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
	Env     string `json:"env"`
	Version string `json:"version"`
}

// Validate checks that all four parts are non-empty.
func (k RouteKey) Validate() error {
	if k.Tenant == "" || k.Service == "" || k.Env == "" || k.Version == "" {
		return NewValidationError("all of tenant, service, env and version are required")
	}
	return nil
}

// String renders the key in its log form, tenant/service/env/version.
func (k RouteKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Tenant, k.Service, k.Env, k.Version)
}

// PartitionKey renders the key in its colon form, used as the Kafka
// partition key so all events for one route land on one partition.
func (k RouteKey) PartitionKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Tenant, k.Service, k.Env, k.Version)
}

// CacheKey renders the Redis key for this route.
func (k RouteKey) CacheKey() string {
	return "route:" + k.PartitionKey()
}

// Route is a route key plus its current endpoint state.
type Route struct {
	RouteKey
	URL    string `json:"url"`
	Active bool   `json:"is_active"`
}

// ValidateURL checks the endpoint URL is non-empty after trimming.
func ValidateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return NewValidationError("URL cannot be empty")
	}
	return nil
}
