package resilience

import "errors"

// ErrCircuitOpen is returned when a circuit breaker rejects a call
// without invoking the wrapped operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrBulkheadFull is returned when no bulkhead slot became available
// within the configured wait time.
var ErrBulkheadFull = errors.New("bulkhead is full")

// ErrDraining is returned when a request arrives after draining started.
var ErrDraining = errors.New("server is draining")

// ErrRetryBudgetExceeded is returned when the rolling retry window is
// exhausted.
var ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
