// Package resilience implements the four reliability primitives that
// mediate every external call: circuit breakers, retry budgets, bulkheads
// and the graceful drainer, plus the manager that aggregates the named
// instances for the /health/resilience snapshot.
package resilience

import (
	"sync"
	"time"

	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig controls when a breaker trips and how it recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of in-window failures that opens
	// the circuit.
	FailureThreshold int
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Window bounds how long a failure counts against the threshold.
	Window time.Duration
	// MinCalls is the minimum total calls before the circuit may open.
	MinCalls int
}

// CircuitBreaker gates calls to one named dependency. Failures are
// timestamped and expired lazily against the rolling window; while open,
// calls fail fast with ErrCircuitOpen until the timeout elapses and a
// single half-open probe is let through.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger observability.Logger

	mu           sync.Mutex
	state        State
	failures     []time.Time
	successCount int64
	totalCalls   int64
	lastOpenTime time.Time
	probing      bool

	now func() time.Time
}

// NewCircuitBreaker creates a breaker with the given name and config.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.MinCalls <= 0 {
		config.MinCalls = 10
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Call invokes fn under the breaker. The wrapped operation runs outside
// the lock. A fn error counts as a failure; ErrCircuitOpen is returned
// without invoking fn when the circuit rejects the call.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	now := cb.now()

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastOpenTime) < cb.config.Timeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		// Timeout elapsed: this call becomes the recovery probe.
		cb.state = StateHalfOpen
		cb.failures = cb.failures[:0]
		cb.probing = true
		cb.logger.Info("circuit breaker half-open, probing", map[string]interface{}{"name": cb.name})
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}

	probe := cb.state == StateHalfOpen
	cb.totalCalls++
	cb.mu.Unlock()

	// A panic in fn must still settle the breaker, or a half-open probe
	// would leave probing set and wedge the circuit until Reset.
	settled := false
	defer func() {
		if settled {
			return
		}
		cb.mu.Lock()
		if probe {
			cb.probing = false
		}
		cb.onFailure(cb.now(), probe)
		cb.mu.Unlock()
	}()

	err := fn()
	settled = true

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}
	if err != nil {
		cb.onFailure(cb.now(), probe)
		return err
	}
	cb.onSuccess(probe)
	return nil
}

func (cb *CircuitBreaker) onSuccess(probe bool) {
	cb.successCount++
	if probe && cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.failures = cb.failures[:0]
		cb.logger.Info("circuit breaker closed after successful probe", map[string]interface{}{"name": cb.name})
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time, probe bool) {
	if probe && cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.lastOpenTime = now
		cb.logger.Warn("circuit breaker re-opened, probe failed", map[string]interface{}{"name": cb.name})
		return
	}

	cb.failures = append(cb.failures, now)
	cb.expireFailures(now)

	if cb.totalCalls >= int64(cb.config.MinCalls) && len(cb.failures) >= cb.config.FailureThreshold {
		cb.state = StateOpen
		cb.lastOpenTime = now
		cb.logger.Warn("circuit breaker opened", map[string]interface{}{
			"name":      cb.name,
			"failures":  len(cb.failures),
			"threshold": cb.config.FailureThreshold,
		})
	}
}

// expireFailures drops timestamps older than the rolling window.
// Caller holds the lock.
func (cb *CircuitBreaker) expireFailures(now time.Time) {
	cutoff := now.Add(-cb.config.Window)
	kept := cb.failures[:0]
	for _, ts := range cb.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	cb.failures = kept
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed with a clean failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = cb.failures[:0]
	cb.probing = false
}

// Snapshot reports the breaker state for the resilience endpoint.
func (cb *CircuitBreaker) Snapshot() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireFailures(cb.now())

	var lastOpen interface{}
	if !cb.lastOpenTime.IsZero() {
		lastOpen = cb.lastOpenTime.UTC().Format(time.RFC3339)
	}
	return map[string]interface{}{
		"name":           cb.name,
		"state":          cb.state.String(),
		"failure_count":  len(cb.failures),
		"success_count":  cb.successCount,
		"total_calls":    cb.totalCalls,
		"last_open_time": lastOpen,
		"config": map[string]interface{}{
			"failure_threshold": cb.config.FailureThreshold,
			"timeout_seconds":   cb.config.Timeout.Seconds(),
			"window_seconds":    cb.config.Window.Seconds(),
			"min_calls":         cb.config.MinCalls,
		},
	}
}
