package resilience

import (
	"sync"
	"time"

	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// RetryBudgetConfig bounds retries against one dependency within a
// rolling window.
type RetryBudgetConfig struct {
	MaxRetries       int
	Window           time.Duration
	MinRetryInterval time.Duration
}

// RetryBudget prevents retry storms: once the in-window retry count
// reaches MaxRetries, further retries are refused until old entries
// expire out of the window.
type RetryBudget struct {
	name   string
	config RetryBudgetConfig
	logger observability.Logger

	mu           sync.Mutex
	timestamps   []time.Time
	totalRetries int64

	now func() time.Time
}

// NewRetryBudget creates a budget with the given name and config.
func NewRetryBudget(name string, config RetryBudgetConfig, logger observability.Logger) *RetryBudget {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 100
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.MinRetryInterval <= 0 {
		config.MinRetryInterval = 100 * time.Millisecond
	}
	return &RetryBudget{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// MinRetryInterval returns the configured pause between retries.
func (rb *RetryBudget) MinRetryInterval() time.Duration {
	return rb.config.MinRetryInterval
}

// CanRetry reports whether the budget currently permits a retry.
func (rb *RetryBudget) CanRetry() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.remainingLocked(rb.now()) > 0
}

// RecordRetry consumes one unit of budget. The check and the append
// happen under one lock so the budget cannot be exceeded between a
// CanRetry and a RecordRetry.
func (rb *RetryBudget) RecordRetry() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	now := rb.now()
	if rb.remainingLocked(now) <= 0 {
		rb.logger.Warn("retry budget exhausted", map[string]interface{}{
			"name":        rb.name,
			"max_retries": rb.config.MaxRetries,
		})
		return ErrRetryBudgetExceeded
	}
	rb.timestamps = append(rb.timestamps, now)
	rb.totalRetries++
	return nil
}

// remainingLocked expires stale entries and returns the unused budget.
// Caller holds the lock.
func (rb *RetryBudget) remainingLocked(now time.Time) int {
	cutoff := now.Add(-rb.config.Window)
	kept := rb.timestamps[:0]
	for _, ts := range rb.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rb.timestamps = kept
	return rb.config.MaxRetries - len(rb.timestamps)
}

// Snapshot reports the budget state for the resilience endpoint.
func (rb *RetryBudget) Snapshot() map[string]interface{} {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	remaining := rb.remainingLocked(rb.now())
	current := rb.config.MaxRetries - remaining
	used := 0.0
	if rb.config.MaxRetries > 0 {
		used = float64(current) / float64(rb.config.MaxRetries) * 100
	}
	return map[string]interface{}{
		"name":             rb.name,
		"current_retries":  current,
		"max_retries":      rb.config.MaxRetries,
		"budget_used":      used,
		"budget_remaining": remaining,
		"total_retries":    rb.totalRetries,
		"window_seconds":   rb.config.Window.Seconds(),
	}
}
