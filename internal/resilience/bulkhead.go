package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// BulkheadConfig caps concurrency for one operation class.
type BulkheadConfig struct {
	MaxConcurrent int
	MaxWait       time.Duration
}

// Bulkhead is a counting semaphore with a bounded acquisition wait. It
// isolates operation classes so a spike in one cannot exhaust the
// workers serving another.
type Bulkhead struct {
	name   string
	config BulkheadConfig
	logger observability.Logger

	sem           chan struct{}
	totalAccepted int64
	totalRejected int64
}

// NewBulkhead creates a bulkhead with the given name and config.
func NewBulkhead(name string, config BulkheadConfig, logger observability.Logger) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 5 * time.Second
	}
	return &Bulkhead{
		name:   name,
		config: config,
		logger: logger,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire takes a slot, waiting up to MaxWait. It fails with
// ErrBulkheadFull on timeout and with the context error on cancellation.
// Every successful Acquire must be paired with a Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		atomic.AddInt64(&b.totalAccepted, 1)
		return nil
	default:
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		atomic.AddInt64(&b.totalAccepted, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&b.totalRejected, 1)
		b.logger.Warn("bulkhead rejected request", map[string]interface{}{
			"name":           b.name,
			"max_concurrent": b.config.MaxConcurrent,
		})
		return ErrBulkheadFull
	case <-ctx.Done():
		atomic.AddInt64(&b.totalRejected, 1)
		return ctx.Err()
	}
}

// Release returns a slot.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
	default:
		// Release without a matching Acquire indicates a caller bug.
		b.logger.Error("bulkhead release without acquire", map[string]interface{}{"name": b.name})
	}
}

// Execute runs fn inside the bulkhead. The slot is released on every
// exit path, including panics.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn()
}

// InUse reports the number of slots currently held.
func (b *Bulkhead) InUse() int {
	return len(b.sem)
}

// Snapshot reports the bulkhead state for the resilience endpoint.
func (b *Bulkhead) Snapshot() map[string]interface{} {
	inUse := b.InUse()
	utilization := float64(inUse) / float64(b.config.MaxConcurrent) * 100
	return map[string]interface{}{
		"name":             b.name,
		"in_use":           inUse,
		"max_concurrent":   b.config.MaxConcurrent,
		"utilization":      utilization,
		"max_wait_seconds": b.config.MaxWait.Seconds(),
		"total_accepted":   atomic.LoadInt64(&b.totalAccepted),
		"total_rejected":   atomic.LoadInt64(&b.totalRejected),
	}
}
