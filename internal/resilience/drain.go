package resilience

import (
	"sync"
	"time"

	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// DrainerConfig controls graceful shutdown draining.
type DrainerConfig struct {
	DrainTimeout  time.Duration
	CheckInterval time.Duration
}

// Drainer tracks in-flight requests and rejects new ones once shutdown
// has started, letting the process wait for the active ones to finish.
type Drainer struct {
	config DrainerConfig
	logger observability.Logger

	mu           sync.Mutex
	draining     bool
	inFlight     int
	drainStarted time.Time
}

// NewDrainer creates a drainer.
func NewDrainer(config DrainerConfig, logger observability.Logger) *Drainer {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 1 * time.Second
	}
	return &Drainer{config: config, logger: logger}
}

// BeginRequest registers an in-flight request. It fails with ErrDraining
// once StartDrain has been called.
func (d *Drainer) BeginRequest() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return ErrDraining
	}
	d.inFlight++
	return nil
}

// EndRequest unregisters an in-flight request.
func (d *Drainer) EndRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight > 0 {
		d.inFlight--
	}
}

// StartDrain switches the drainer into draining mode. Subsequent
// BeginRequest calls fail; requests already admitted continue.
func (d *Drainer) StartDrain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return
	}
	d.draining = true
	d.drainStarted = time.Now()
	d.logger.Info("drain started", map[string]interface{}{"in_flight": d.inFlight})
}

// AwaitDrain blocks until all in-flight requests have completed or the
// timeout elapses. It reports whether the drain completed cleanly.
func (d *Drainer) AwaitDrain(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = d.config.DrainTimeout
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		if d.InFlight() == 0 {
			d.logger.Info("drain complete", nil)
			return true
		}
		if time.Now().After(deadline) {
			d.logger.Warn("drain timed out", map[string]interface{}{"in_flight": d.InFlight()})
			return false
		}
		<-ticker.C
	}
}

// IsDraining reports whether draining has started.
func (d *Drainer) IsDraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

// InFlight reports the number of requests currently admitted.
func (d *Drainer) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Snapshot reports the drainer state for the resilience endpoint.
func (d *Drainer) Snapshot() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := map[string]interface{}{
		"draining":              d.draining,
		"in_flight_requests":    d.inFlight,
		"drain_timeout_seconds": d.config.DrainTimeout.Seconds(),
	}
	if d.draining {
		snap["drain_started_at"] = d.drainStarted.UTC().Format(time.RFC3339)
	} else {
		snap["drain_started_at"] = nil
	}
	return snap
}
