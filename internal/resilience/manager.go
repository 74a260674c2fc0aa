package resilience

import (
	"time"

	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// Manager owns every resilience primitive in the process and exposes a
// combined snapshot for the /health/resilience endpoint. Components
// pick the primitives they need off the manager rather than building
// their own, so the snapshot always reflects live state.
type Manager struct {
	DBCircuit    *CircuitBreaker
	CacheCircuit *CircuitBreaker
	AuditCircuit *CircuitBreaker

	DBRetryBudget    *RetryBudget
	CacheRetryBudget *RetryBudget

	ReadBulkhead  *Bulkhead
	WriteBulkhead *Bulkhead
	AuditBulkhead *Bulkhead

	Drainer *Drainer
}

// NewManager builds a manager with the standard protection profile for
// each downstream dependency.
func NewManager(logger observability.Logger) *Manager {
	return &Manager{
		DBCircuit: NewCircuitBreaker("database", CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
			Window:           60 * time.Second,
			MinCalls:         10,
		}, logger),
		CacheCircuit: NewCircuitBreaker("redis", CircuitBreakerConfig{
			FailureThreshold: 10,
			Timeout:          30 * time.Second,
			Window:           60 * time.Second,
			MinCalls:         20,
		}, logger),
		AuditCircuit: NewCircuitBreaker("mongodb", CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
			Window:           60 * time.Second,
			MinCalls:         10,
		}, logger),

		DBRetryBudget: NewRetryBudget("database", RetryBudgetConfig{
			MaxRetries:       100,
			Window:           60 * time.Second,
			MinRetryInterval: 100 * time.Millisecond,
		}, logger),
		CacheRetryBudget: NewRetryBudget("redis", RetryBudgetConfig{
			MaxRetries:       200,
			Window:           60 * time.Second,
			MinRetryInterval: 50 * time.Millisecond,
		}, logger),

		ReadBulkhead: NewBulkhead("read_operations", BulkheadConfig{
			MaxConcurrent: 20,
			MaxWait:       5 * time.Second,
		}, logger),
		WriteBulkhead: NewBulkhead("write_operations", BulkheadConfig{
			MaxConcurrent: 5,
			MaxWait:       10 * time.Second,
		}, logger),
		AuditBulkhead: NewBulkhead("audit_operations", BulkheadConfig{
			MaxConcurrent: 10,
			MaxWait:       5 * time.Second,
		}, logger),

		Drainer: NewDrainer(DrainerConfig{
			DrainTimeout:  30 * time.Second,
			CheckInterval: 1 * time.Second,
		}, logger),
	}
}

// Snapshot reports the state of every primitive, grouped by kind.
func (m *Manager) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"circuit_breakers": map[string]interface{}{
			"database": m.DBCircuit.Snapshot(),
			"redis":    m.CacheCircuit.Snapshot(),
			"mongodb":  m.AuditCircuit.Snapshot(),
		},
		"retry_budgets": map[string]interface{}{
			"database": m.DBRetryBudget.Snapshot(),
			"redis":    m.CacheRetryBudget.Snapshot(),
		},
		"bulkheads": map[string]interface{}{
			"read_operations":  m.ReadBulkhead.Snapshot(),
			"write_operations": m.WriteBulkhead.Snapshot(),
			"audit_operations": m.AuditBulkhead.Snapshot(),
		},
		"graceful_draining": m.Drainer.Snapshot(),
	}
}
