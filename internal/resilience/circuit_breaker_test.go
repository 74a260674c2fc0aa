package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcontrol/traffic-manager/internal/observability"
)

var errBoom = errors.New("boom")

func testBreaker(t *testing.T, cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	t.Helper()
	cb := NewCircuitBreaker("test", cfg, observability.NewLogger("test"))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }
	return cb, &clock
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Call(func() error { return errBoom })
	}
}

func TestCircuitBreakerStaysClosedUnderThreshold(t *testing.T) {
	cb, _ := testBreaker(t, CircuitBreakerConfig{FailureThreshold: 3, MinCalls: 1})

	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := testBreaker(t, CircuitBreakerConfig{FailureThreshold: 3, MinCalls: 1})

	failN(cb, 3)
	assert.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Call(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "open circuit must not invoke the operation")
}

func TestCircuitBreakerRespectsMinCalls(t *testing.T) {
	cb, _ := testBreaker(t, CircuitBreakerConfig{FailureThreshold: 2, MinCalls: 10})

	failN(cb, 5)
	assert.Equal(t, StateClosed, cb.State(), "too few total calls to open")
}

func TestCircuitBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	cb, clock := testBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 2, MinCalls: 1, Timeout: 30 * time.Second,
	})

	failN(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	*clock = clock.Add(31 * time.Second)
	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	cb, clock := testBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 2, MinCalls: 1, Timeout: 30 * time.Second,
	})

	failN(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	*clock = clock.Add(31 * time.Second)
	err := cb.Call(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// Still open: timeout restarts from the failed probe.
	err = cb.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerProbePanicReopensCircuit(t *testing.T) {
	cb, clock := testBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 2, MinCalls: 1, Timeout: 30 * time.Second,
	})

	failN(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	*clock = clock.Add(31 * time.Second)
	assert.Panics(t, func() {
		cb.Call(func() error { panic("handler blew up") })
	})

	// The panicked probe counts as a failure: the circuit re-opens and
	// the timeout still grants a fresh probe later.
	assert.Equal(t, StateOpen, cb.State())
	err := cb.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	*clock = clock.Add(31 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerClosedCallPanicCountsAsFailure(t *testing.T) {
	cb, _ := testBreaker(t, CircuitBreakerConfig{FailureThreshold: 2, MinCalls: 1})

	for i := 0; i < 2; i++ {
		assert.Panics(t, func() {
			cb.Call(func() error { panic("boom") })
		})
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerFailuresExpireFromWindow(t *testing.T) {
	cb, clock := testBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 3, MinCalls: 1, Window: 60 * time.Second,
	})

	failN(cb, 2)
	*clock = clock.Add(61 * time.Second)
	failN(cb, 1)

	assert.Equal(t, StateClosed, cb.State(), "stale failures must not count")
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := testBreaker(t, CircuitBreakerConfig{FailureThreshold: 1, MinCalls: 1})

	failN(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
}

func TestCircuitBreakerSnapshot(t *testing.T) {
	cb, _ := testBreaker(t, CircuitBreakerConfig{FailureThreshold: 5, MinCalls: 1})

	cb.Call(func() error { return nil })
	cb.Call(func() error { return errBoom })

	snap := cb.Snapshot()
	assert.Equal(t, "test", snap["name"])
	assert.Equal(t, "closed", snap["state"])
	assert.Equal(t, 1, snap["failure_count"])
	assert.Equal(t, int64(1), snap["success_count"])
	assert.Equal(t, int64(2), snap["total_calls"])
}
