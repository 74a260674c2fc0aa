package observability

import (
	"context"
	"database/sql"
	"time"
)

// SamplerSources supplies the live readings the gauge sampler polls.
// Nil members are skipped, which lets single-purpose processes (the
// consumers) reuse the sampler with a partial set.
type SamplerSources struct {
	DBStats       func() sql.DBStats
	CachePing     func(ctx context.Context) error
	ProducerReady func() bool
}

// StartSampler refreshes the gauge metrics from the live clients on the
// given interval until ctx is cancelled.
func (m *Metrics) StartSampler(ctx context.Context, interval time.Duration, src SamplerSources, logger Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Take one reading immediately so gauges are live before the
		// first tick.
		m.sample(ctx, src)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample(ctx, src)
				logger.Debug("system metrics updated", nil)
			}
		}
	}()
}

func (m *Metrics) sample(ctx context.Context, src SamplerSources) {
	if src.DBStats != nil {
		stats := src.DBStats()
		m.DBPoolSize.Set(float64(stats.MaxOpenConnections))
		m.DBPoolInUse.Set(float64(stats.InUse))
		m.DBPoolAvailable.Set(float64(stats.MaxOpenConnections - stats.InUse))
	}

	if src.CachePing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := src.CachePing(pingCtx); err != nil {
			m.CacheConnected.Set(0)
		} else {
			m.CacheConnected.Set(1)
		}
		cancel()
	}

	if src.ProducerReady != nil {
		if src.ProducerReady() {
			m.KafkaProducerReady.Set(1)
		} else {
			m.KafkaProducerReady.Set(0)
		}
	}

	m.ApplicationUptime.Set(m.Uptime())
}
