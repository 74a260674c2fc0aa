package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// Publisher publishes route events. The write path treats publication
// as best effort: a failed publish never fails the write.
type Publisher interface {
	Publish(ctx context.Context, ev *RouteEvent) error
	Ready() bool
	Close() error
}

// KafkaProducer publishes route events through a synchronous sarama
// producer. The connection is established lazily on the first publish
// so the service can start while the brokers are down.
type KafkaProducer struct {
	cfg     config.KafkaConfig
	metrics *observability.Metrics
	logger  observability.Logger

	mu       sync.Mutex
	producer sarama.SyncProducer
}

// NewKafkaProducer creates a producer without connecting.
func NewKafkaProducer(cfg config.KafkaConfig, metrics *observability.Metrics, logger observability.Logger) *KafkaProducer {
	return &KafkaProducer{cfg: cfg, metrics: metrics, logger: logger}
}

func (p *KafkaProducer) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0

	switch p.cfg.Acks {
	case "all", "-1":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "0":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}
	sc.Producer.Retry.Max = p.cfg.Retries
	sc.Producer.Return.Successes = true
	sc.Producer.Timeout = p.cfg.RequestTimeout
	if p.cfg.Idempotent {
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	}
	return sc
}

// connect establishes the producer if it is not connected yet. Held
// under the mutex by the caller.
func (p *KafkaProducer) connectLocked() error {
	if p.producer != nil {
		return nil
	}

	var producer sarama.SyncProducer
	op := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(p.cfg.Brokers(), p.saramaConfig())
		return err
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		return fmt.Errorf("connect kafka producer: %w", err)
	}

	p.producer = producer
	p.metrics.KafkaProducerReady.Set(1)
	p.logger.Info("kafka producer connected", map[string]interface{}{
		"brokers": p.cfg.BootstrapServers,
		"topic":   p.cfg.Topic,
	})
	return nil
}

// Publish serializes ev and sends it, keyed by the route partition key.
// The sarama producer is thread-safe, so only connection establishment
// is held under the mutex.
func (p *KafkaProducer) Publish(ctx context.Context, ev *RouteEvent) error {
	p.mu.Lock()
	if err := p.connectLocked(); err != nil {
		p.mu.Unlock()
		p.metrics.KafkaEventsFailed.WithLabelValues(ev.Action).Inc()
		return err
	}
	producer := p.producer
	p.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.metrics.KafkaEventsFailed.WithLabelValues(ev.Action).Inc()
		return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.cfg.Topic,
		Key:   sarama.StringEncoder(ev.PartitionKey()),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		p.metrics.KafkaEventsFailed.WithLabelValues(ev.Action).Inc()
		return fmt.Errorf("publish event %s: %w", ev.EventID, err)
	}

	p.metrics.KafkaEventsPublished.WithLabelValues(ev.Action).Inc()
	p.logger.Debug("event published", map[string]interface{}{
		"event_id":  ev.EventID,
		"action":    ev.Action,
		"partition": partition,
		"offset":    offset,
	})
	return nil
}

// Ready reports whether the producer has connected.
func (p *KafkaProducer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producer != nil
}

// Close shuts the producer down if it was connected.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer == nil {
		return nil
	}
	err := p.producer.Close()
	p.producer = nil
	p.metrics.KafkaProducerReady.Set(0)
	return err
}
