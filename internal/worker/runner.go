package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// Consumer group types. Each type runs as its own consumer group, so
// every group sees every event.
const (
	TypeCacheInvalidation = "cache_invalidation"
	TypeCacheWarming      = "cache_warming"
	TypeAuditLog          = "audit_log"
)

// Types lists the valid consumer types in a stable order.
var Types = []string{TypeCacheInvalidation, TypeCacheWarming, TypeAuditLog}

// ValidType reports whether t names a consumer type.
func ValidType(t string) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Runner consumes the route events topic with one handler, as the
// consumer group derived from the configured prefix and its type.
type Runner struct {
	cfg     config.KafkaConfig
	typ     string
	handler Handler
	logger  observability.Logger
}

// NewRunner creates a runner for the given consumer type.
func NewRunner(cfg config.KafkaConfig, typ string, handler Handler, logger observability.Logger) (*Runner, error) {
	if !ValidType(typ) {
		return nil, fmt.Errorf("unknown consumer type %q", typ)
	}
	return &Runner{cfg: cfg, typ: typ, handler: handler, logger: logger}, nil
}

// GroupID returns the consumer group id for this runner.
func (r *Runner) GroupID() string {
	return r.cfg.ConsumerGroupPrefix + "-" + r.typ
}

func (r *Runner) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	if r.cfg.ConsumerAutoOffsetReset == "earliest" {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = r.cfg.ConsumerAutoCommit
	sc.Consumer.Return.Errors = true
	return sc
}

// Run consumes until ctx is cancelled. Rebalances restart the session
// loop; cancellation ends it.
func (r *Runner) Run(ctx context.Context) error {
	group, err := sarama.NewConsumerGroup(r.cfg.Brokers(), r.GroupID(), r.saramaConfig())
	if err != nil {
		return fmt.Errorf("create consumer group %s: %w", r.GroupID(), err)
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			r.logger.Error("consumer group error", map[string]interface{}{
				"group": r.GroupID(),
				"error": err.Error(),
			})
		}
	}()

	r.logger.Info("consumer started", map[string]interface{}{
		"group": r.GroupID(),
		"topic": r.cfg.Topic,
	})

	handler := &groupHandler{runner: r}
	for {
		if err := group.Consume(ctx, []string{r.cfg.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", r.GroupID(), err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// groupHandler adapts the Handler to sarama's session interface. A
// failed event is logged and skipped rather than retried forever, so
// one poison message cannot stall the partition.
type groupHandler struct {
	runner *Runner
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	r := h.runner
	for msg := range claim.Messages() {
		var ev events.RouteEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			r.logger.Error("malformed event skipped", map[string]interface{}{
				"group":     r.GroupID(),
				"partition": msg.Partition,
				"offset":    msg.Offset,
				"error":     err.Error(),
			})
			session.MarkMessage(msg, "")
			continue
		}

		ctx := session.Context()
		if ev.CorrelationID != nil {
			ctx = observability.WithCorrelationID(ctx, *ev.CorrelationID)
		}

		if err := r.handler.Handle(ctx, &ev); err != nil {
			r.logger.Error("event handling failed", map[string]interface{}{
				"group":    r.GroupID(),
				"event_id": ev.EventID,
				"action":   ev.Action,
				"error":    err.Error(),
			})
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
