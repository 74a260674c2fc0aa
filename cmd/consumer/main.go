// Command consumer runs one route-event consumer group. The single
// argument selects the group: cache_invalidation, cache_warming or
// audit_log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meshcontrol/traffic-manager/internal/audit"
	"github.com/meshcontrol/traffic-manager/internal/cache"
	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/database"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
	"github.com/meshcontrol/traffic-manager/internal/routing"
	"github.com/meshcontrol/traffic-manager/internal/worker"
)

func main() {
	os.Exit(run())
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: consumer <%s>\n", strings.Join(worker.Types, "|"))
}

func run() int {
	if len(os.Args) != 2 || !worker.ValidType(os.Args[1]) {
		usage()
		return 1
	}
	consumerType := os.Args[1]

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("consumer").Error("configuration invalid", map[string]interface{}{
			"error": err.Error(),
		})
		return 1
	}

	logger := observability.NewLoggerWithLevel(
		"consumer."+consumerType, observability.ParseLogLevel(cfg.App.LogLevel))
	metrics := observability.NewMetrics()
	manager := resilience.NewManager(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := buildHandler(cfg, consumerType, manager, metrics, logger)
	if err != nil {
		logger.Error("handler construction failed", map[string]interface{}{"error": err.Error()})
		return 1
	}
	defer cleanup()

	runner, err := worker.NewRunner(cfg.Kafka, consumerType, handler, logger)
	if err != nil {
		logger.Error("runner construction failed", map[string]interface{}{"error": err.Error()})
		return 1
	}

	if err := runner.Run(ctx); err != nil {
		logger.Error("consumer failed", map[string]interface{}{"error": err.Error()})
		return 1
	}

	logger.Info("consumer stopped", nil)
	return 0
}

// buildHandler constructs only the dependencies the chosen consumer
// type needs, and returns a cleanup that closes them in reverse order.
func buildHandler(
	cfg *config.Config,
	consumerType string,
	manager *resilience.Manager,
	metrics *observability.Metrics,
	logger observability.Logger,
) (worker.Handler, func(), error) {
	switch consumerType {
	case worker.TypeCacheInvalidation:
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.App.PositiveCacheTTL, cfg.App.NegativeCacheTTL, logger)
		return worker.NewInvalidator(redisCache, logger), func() {
			redisCache.Close()
		}, nil

	case worker.TypeCacheWarming:
		store, err := database.New(cfg.Database, metrics, logger)
		if err != nil {
			return nil, nil, err
		}
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.App.PositiveCacheTTL, cfg.App.NegativeCacheTTL, logger)
		resolver := routing.NewResolver(redisCache, store, manager, metrics, logger)
		return worker.NewWarmer(resolver, logger), func() {
			redisCache.Close()
			store.Close()
		}, nil

	case worker.TypeAuditLog:
		auditStore := audit.NewStore(cfg.Mongo, logger)
		return worker.NewAuditor(auditStore, manager, logger), func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
			defer cancel()
			auditStore.Close(ctx)
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown consumer type %q", consumerType)
}
