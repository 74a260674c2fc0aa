// Command server runs the traffic-manager HTTP service: route
// resolution, route mutation, audit queries and health endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meshcontrol/traffic-manager/internal/api"
	"github.com/meshcontrol/traffic-manager/internal/audit"
	"github.com/meshcontrol/traffic-manager/internal/cache"
	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/database"
	"github.com/meshcontrol/traffic-manager/internal/events"
	"github.com/meshcontrol/traffic-manager/internal/observability"
	"github.com/meshcontrol/traffic-manager/internal/resilience"
	"github.com/meshcontrol/traffic-manager/internal/routing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("server").Error("configuration invalid", map[string]interface{}{
			"error": err.Error(),
		})
		return 1
	}

	logger := observability.NewLoggerWithLevel("server", observability.ParseLogLevel(cfg.App.LogLevel))
	metrics := observability.NewMetrics()
	manager := resilience.NewManager(logger)

	store, err := database.New(cfg.Database, metrics, logger)
	if err != nil {
		logger.Error("database unavailable", map[string]interface{}{"error": err.Error()})
		return 1
	}
	defer store.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, cfg.App.PositiveCacheTTL, cfg.App.NegativeCacheTTL, logger)
	defer redisCache.Close()

	producer := events.NewKafkaProducer(cfg.Kafka, metrics, logger)
	auditStore := audit.NewStore(cfg.Mongo, logger)

	resolver := routing.NewResolver(redisCache, store, manager, metrics, logger)
	writer := routing.NewWriter(store, producer, manager, metrics, logger)

	server := api.NewServer(api.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Resilience: manager,
		Resolver:   resolver,
		Writer:     writer,
		DB:         store,
		Cache:      redisCache,
		Producer:   producer,
		Audit:      auditStore,
		AuditPing:  auditStore,
	})

	samplerCtx, stopSampler := context.WithCancel(context.Background())
	defer stopSampler()
	metrics.StartSampler(samplerCtx, 30*time.Second, observability.SamplerSources{
		DBStats:       store.Stats,
		CachePing:     redisCache.Ping,
		ProducerReady: producer.Ready,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", map[string]interface{}{"error": err.Error()})
			return 1
		}
		return 0
	case sig := <-sigCh:
		logger.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})
	}

	manager.Drainer.StartDrain()
	manager.Drainer.AwaitDrain(0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
	}

	if err := producer.Close(); err != nil {
		logger.Warn("producer close failed", map[string]interface{}{"error": err.Error()})
	}
	if err := auditStore.Close(shutdownCtx); err != nil {
		logger.Warn("audit store close failed", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("shutdown complete", nil)
	return 0
}
