package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tiercache/internal/cache"
	"tiercache/internal/circuitbreaker"
	"tiercache/internal/common/logging"
	"tiercache/internal/config"
	"tiercache/internal/metrics"
	"tiercache/internal/remote"
	"tiercache/internal/server"
	"tiercache/internal/warmup"
)

func main() {
	// .env is optional; deployments usually set the environment directly
	_ = godotenv.Load()

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	// Remote tier is optional; without it the cache serves from L1 alone
	var store remote.Store
	if cfg.RemoteEnabled() {
		redisStore, err := remote.NewRedisStore(&remote.Config{
			Address:      cfg.RedisAddress,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			KeyPrefix:    cfg.RedisKeyPrefix,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
			OpTimeout:    cfg.RedisOpTimeout,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize redis store: %v", err)
		}
		store = redisStore
	} else {
		logger.Warn("no REDIS_ADDRESS configured, running L1-only")
	}

	// Circuit breaker guarding the remote tier
	breaker := circuitbreaker.ForEngine(
		circuitbreaker.Engine(cfg.BreakerEngine),
		"remote-cache",
		circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
			HalfOpenTrials:   cfg.BreakerHalfOpenTrials,
		},
		logger,
	)

	// TTL table: defaults merged with any per-data-type overrides
	ttlTable := cache.DefaultTTLTable()
	overrides, err := config.ParseTTLOverrides(cfg.TTLOverrides)
	if err != nil {
		log.Fatalf("Invalid TTL overrides: %v", err)
	}
	for dataType, ttl := range overrides {
		ttlTable[dataType] = ttl
	}

	manager := cache.NewManager(cache.Options{
		L1MaxSize:            cfg.L1MaxSize,
		CompressionThreshold: cfg.CompressionThreshold,
		TTLTable:             ttlTable,
		Remote:               store,
		Breaker:              breaker,
		Logger:               logger,
	})
	defer manager.Close()

	// Cache warming: tasks are registered by embedding code or triggered
	// manually through POST /warm; the cron schedule re-runs them
	warmer := warmup.New(logger)
	scheduler := warmup.NewScheduler(warmer, 0, logger)
	if cfg.WarmSchedule != "" {
		if err := scheduler.Start(cfg.WarmSchedule); err != nil {
			log.Fatalf("Failed to start warm schedule: %v", err)
		}
		defer scheduler.Stop()
	}

	// Operations surface
	collector := metrics.New(metrics.DefaultNamespace, manager)
	handlers := server.NewHandlers(manager, warmer, collector, logger)
	srv := server.New(server.NewRouter(handlers), cfg.Port, logger)
	srv.Start()

	logger.Info("cache service started",
		logging.String("port", cfg.Port),
		logging.Bool("remote", cfg.RemoteEnabled()),
		logging.String("breaker_engine", cfg.BreakerEngine),
		logging.Int("l1_max_size", cfg.L1MaxSize),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", err)
	}

	logger.Info("server exited")
}
