package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/handler"
	"github.com/game-storage/internal/kafka"
	"github.com/game-storage/internal/memory"
	"github.com/game-storage/internal/metrics"
	"github.com/game-storage/internal/postgres"
	"github.com/game-storage/internal/redis"
	"github.com/game-storage/internal/service"
	"github.com/game-storage/internal/storage"
	"github.com/game-storage/internal/websocket"
	"github.com/game-storage/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, configErr := config.Load(*configPath)
	if configErr != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	if configErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", configErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	limiter := handler.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	go limiter.Cleanup(ctx)

	// Initialize the repository
	var repo storage.Repository
	checks := map[string]handler.ReadinessCheck{}
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		defer postgresRepo.Close()

		// Run database migrations
		if err := postgresRepo.RunMigrations(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to PostgreSQL")
		repo = postgresRepo
		checks["postgres"] = postgresRepo.Ping
	default:
		logger.Info("using in-memory storage")
		repo = memory.New(memory.WithLogger(logger))
	}

	// Initialize Redis
	var cache *redis.LeaderboardCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		var err error
		cache, err = redis.NewLeaderboardCache(ctx, &cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer cache.Close()
		logger.Info("connected to Redis")
		checks["redis"] = cache.Ping
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)

	gameService := service.NewGameService(repo, cache, wsHub, m, cfg, logger)

	// Rebuild the cache from the repository and keep it aligned
	var syncWorker *worker.SyncWorker
	if cache != nil {
		syncWorker = worker.NewSyncWorker(repo, cache, &cfg.Sync, logger)

		if err := syncWorker.Rebuild(ctx); err != nil {
			logger.Warn("failed to rebuild leaderboard cache on startup", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				return fmt.Errorf("starting sync worker: %w", err)
			}
			defer func() {
				if err := syncWorker.Stop(); err != nil {
					logger.Error("failed to stop sync worker", "error", err)
				}
			}()
		}
	}

	// Initialize Kafka consumer for high-load score ingestion
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err := kafka.NewConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
			err := kafkaConsumer.Start(startCtx)
			startCancel()
			if err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			}
			defer func() {
				if err := kafkaConsumer.Stop(); err != nil {
					logger.Error("failed to stop Kafka consumer", "error", err)
				}
			}()
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(gameService, wsHub, m, limiter, logger)
	for name, check := range checks {
		httpHandler.AddReadinessCheck(name, check)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
