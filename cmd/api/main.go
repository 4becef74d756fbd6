package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/api/rest"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/api/websocket"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/auth"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/cache"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/database"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/repository/memory"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/repository/postgres"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/metrics"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/service/auction"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create zap logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "auction-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.TracingEnabled,
		SamplingRate:   1.0,
		ExportTimeout:  telemetry.DefaultConfig().ExportTimeout,
		BatchTimeout:   telemetry.DefaultConfig().BatchTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// storage
	var (
		store auction.Store
		pool  *pgxpool.Pool
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err = database.Connect(ctx, &cfg.Database, zapLogger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
	case "memory":
		logger.Warn("using in-memory storage, state will not survive restarts")
		store = memory.NewStore()
	}

	// redis for rate limiting and browse caching, optional
	var (
		redisClient  *redis.Client
		rateLimiter  cache.RateLimiter
		listingCache *cache.ListingCache
	)
	if cfg.Redis.URL != "" {
		redisClient, err = cache.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		rateLimiter = cache.NewRedisRateLimiter(redisClient, zapLogger)
		listingCache = cache.NewListingCache(cache.NewRedisCache(redisClient, zapLogger), zapLogger)
	}

	hub := auction.NewHub(zapLogger)

	registry, err := metrics.NewRegistry("auction-engine", hub.SubscriberCount)
	if err != nil {
		log.Fatalf("Failed to create metrics registry: %v", err)
	}

	engine := auction.NewEngine(auction.Config{
		OpTimeout:     cfg.Auction.OpTimeout,
		QueueSize:     cfg.Auction.QueueSize,
		SweepInterval: cfg.Auction.SweepInterval,
	}, store, hub, registry, auction.RealClock{}, logger)

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start auction engine: %v", err)
	}
	defer engine.Close()

	sweeper := auction.NewSweeper(engine, cfg.Auction.SweepInterval, logger)
	go sweeper.Run(ctx)
	go collectRuntimeGauges(ctx, pool, hub.SubscriberCount)

	authSvc, err := auth.NewService(cfg.Security.JWTSecret, cfg.Security.TokenExpiry)
	if err != nil {
		log.Fatalf("Failed to create auth service: %v", err)
	}

	checks := map[string]rest.HealthCheck{}
	if pool != nil {
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, pool)
		}
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	handler := rest.NewHandler(engine, rateLimiter, cfg.Security.RateLimit, listingCache, logger)
	wsHandler := websocket.NewHandler(engine, zapLogger)
	server := rest.NewServer(cfg, handler, wsHandler, authSvc, MetricsHandler(), checks, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}
}
