package main

import (
	"chatrelay/backend/internal/api"
	"chatrelay/backend/internal/api/handler"
	"chatrelay/backend/internal/auth"
	"chatrelay/backend/internal/changefeed"
	"chatrelay/backend/internal/chathub"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := storage.Migrate(db, cfg.FeedDriver == config.FeedPostgres); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	if cfg.FeedDriver != config.FeedRedis {
		logger.Info().Msg("database connection established, migrations complete")
		return db, nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	logger.Info().Msg("database and redis connections established, migrations complete")
	return db, rdb, nil
}

// buildFeed returns the change feed for the configured driver and a storage
// service that emits into it when the relay itself writes the feed.
func buildFeed(cfg *config.Config, db *gorm.DB, rdb *redis.Client, logger zerolog.Logger) (changefeed.Feed, *storage.Service) {
	switch cfg.FeedDriver {
	case config.FeedPostgres:
		// The insert trigger notifies; nothing to emit.
		svc := storage.NewStorageService(db, nil, logger)
		feed := changefeed.NewPGNotify(cfg.DatabaseDSN, storage.NotifyChannel, svc.FindMessage,
			cfg.FeedBackoffInitial, cfg.FeedBackoffMax, logger)
		return feed, svc
	case config.FeedMemory:
		feed := changefeed.NewMemory(cfg.RoomMaxPending)
		return feed, storage.NewStorageService(db, feed, logger)
	default:
		feed := changefeed.NewRedisStream(rdb, cfg.FeedStream, cfg.FeedStreamMaxLen, logger)
		return feed, storage.NewStorageService(db, feed, logger)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info().Str("env", cfg.Env).Str("feed", cfg.FeedDriver).Msg("starting chat relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Dependencies
	db, rdb, err := setupDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise dependencies")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	feed, svc := buildFeed(cfg, db, rdb, logger)

	// 2. Rooms and the change feed fan-out
	registry := chathub.NewRegistry(cfg.RoomMaxPending, logger)
	listener := chathub.NewFeedListener(feed, registry, cfg.FeedBackoffInitial, cfg.FeedBackoffMax, logger)
	go listener.Run(ctx)

	// 3. HTTP
	h := handler.NewHandler(handler.Options{
		Storage:        svc,
		Registry:       registry,
		Verifier:       auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer),
		AuthHeader:     cfg.AuthHeader,
		AuthCookie:     cfg.AuthCookie,
		AllowedOrigins: cfg.AllowedOrigins,
		BaseContext:    ctx,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
