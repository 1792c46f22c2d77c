package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/api"
	"github.com/safenest/safenest/internal/config"
	"github.com/safenest/safenest/internal/gateway"
	"github.com/safenest/safenest/internal/guardian"
	"github.com/safenest/safenest/internal/moderation"
	"github.com/safenest/safenest/internal/pipeline"
	"github.com/safenest/safenest/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the membership/identity store: PostgreSQL when configured,
	// SQLite for local development.
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	defer db.Close()

	// Initialize the Redis message store
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required: Redis is the message store")
	}
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Moderation classifier client
	modClient := moderation.NewClient(cfg.ModerationURL, cfg.ModerationTimeout, cfg.ModerationImageTimeout, logger)

	// Guardian notifier. The dev log sender stands in for the external
	// email-delivery service.
	notifier := guardian.NewNotifier(db, guardian.NewLogSender(logger), cfg.GuardianQueueSize, cfg.AlertFromAddress, logger)
	notifier.Start()

	// Connection gateway and messaging pipeline
	dir := gateway.NewDirectory(logger)
	pipe := pipeline.New(db, redisStore, modClient, notifier, dir, logger)
	auth := gateway.NewAuthenticator(cfg.JWTSecret, db)
	gw := gateway.New(auth, db, dir, pipe, cfg.EventRate, cfg.EventBurst, logger)

	// Create router
	router := api.NewRouter(logger, db, redisStore, gw, modClient, cfg.InternalAPIToken)

	// Create server
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting safenest gateway")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close websocket connections first so each runs its disconnect cleanup.
	gw.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Drain pending guardian alerts before exit.
	if err := notifier.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("guardian queue did not drain in time")
	}

	logger.Info().Msg("server stopped")
}
