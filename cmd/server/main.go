package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/api"
	"github.com/profullstack/qryptchat-web-sub004/internal/config"
	"github.com/profullstack/qryptchat-web-sub004/internal/fanout"
	"github.com/profullstack/qryptchat-web-sub004/internal/handlers"
	"github.com/profullstack/qryptchat-web-sub004/internal/keydir"
	"github.com/profullstack/qryptchat-web-sub004/internal/registry"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
	"github.com/profullstack/qryptchat-web-sub004/internal/sweeper"
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

	// Pick the durable store: Postgres when configured, SQLite otherwise
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer dataStore.Close()

	// Initialize Redis store (rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Key directory for the fan-out encoder
	keys := keydir.New()
	if cfg.KeyDirFile != "" {
		var err error
		keys, err = keydir.LoadFile(cfg.KeyDirFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("key directory load failed")
		}
		logger.Info().Str("file", cfg.KeyDirFile).Msg("key directory loaded")
	}

	// Connection registry + broadcast router
	reg := registry.NewRegistry(logger)
	reg.Start()
	defer reg.Stop()

	// Crypto fan-out encoder
	encoder := fanout.NewEncoder(dataStore, dataStore, keys, logger)

	// Expiry sweeper on its own ticker, decoupled from connection handling
	sw := sweeper.New(dataStore, logger, cfg.SweepInterval, cfg.SweepBatchSize)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sw.Run(sweepCtx)

	// Create router
	h := handlers.NewHandler(dataStore, redisStore, reg, encoder, sw, logger)
	router := api.NewRouter(logger, h, redisStore, cfg.SendRateLimit)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting delivery server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	stopSweeper()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
