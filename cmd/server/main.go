package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/ecclesia-org/ecclesia/internal/config"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/router"
)

func main() {
	if err := config.LoadConfig(os.Getenv("ECCLESIA_CONFIG_PATH")); err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: config.App.Log.Level, Format: config.App.Log.Format})

	if config.App.DatabaseURL == "" {
		logging.Fatal().Msg("DATABASE_URL environment variable (or config) is required")
	}
	if config.App.RedisURL == "" {
		logging.Fatal().Msg("REDIS_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer pg.Close()
	if err := pg.Ping(); err != nil {
		logging.Fatal().Err(err).Msg("failed to ping database")
	}
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		logging.Warn().Err(err).Msg("failed to set database timezone to UTC")
	}

	opts, err := redis.ParseURL(config.App.RedisURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logging.Fatal().Err(err).Msg("failed to ping redis")
	}

	handler, err := router.NewGinRouter(pg, rdb)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build router")
	}

	srv := &http.Server{
		Addr:              ":" + config.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Str("environment", config.App.Environment).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("graceful shutdown failed")
	}
}
