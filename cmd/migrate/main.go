package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ecclesia-org/ecclesia/internal/config"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/migrations"
)

func main() {
	if err := config.LoadConfig(os.Getenv("ECCLESIA_CONFIG_PATH")); err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: config.App.Log.Level, Format: config.App.Log.Format})

	if config.App.DatabaseURL == "" {
		logging.Fatal().Msg("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to ping DB")
	}

	names, err := migrations.Names()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to list migrations")
	}
	logging.Info().Strs("available", names).Msg("running migrations")

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("migration failed")
	}
	logging.Info().Int("applied", applied).Msg("migrations applied successfully")
}
