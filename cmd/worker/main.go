package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/internal/config"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/services"
	"github.com/ecclesia-org/ecclesia/workers"
)

func main() {
	once := flag.Bool("once", false, "run every maintenance job one time and exit")
	flag.Parse()

	if err := config.LoadConfig(os.Getenv("ECCLESIA_CONFIG_PATH")); err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: config.App.Log.Level, Format: config.App.Log.Format})

	if config.App.DatabaseURL == "" {
		logging.Fatal().Msg("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer pg.Close()
	if err := pg.Ping(); err != nil {
		logging.Fatal().Err(err).Msg("failed to ping database")
	}
	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		logging.Warn().Err(err).Msg("failed to set database timezone to UTC")
	}

	activity := audit.NewLogger(pg)
	notifier := services.NewNotifier(config.App.SMTP)
	activation := services.NewActivationService(pg, activity, notifier,
		config.App.Activation.Secret, config.App.Activation.TokenTTL, config.App.PublicURL)

	worker := workers.NewMaintenanceWorker(activity, activation, config.App.Audit.RetentionDays, config.App.Maintenance.Interval)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *once {
		if err := worker.RunOnce(ctx); err != nil {
			logging.Error().Err(err).Msg("maintenance run finished with errors")
			os.Exit(1)
		}
		return
	}

	worker.Start(ctx)
	logging.Info().Msg("maintenance worker stopped")
}
