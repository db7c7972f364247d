package workers

import (
	"context"
	"errors"
	"time"

	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
	"github.com/ecclesia-org/ecclesia/services"
)

const defaultInterval = time.Hour

// RetentionSweeper deletes activity entries older than the retention period,
// keeping the protected ones
type RetentionSweeper interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// ActivationSweeper promotes members who came of age
type ActivationSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MaintenanceWorker runs the periodic housekeeping jobs
type MaintenanceWorker struct {
	Audit         RetentionSweeper
	Activation    ActivationSweeper
	RetentionDays int
	Interval      time.Duration
	now           func() time.Time
}

func NewMaintenanceWorker(audit RetentionSweeper, activation ActivationSweeper, retentionDays int, interval time.Duration) *MaintenanceWorker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &MaintenanceWorker{
		Audit:         audit,
		Activation:    activation,
		RetentionDays: retentionDays,
		Interval:      interval,
		now:           time.Now,
	}
}

// Start runs the jobs once, then on every tick until ctx is done
func (w *MaintenanceWorker) Start(ctx context.Context) {
	logging.Info().Dur("interval", w.Interval).Msg("Maintenance worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			logging.Error().Err(err).Msg("maintenance run finished with errors")
		}
		select {
		case <-ctx.Done():
			logging.Info().Msg("Maintenance worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs every job once. A failing job does not stop the others.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) error {
	var errs []error

	if w.Audit != nil && w.RetentionDays > 0 {
		deleted, err := w.Audit.Cleanup(ctx, w.RetentionDays)
		if err != nil {
			metrics.MaintenanceRuns.WithLabelValues("retention", "error").Inc()
			errs = append(errs, err)
		} else {
			metrics.MaintenanceRuns.WithLabelValues("retention", "ok").Inc()
			logging.Info().Int64("deleted", deleted).Int("retention_days", w.RetentionDays).Msg("activity log retention sweep")
		}
	}

	if w.Activation != nil {
		moved, err := w.Activation.Sweep(ctx, w.now())
		switch {
		case errors.Is(err, services.ErrActivationDisabled):
			logging.Debug().Msg("activation sweep skipped, no signing secret configured")
		case err != nil:
			metrics.MaintenanceRuns.WithLabelValues("activation", "error").Inc()
			errs = append(errs, err)
		default:
			metrics.MaintenanceRuns.WithLabelValues("activation", "ok").Inc()
			if moved > 0 {
				logging.Info().Int("members", moved).Msg("activation links issued")
			}
		}
	}

	return errors.Join(errs...)
}
