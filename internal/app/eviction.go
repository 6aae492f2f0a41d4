package app

import (
	"context"
	"log/slog"
	"time"

	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/logging"
)

// RunEviction drops records older than the retention window every
// EvictionInterval until ctx is done. Once per service date it also prunes
// assignments older than the previous day.
func (app *Application) RunEviction(ctx context.Context) {
	interval := app.Config.EvictionInterval
	if interval <= 0 {
		interval = appconf.DefaultEvictionInterval
	}
	logger := app.Logger.With(slog.String("component", "record_evictor"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastPruned time.Time
	for {
		select {
		case <-ticker.C:
			now := app.Clock.Now()
			app.BlockLocationService.EvictStale(now)
			lastPruned = app.pruneAssignments(ctx, now, lastPruned, logger)
		case <-ctx.Done():
			return
		}
	}
}

func (app *Application) pruneAssignments(ctx context.Context, now, lastPruned time.Time, logger *slog.Logger) time.Time {
	if app.Assignments == nil || app.GtfsManager == nil {
		return lastPruned
	}
	serviceDate := clock.ServiceDate(now, app.GtfsManager.Location())
	if serviceDate.Equal(lastPruned) {
		return lastPruned
	}

	// Yesterday's blocks can still be running after midnight.
	n, err := app.Assignments.DeleteBefore(ctx, serviceDate.AddDate(0, 0, -1))
	if err != nil {
		logging.LogError(logger, "Error pruning assignments", err)
		return lastPruned
	}
	logging.LogOperation(logger, "assignments_pruned", slog.Int64("count", n))
	return serviceDate
}
