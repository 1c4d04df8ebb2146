package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/ircbridge/internal/config"
)

// newJournalMaintenanceTask creates the task that prunes old spawn events
// and compacts the database.
func newJournalMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", JournalMaintenance)

	retention := config.DefaultJournalMaxAge
	if deps.Config != nil && deps.Config.Database.Retention > 0 {
		retention = deps.Config.Database.Retention
	}

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting journal maintenance", "retention", retention)
		startTime := deps.Clock.Now()

		cutoff := startTime.Add(-retention)
		pruned, err := deps.Store.PruneSpawns(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune spawn events: %w", err)
		}

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Journal maintenance completed",
			"pruned", pruned,
			"cutoff", cutoff,
			"duration", deps.Clock.Since(startTime))
		return nil
	}
}
