package tasks

import (
	"context"
	"fmt"
	"time"
)

// newRosterSyncTask creates the task that adds shadow bots for Slack members
// who joined after the fleet was created.
func newRosterSyncTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", RosterSync)

	return func(ctx context.Context) error {
		if deps.Fleet == nil || deps.Syncer == nil {
			log.DebugContext(ctx, "No fleet to sync, skipping")
			return nil
		}
		if _, ok := deps.Fleet.Template(); !ok {
			log.DebugContext(ctx, "Fleet was built from a list, skipping roster sync")
			return nil
		}

		startTime := deps.Clock.Now()
		before := len(deps.Fleet.Bots())
		if err := deps.Syncer.Sync(ctx, deps.Fleet); err != nil {
			return fmt.Errorf("roster sync failed: %w", err)
		}

		log.InfoContext(ctx, "Roster sync completed",
			"bots", before,
			"pending", deps.Fleet.Pending(),
			"duration", deps.Clock.Since(startTime).Round(time.Millisecond))
		return nil
	}
}
