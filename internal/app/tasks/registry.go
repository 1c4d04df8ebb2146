package tasks

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// ScheduledTaskFunc is the signature of every scheduled task. Tasks should
// return when ctx is cancelled.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, matching the keys of the scheduler.tasks configuration.
const (
	RosterSync         = "roster_sync"
	JournalMaintenance = "journal_maintenance"
)

// RegisterAllTasks returns the task functions keyed by configuration name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	tasks := map[string]ScheduledTaskFunc{
		RosterSync:         newRosterSyncTask(deps),
		JournalMaintenance: newJournalMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
