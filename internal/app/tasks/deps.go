// Package tasks implements the periodic tasks of the IRC bridge.
package tasks

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/database"
)

// Syncer refreshes the shadow bots of a fleet.
type Syncer interface {
	Sync(ctx context.Context, fleet *bridge.Fleet) error
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Syncer Syncer
	Fleet  *bridge.Fleet
	Config *config.Config
	Clock  clockwork.Clock
}
