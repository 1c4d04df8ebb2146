package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for spawn journal operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RecordSpawn inserts a spawn event and sets its ID.
	RecordSpawn(ctx context.Context, event *SpawnEvent) error

	// RecentSpawns returns the newest 'limit' spawn events, newest first.
	RecentSpawns(ctx context.Context, limit int) ([]SpawnEvent, error)

	// PruneSpawns deletes spawn events created before the cutoff and
	// returns the number of rows removed.
	PruneSpawns(ctx context.Context, before time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordSpawn inserts a new spawn event.
func (s *sqlxStore) RecordSpawn(ctx context.Context, event *SpawnEvent) error {
	if event == nil {
		return fmt.Errorf("cannot record nil spawn event")
	}
	if event.RunID == "" {
		return fmt.Errorf("spawn event must have a run_id")
	}
	if event.Kind == "" || event.Outcome == "" {
		return fmt.Errorf("spawn event must have a kind and an outcome")
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	query := `
        INSERT INTO spawn_events (run_id, kind, nickname, slack_user, outcome, error, created_at)
        VALUES (:run_id, :kind, :nickname, :slack_user, :outcome, :error, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recording spawn event",
			"run_id", event.RunID, "nickname", event.Nickname, "error", err)
		return fmt.Errorf("failed to record spawn event for %s: %w", event.Nickname, err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		event.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after recording spawn event",
			"run_id", event.RunID, "nickname", event.Nickname, "error", err)
	}

	s.logger.DebugContext(ctx, "Spawn event recorded",
		"run_id", event.RunID, "kind", event.Kind, "nickname", event.Nickname, "outcome", event.Outcome)
	return nil
}

// RecentSpawns retrieves the most recent 'limit' spawn events.
func (s *sqlxStore) RecentSpawns(ctx context.Context, limit int) ([]SpawnEvent, error) {
	if limit <= 0 {
		limit = 50
	} else if limit > 500 {
		limit = 500
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var events []SpawnEvent
	query := `
        SELECT id, run_id, kind, nickname, slack_user, outcome, error, created_at
        FROM spawn_events
        ORDER BY id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &events, query, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching spawn events", "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent spawn events", "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent spawn events: %w", err)
	}

	return events, nil
}

// PruneSpawns removes spawn events older than before.
func (s *sqlxStore) PruneSpawns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM spawn_events WHERE created_at < ?;`, before.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning spawn events", "before", before, "error", err)
		return 0, fmt.Errorf("failed to prune spawn events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned spawn events: %w", err)
	}

	s.logger.InfoContext(ctx, "Pruned spawn events", "before", before, "deleted", affected)
	return affected, nil
}

// RunSQLMaintenance runs VACUUM, which SQLite requires outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
