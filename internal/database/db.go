// Package database provides database setup, models, and the data access
// layer (Store) for the spawn journal.
package database

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/ircbridge/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// Journal connection tuning. Shadow bots record their outcome from their
// own goroutines, so writers wait on the lock instead of failing with
// SQLITE_BUSY, and WAL keeps admin reads off the writer's lock.
const (
	busyTimeout  = 5 * time.Second
	maxOpenConns = 4
)

// Open opens the journal at path, applies the embedded migrations and
// returns the pool. path is a file path or a "file:" URI; ":memory:" opens a
// private in-memory journal on a single connection.
func Open(path string) (*sqlx.DB, error) {
	memory := isMemory(path)

	db, err := sqlx.Connect("sqlite", journalDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := migrateUp(db, journalName(path)); err != nil {
		Close(db)
		return nil, err
	}

	slog.Info("Journal opened", "path", path, "wal", !memory)
	return db, nil
}

// Close closes the pool, logging any error.
func Close(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing journal", "error", err)
	}
}

func migrateUp(db *sqlx.DB, name string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{DatabaseName: name})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// journalDSN adds the journal pragmas to path, keeping any query the caller
// already supplied.
func journalDSN(path string) string {
	base, query, _ := strings.Cut(path, "?")
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		params = url.Values{}
	}
	if !hasPragma(params, "busy_timeout") {
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	}
	if !isMemory(path) && !hasPragma(params, "journal_mode") {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	return base + "?" + params.Encode()
}

func hasPragma(params url.Values, name string) bool {
	for _, p := range params["_pragma"] {
		if strings.HasPrefix(strings.ToLower(p), name) {
			return true
		}
	}
	return false
}

func isMemory(path string) bool {
	base, query, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	return base == ":memory:" || strings.Contains(query, "mode=memory")
}

// journalName is the file name reported to the migration driver.
func journalName(path string) string {
	base, _, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	if decoded, err := url.PathUnescape(base); err == nil {
		return decoded
	}
	return base
}
