// Package app wires the bridge components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/stagger"
)

// shutdownTimeout bounds the admin server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// AdminServer is the admin HTTP endpoint run alongside the fleet.
type AdminServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Deps contains the components the App runs.
type Deps struct {
	Logger    *slog.Logger
	Queue     *stagger.Queue
	Scheduler *Scheduler
	Fleet     *bridge.Fleet

	// Admin is optional.
	Admin AdminServer
}

// App runs the stagger queue, the scheduler and the admin server for one
// fleet, and disconnects the fleet on shutdown.
type App struct {
	logger    *slog.Logger
	queue     *stagger.Queue
	scheduler *Scheduler
	fleet     *bridge.Fleet
	admin     AdminServer
}

// New creates an App.
func New(deps Deps) *App {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &App{
		logger:    log.With("component", "orchestrator"),
		queue:     deps.Queue,
		scheduler: deps.Scheduler,
		fleet:     deps.Fleet,
		admin:     deps.Admin,
	}
}

// Run blocks until ctx is cancelled or a component fails. The fleet is
// closed before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting orchestrator")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.queue.Run(gCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stagger queue stopped: %w", err)
		}
		return nil
	})

	if a.scheduler != nil {
		g.Go(func() error {
			if err := a.scheduler.Start(gCtx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			a.logger.Info("Shutdown signal received, stopping scheduler")
			if err := a.scheduler.Stop(); err != nil {
				a.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	if a.admin != nil {
		g.Go(func() error {
			return a.admin.Start()
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.admin.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Error stopping admin server", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.watchFleet(gCtx)
		return nil
	})

	a.logger.Info("Orchestrator running, waiting for shutdown signal or error")
	err := g.Wait()

	if closeErr := a.fleet.Close(); closeErr != nil {
		a.logger.Warn("Error disconnecting bots", "error", closeErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Orchestrator stopped gracefully")
	return nil
}

// watchFleet logs the outcome of the initial shadow bot round.
func (a *App) watchFleet(ctx context.Context) {
	err := a.fleet.Wait(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		a.logger.Error("Some shadow bots could not be created", "error", err)
	default:
		a.logger.Info("Fleet ready", "bots", len(a.fleet.Bots()))
	}
}
