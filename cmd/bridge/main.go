// Package main contains the entrypoint for the IRC to Slack bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/edgard/ircbridge/internal/admin"
	"github.com/edgard/ircbridge/internal/app"
	"github.com/edgard/ircbridge/internal/app/tasks"
	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/database"
	"github.com/edgard/ircbridge/internal/irc"
	"github.com/edgard/ircbridge/internal/logger"
	"github.com/edgard/ircbridge/internal/slack"
	"github.com/edgard/ircbridge/internal/stagger"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes every component, creates the fleet and blocks until
// shutdown. It returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("Failed to load environment file", "path", *envPath, "error", err)
		return 1
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open journal", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.Close(db)
	store := database.NewStore(db, log)

	queue := stagger.New(clockwork.NewRealClock(), log)

	factory := bridge.NewFactory(bridge.FactoryDeps{
		Logger: log,
		NewBot: irc.New(irc.Deps{
			Logger: log,
			Poster: func(token string) slack.Poster {
				return slack.NewClient(token, cfg.Slack.APIURL, log)
			},
		}),
		Directory: func(token string) slack.Directory {
			return slack.NewClient(token, cfg.Slack.APIURL, log)
		},
		Queue:   queue,
		Journal: store,
		Policy: stagger.Policy{
			Initial: cfg.Stagger.Initial,
			Step:    cfg.Stagger.Step,
		},
		ReservedNames: cfg.ReservedNames,
	})

	fleet, err := factory.Create(ctx, cfg.Bots)
	if err != nil {
		log.Error("Failed to create bots", "error", err)
		return 1
	}
	log.Info("Bots created", "run_id", fleet.RunID(), "bots", len(fleet.Bots()))

	sched, err := app.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Syncer: factory,
		Fleet:  fleet,
		Config: cfg,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		if closeErr := fleet.Close(); closeErr != nil {
			log.Warn("Error disconnecting bots", "error", closeErr)
		}
		return 1
	}

	deps := app.Deps{
		Logger:    log,
		Queue:     queue,
		Scheduler: sched,
		Fleet:     fleet,
	}
	if cfg.Admin.Enabled {
		deps.Admin = admin.New(admin.Deps{
			Logger: log,
			Addr:   cfg.Admin.Addr,
			Store:  store,
			Fleet:  fleet,
		})
	}

	log.Info("Starting bridge...")
	runErr := app.New(deps).Run(ctx)
	log.Info("Bridge run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bridge stopped due to error", "error", runErr)
		// Allow IRC quit messages and logs to flush.
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bridge stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
