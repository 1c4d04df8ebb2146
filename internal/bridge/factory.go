package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/database"
	"github.com/edgard/ircbridge/internal/metrics"
	"github.com/edgard/ircbridge/internal/slack"
	"github.com/edgard/ircbridge/internal/stagger"
)

// DirectoryFunc returns the Slack directory reachable with token.
type DirectoryFunc func(token string) slack.Directory

// Journal records factory activity.
type Journal interface {
	RecordSpawn(ctx context.Context, event *database.SpawnEvent) error
}

// FactoryDeps contains the collaborators of a Factory.
type FactoryDeps struct {
	Logger    *slog.Logger
	NewBot    Constructor
	Directory DirectoryFunc
	Queue     *stagger.Queue
	Journal   Journal

	// Policy spaces out shadow bot creations.
	Policy stagger.Policy

	// ReservedNames are Slack member names that never get a shadow bot.
	ReservedNames []string
}

// Factory creates fleets of bots from bots configuration values.
type Factory struct {
	logger    *slog.Logger
	newBot    Constructor
	directory DirectoryFunc
	queue     *stagger.Queue
	journal   Journal
	policy    stagger.Policy
	reserved  map[string]struct{}
}

// NewFactory creates a Factory. NewBot, Directory and Queue are required.
func NewFactory(deps FactoryDeps) *Factory {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reserved := make(map[string]struct{}, len(deps.ReservedNames))
	for _, name := range deps.ReservedNames {
		reserved[name] = struct{}{}
	}
	return &Factory{
		logger:    logger.With("component", "bot_factory"),
		newBot:    deps.NewBot,
		directory: deps.Directory,
		queue:     deps.Queue,
		journal:   deps.Journal,
		policy:    deps.Policy,
		reserved:  reserved,
	}
}

// Create builds a fleet from a bots configuration value.
//
// A list yields one connected bot per record, in order, before Create
// returns. A single record yields a connected bridge bot; Create then lists
// the Slack directory in the background and queues one shadow bot per
// member on the stagger policy. Use the fleet's Done or Wait to observe
// when those have been created. Any other value returns
// config.ErrConfiguration.
//
// ctx bounds the directory listing and the connects made before Create
// returns.
func (f *Factory) Create(ctx context.Context, value any) (*Fleet, error) {
	bots, err := config.ParseBots(value)
	if err != nil {
		return nil, err
	}

	fleet := newFleet(uuid.NewString())
	log := f.logger.With("run_id", fleet.RunID())

	if !bots.IsAggregate() {
		log.InfoContext(ctx, "Creating bots from list", "count", len(bots.Records))
		for i, rec := range bots.Records {
			bot, err := f.spawn(ctx, fleet.RunID(), metrics.KindBot, rec)
			if err != nil {
				if closeErr := fleet.Close(); closeErr != nil {
					log.WarnContext(ctx, "Error closing bots after failed creation", "error", closeErr)
				}
				return nil, fmt.Errorf("failed to create bot %d (%s): %w", i, rec.Nickname, err)
			}
			fleet.add(bot)
		}
		return fleet, nil
	}

	base := *bots.Aggregate
	bridgeCfg := base.With(config.Override{
		Nickname:       base.Nickname,
		SlackUser:      base.SlackUser,
		CanSendToSlack: true,
	})

	log.InfoContext(ctx, "Creating bridge bot", "nickname", bridgeCfg.Nickname)
	bridge, err := f.spawn(ctx, fleet.RunID(), metrics.KindBridge, bridgeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge bot: %w", err)
	}
	fleet.setBridge(bridge, base)
	fleet.add(bridge)

	fleet.begin()
	go func() {
		defer fleet.finish()
		if err := f.discover(ctx, fleet, base); err != nil {
			log.ErrorContext(ctx, "Shadow bots not created", "error", err)
		}
	}()

	return fleet, nil
}

// Sync lists the Slack directory again and queues shadow bots for members
// that have none yet. It is a no-op for fleets built from a list.
func (f *Factory) Sync(ctx context.Context, fleet *Fleet) error {
	base, ok := fleet.Template()
	if !ok {
		return nil
	}
	fleet.begin()
	defer fleet.finish()
	return f.discover(ctx, fleet, base)
}

// discover lists the directory and queues a shadow for every unclaimed,
// non-reserved member. Listing failures are journaled and returned.
func (f *Factory) discover(ctx context.Context, fleet *Fleet, base config.BotConfig) error {
	log := f.logger.With("run_id", fleet.RunID())

	members, err := f.directory(base.Token).ListMembers(ctx)
	if err != nil {
		metrics.DirectoryRequestsTotal.WithLabelValues("error").Inc()
		f.record(ctx, &database.SpawnEvent{
			RunID:   fleet.RunID(),
			Kind:    "directory",
			Outcome: metrics.OutcomeFailed,
			Error:   err.Error(),
		})
		return fmt.Errorf("failed to list slack members: %w", err)
	}
	metrics.DirectoryRequestsTotal.WithLabelValues("success").Inc()

	scheduled := 0
	for _, member := range members {
		if f.isReserved(member.Name) {
			continue
		}
		if !fleet.claim(member.ID) {
			continue
		}

		delay := f.policy.Delay(scheduled)
		scheduled++
		f.queueShadow(fleet, member, base.With(config.Override{
			Nickname:  member.Name,
			SlackUser: member.ID,
		}), delay)
	}

	log.InfoContext(ctx, "Queued shadow bots", "members", len(members), "scheduled", scheduled)
	return nil
}

func (f *Factory) queueShadow(fleet *Fleet, member slack.Member, cfg config.BotConfig, delay time.Duration) {
	fleet.begin()
	metrics.StaggerPending.Inc()

	// The queue fires shadows in order; connecting happens off the queue
	// goroutine so a slow registration does not hold back later slots.
	run := func(ctx context.Context) {
		metrics.StaggerPending.Dec()
		fleet.dequeue(member.ID)
		go func() {
			defer fleet.finish()
			f.spawnShadow(ctx, fleet, member, cfg)
		}()
	}
	cancel := func() {
		defer fleet.finish()
		metrics.StaggerPending.Dec()
		fleet.dequeue(member.ID)
		metrics.BotsSpawnedTotal.WithLabelValues(metrics.KindShadow, metrics.OutcomeCancelled).Inc()
	}

	h := f.queue.ScheduleWithCancel(delay, "shadow:"+member.Name, run, cancel)
	fleet.track(member.ID, h)
}

func (f *Factory) spawnShadow(ctx context.Context, fleet *Fleet, member slack.Member, cfg config.BotConfig) {
	log := f.logger.With("run_id", fleet.RunID(), "nickname", cfg.Nickname, "slack_user", member.ID)

	bot, err := f.spawn(ctx, fleet.RunID(), metrics.KindShadow, cfg)
	if err != nil {
		fleet.fail(fmt.Errorf("shadow bot %s: %w", cfg.Nickname, err))
		return
	}

	if !fleet.addShadow(member.ID, bot) {
		log.InfoContext(ctx, "Fleet stopped while shadow bot connected, disconnecting")
		if err := bot.Close(); err != nil {
			log.WarnContext(ctx, "Error closing shadow bot", "error", err)
		}
		return
	}
	log.InfoContext(ctx, "Shadow bot joined fleet")
}

// spawn constructs and connects one bot, recording the outcome.
func (f *Factory) spawn(ctx context.Context, runID, kind string, cfg config.BotConfig) (Bot, error) {
	event := &database.SpawnEvent{
		RunID:     runID,
		Kind:      kind,
		Nickname:  cfg.Nickname,
		SlackUser: cfg.SlackUser,
	}
	log := f.logger.With("run_id", runID, "kind", kind, "nickname", cfg.Nickname)

	bot, err := f.newBot(cfg)
	if err == nil {
		err = bot.Connect(ctx)
		if err != nil {
			err = fmt.Errorf("failed to connect: %w", err)
		}
	} else {
		err = fmt.Errorf("failed to construct: %w", err)
	}

	if err != nil {
		log.ErrorContext(ctx, "Bot creation failed", "error", err)
		metrics.BotsSpawnedTotal.WithLabelValues(kind, metrics.OutcomeFailed).Inc()
		event.Outcome = metrics.OutcomeFailed
		event.Error = err.Error()
		f.record(ctx, event)
		return nil, err
	}

	log.InfoContext(ctx, "Bot connected", "can_send_to_slack", cfg.CanSendToSlack)
	metrics.BotsSpawnedTotal.WithLabelValues(kind, metrics.OutcomeConnected).Inc()
	event.Outcome = metrics.OutcomeConnected
	f.record(ctx, event)
	return bot, nil
}

func (f *Factory) isReserved(name string) bool {
	_, ok := f.reserved[name]
	return ok || strings.TrimSpace(name) == ""
}

// record writes to the journal; failures are logged and otherwise ignored.
func (f *Factory) record(ctx context.Context, event *database.SpawnEvent) {
	if f.journal == nil {
		return
	}
	if err := f.journal.RecordSpawn(ctx, event); err != nil {
		f.logger.WarnContext(ctx, "Failed to journal spawn event",
			"run_id", event.RunID, "nickname", event.Nickname, "error", err)
	}
}
