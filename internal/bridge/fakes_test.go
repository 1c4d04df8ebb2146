package bridge_test

import (
	"context"
	"errors"
	"sync"

	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/database"
	"github.com/edgard/ircbridge/internal/slack"
)

type fakeBot struct {
	cfg        config.BotConfig
	connectErr error

	// release, when set, holds Connect until it is closed or ctx ends.
	release chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
	ignored   []bridge.Bot
}

func (b *fakeBot) Connect(ctx context.Context) error {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBot) Nickname() string         { return b.cfg.Nickname }
func (b *fakeBot) Config() config.BotConfig { return b.cfg }

func (b *fakeBot) IgnoreFrom(other bridge.Bot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ignored = append(b.ignored, other)
}

func (b *fakeBot) Ignored() []bridge.Bot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Bot(nil), b.ignored...)
}

func (b *fakeBot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBot) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBot) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// builder is a bridge.Constructor that remembers every bot it built.
type builder struct {
	mu       sync.Mutex
	built    []*fakeBot
	failNick map[string]error
	holdNick map[string]chan struct{}
}

func (b *builder) New(cfg config.BotConfig) (bridge.Bot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bot := &fakeBot{
		cfg:        cfg,
		connectErr: b.failNick[cfg.Nickname],
		release:    b.holdNick[cfg.Nickname],
	}
	b.built = append(b.built, bot)
	return bot, nil
}

func (b *builder) bots() []*fakeBot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeBot(nil), b.built...)
}

type fakeDirectory struct {
	mu      sync.Mutex
	members []slack.Member
	err     error
	tokens  []string
}

func (d *fakeDirectory) forToken(token string) slack.Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	return d
}

func (d *fakeDirectory) ListMembers(context.Context) ([]slack.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]slack.Member(nil), d.members...), nil
}

func (d *fakeDirectory) seenTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDirectory) setMembers(members ...slack.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members = members
}

type fakeJournal struct {
	mu     sync.Mutex
	events []database.SpawnEvent
}

func (j *fakeJournal) RecordSpawn(_ context.Context, event *database.SpawnEvent) error {
	if event == nil {
		return errors.New("nil event")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, *event)
	return nil
}

func (j *fakeJournal) snapshot() []database.SpawnEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]database.SpawnEvent(nil), j.events...)
}

func nicknames(bots []bridge.Bot) []string {
	out := make([]string, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Nickname())
	}
	return out
}
