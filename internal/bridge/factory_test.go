package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/slack"
	"github.com/edgard/ircbridge/internal/stagger"
)

const eventually = 2 * time.Second

type harness struct {
	clock     *clockwork.FakeClock
	queue     *stagger.Queue
	builder   *builder
	directory *fakeDirectory
	journal   *fakeJournal
	factory   *bridge.Factory
	ctx       context.Context
	cancel    context.CancelFunc
	runDone   chan error
}

func newHarness(t *testing.T, members ...slack.Member) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		clock:     clockwork.NewFakeClock(),
		builder:   &builder{failNick: map[string]error{}, holdNick: map[string]chan struct{}{}},
		directory: &fakeDirectory{members: members},
		journal:   &fakeJournal{},
		ctx:       ctx,
		cancel:    cancel,
		runDone:   make(chan error, 1),
	}
	h.queue = stagger.New(h.clock, nil)
	h.factory = bridge.NewFactory(bridge.FactoryDeps{
		NewBot:        h.builder.New,
		Directory:     h.directory.forToken,
		Queue:         h.queue,
		Journal:       h.journal,
		Policy:        stagger.Policy{Initial: 3 * time.Second, Step: 3 * time.Second},
		ReservedNames: config.DefaultReservedNames,
	})

	go func() { h.runDone <- h.queue.Run(ctx) }()
	return h
}

// advance waits for the queue to arm its timer, then moves the clock.
func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(d)
}

// fire advances the clock by d and waits until built bots have been constructed.
func (h *harness) fire(t *testing.T, d time.Duration, built int) {
	t.Helper()
	h.advance(t, d)
	require.Eventually(t, func() bool { return len(h.builder.bots()) == built }, eventually, 5*time.Millisecond)
}

func aggregateConfig() map[string]any {
	return map[string]any{
		"server":   "irc.example.net",
		"nickname": "irc-bridge",
		"token":    "xoxb-test",
		"channels": []any{"#general"},
	}
}

var standardMembers = []slack.Member{
	{ID: "U1", Name: "alice"},
	{ID: "U2", Name: "bob"},
	{ID: "USLACKBOT", Name: "slackbot"},
	{ID: "U3", Name: "irc-bridge"},
}

func TestFactory_CreateFromList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	fleet, err := h.factory.Create(h.ctx, []any{
		map[string]any{"server": "irc.one.net", "nickname": "one"},
		map[string]any{"server": "irc.two.net", "nickname": "two"},
		map[string]any{"server": "irc.three.net", "nickname": "three"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three"}, nicknames(fleet.Bots()))
	for _, b := range h.builder.bots() {
		assert.True(t, b.isConnected(), "bot %s not connected", b.cfg.Nickname)
	}
	assert.Nil(t, fleet.Bridge())
	assert.NoError(t, fleet.Wait(h.ctx))
	assert.Empty(t, h.directory.seenTokens())
	assert.Len(t, h.journal.snapshot(), 3)
}

func TestFactory_CreateFromListConnectFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.builder.failNick["two"] = errors.New("connection refused")

	_, err := h.factory.Create(h.ctx, []config.BotConfig{
		{Server: "irc.one.net", Nickname: "one"},
		{Server: "irc.two.net", Nickname: "two"},
		{Server: "irc.three.net", Nickname: "three"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	built := h.builder.bots()
	require.Len(t, built, 2)
	assert.True(t, built[0].isClosed())
}

func TestFactory_CreateRejectsUnknownShapes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, value := range []any{nil, 42, 3.5, "bots", true, (*config.BotConfig)(nil)} {
		_, err := h.factory.Create(h.ctx, value)
		require.ErrorIs(t, err, config.ErrConfiguration, "value %#v", value)
	}
	assert.Empty(t, h.builder.bots())
}

func TestFactory_CreateAggregate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)

	bots := fleet.Bots()
	require.Len(t, bots, 1)
	bridgeBot := fleet.Bridge()
	require.NotNil(t, bridgeBot)
	assert.Equal(t, "irc-bridge", bridgeBot.Nickname())
	assert.True(t, bridgeBot.Config().CanSendToSlack)

	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, eventually, 5*time.Millisecond)
	assert.Equal(t, 2, fleet.Pending())
	assert.Equal(t, []string{"xoxb-test"}, h.directory.seenTokens())

	h.advance(t, 3*time.Second)
	require.Eventually(t, func() bool { return len(fleet.Bots()) == 2 }, eventually, 5*time.Millisecond)
	assert.Equal(t, []string{"irc-bridge", "alice"}, nicknames(fleet.Bots()))

	h.advance(t, 3*time.Second)
	waitCtx, cancel := context.WithTimeout(h.ctx, eventually)
	defer cancel()
	require.NoError(t, fleet.Wait(waitCtx))

	assert.Equal(t, []string{"irc-bridge", "alice", "bob"}, nicknames(fleet.Bots()))
	assert.Equal(t, []string{"alice", "bob"}, nicknames(bridgeBot.Ignored()))
	assert.Equal(t, 0, fleet.Pending())

	built := h.builder.bots()
	require.Len(t, built, 3)
	assert.True(t, built[0].cfg.CanSendToSlack)
	for _, shadow := range built[1:] {
		assert.False(t, shadow.cfg.CanSendToSlack)
		assert.True(t, shadow.isConnected())
	}
	assert.Equal(t, "U1", built[1].cfg.SlackUser)
	assert.Equal(t, "U2", built[2].cfg.SlackUser)
	assert.Equal(t, []string{"#general"}, built[2].cfg.Channels)
}

func TestFactory_ShadowsKeepTheirOwnSnapshot(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, eventually, 5*time.Millisecond)

	h.fire(t, 3*time.Second, 2)
	h.fire(t, 3*time.Second, 3)
	require.NoError(t, fleet.Wait(h.ctx))

	built := h.builder.bots()
	require.Len(t, built, 3)
	assert.Equal(t, "irc-bridge", built[0].cfg.Nickname)
	assert.Equal(t, "alice", built[1].cfg.Nickname)
	assert.Equal(t, "bob", built[2].cfg.Nickname)

	built[1].cfg.Channels[0] = "#mutated"
	assert.Equal(t, "#general", built[2].cfg.Channels[0])

	tmpl, ok := fleet.Template()
	require.True(t, ok)
	assert.Equal(t, "irc-bridge", tmpl.Nickname)
	assert.False(t, tmpl.CanSendToSlack)
}

func TestFactory_DirectoryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.directory.mu.Lock()
	h.directory.err = errors.New("invalid_auth")
	h.directory.mu.Unlock()

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(h.ctx, eventually)
	defer cancel()
	require.NoError(t, fleet.Wait(waitCtx))

	assert.Equal(t, []string{"irc-bridge"}, nicknames(fleet.Bots()))
	assert.Equal(t, 0, h.queue.Len())

	events := h.journal.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "bridge", events[0].Kind)
	assert.Equal(t, "directory", events[1].Kind)
	assert.Equal(t, "failed", events[1].Outcome)
	assert.Contains(t, events[1].Error, "invalid_auth")
}

func TestFactory_BridgeFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)
	h.builder.failNick["irc-bridge"] = errors.New("nickname in use")

	_, err := h.factory.Create(h.ctx, aggregateConfig())
	require.Error(t, err)
	assert.Empty(t, h.directory.seenTokens())
}

func TestFactory_ShadowFailureIsReportedByWait(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)
	h.builder.failNick["bob"] = errors.New("banned")

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, eventually, 5*time.Millisecond)

	h.fire(t, 3*time.Second, 2)
	h.fire(t, 3*time.Second, 3)

	waitCtx, cancel := context.WithTimeout(h.ctx, eventually)
	defer cancel()
	err = fleet.Wait(waitCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
	assert.Contains(t, err.Error(), "banned")

	assert.Equal(t, []string{"irc-bridge", "alice"}, nicknames(fleet.Bots()))
	assert.Equal(t, []string{"alice"}, nicknames(fleet.Bridge().Ignored()))
}

func TestFactory_CancelDropsPendingShadows(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, eventually, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		select {
		case <-fleet.Done():
			return false
		default:
		}
		return fleet.Pending() == 2
	}, eventually, 5*time.Millisecond)

	fleet.Cancel()

	waitCtx, cancel := context.WithTimeout(h.ctx, eventually)
	defer cancel()
	require.NoError(t, fleet.Wait(waitCtx))
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 0, fleet.Pending())
	assert.Equal(t, []string{"irc-bridge"}, nicknames(fleet.Bots()))
}

func TestFactory_CloseDisconnectsBots(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	fleet, err := h.factory.Create(h.ctx, []any{
		map[string]any{"server": "irc.one.net", "nickname": "one"},
		map[string]any{"server": "irc.two.net", "nickname": "two"},
	})
	require.NoError(t, err)
	require.NoError(t, fleet.Close())

	for _, b := range h.builder.bots() {
		assert.True(t, b.isClosed())
	}
	assert.Empty(t, fleet.Bots())
}

func TestFactory_SyncQueuesOnlyNewMembers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, eventually, 5*time.Millisecond)
	h.fire(t, 3*time.Second, 2)
	h.fire(t, 3*time.Second, 3)
	require.NoError(t, fleet.Wait(h.ctx))

	h.directory.setMembers(append(standardMembers, slack.Member{ID: "U4", Name: "carol"})...)
	require.NoError(t, h.factory.Sync(h.ctx, fleet))
	assert.Equal(t, 1, h.queue.Len())

	h.advance(t, 3*time.Second)
	waitCtx, cancel := context.WithTimeout(h.ctx, eventually)
	defer cancel()
	require.NoError(t, fleet.Wait(waitCtx))

	assert.Equal(t, []string{"irc-bridge", "alice", "bob", "carol"}, nicknames(fleet.Bots()))
	assert.Equal(t, []string{"alice", "bob", "carol"}, nicknames(fleet.Bridge().Ignored()))
}

func TestFactory_SyncListFleetIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	fleet, err := h.factory.Create(h.ctx, []any{map[string]any{"server": "s", "nickname": "n"}})
	require.NoError(t, err)

	require.NoError(t, h.factory.Sync(h.ctx, fleet))
	assert.Empty(t, h.directory.seenTokens())
}

func TestFactory_SyncReportsDirectoryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.NoError(t, fleet.Wait(h.ctx))

	h.directory.mu.Lock()
	h.directory.err = errors.New("ratelimited")
	h.directory.mu.Unlock()

	require.Error(t, h.factory.Sync(h.ctx, fleet))
}

func TestFleet_Status(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers[:1]...)

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, eventually, 5*time.Millisecond)
	h.advance(t, 3*time.Second)
	require.NoError(t, fleet.Wait(h.ctx))

	st := fleet.Status()
	assert.Equal(t, fleet.RunID(), st.RunID)
	require.Len(t, st.Bots, 2)
	assert.True(t, st.Bots[0].CanSendToSlack)
	assert.Equal(t, []string{"alice"}, st.Bots[0].Ignoring)
	assert.Equal(t, "U1", st.Bots[1].SlackUser)
	assert.False(t, st.Bots[1].CanSendToSlack)
}

func TestFactory_SlowShadowDoesNotDelayLaterSlots(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers...)
	release := make(chan struct{})
	h.builder.holdNick["alice"] = release

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, eventually, 5*time.Millisecond)

	h.fire(t, 3*time.Second, 2)
	h.fire(t, 3*time.Second, 3)
	require.Eventually(t, func() bool { return len(fleet.Bots()) == 2 }, eventually, 5*time.Millisecond)
	assert.Equal(t, []string{"irc-bridge", "bob"}, nicknames(fleet.Bots()))

	select {
	case <-fleet.Done():
		t.Fatal("fleet reported done while alice was still connecting")
	default:
	}

	close(release)
	waitCtx, cancel := context.WithTimeout(h.ctx, eventually)
	defer cancel()
	require.NoError(t, fleet.Wait(waitCtx))
	assert.Equal(t, []string{"irc-bridge", "bob", "alice"}, nicknames(fleet.Bots()))
	assert.Equal(t, []string{"bob", "alice"}, nicknames(fleet.Bridge().Ignored()))
}

func TestFactory_ShutdownWhileShadowConnecting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, standardMembers[:1]...)
	h.builder.holdNick["alice"] = make(chan struct{})

	fleet, err := h.factory.Create(h.ctx, aggregateConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, eventually, 5*time.Millisecond)
	h.fire(t, 3*time.Second, 2)

	h.cancel()
	select {
	case err := <-h.runDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(eventually):
		t.Fatal("queue did not stop while a shadow was connecting")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	err = fleet.Wait(waitCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"irc-bridge"}, nicknames(fleet.Bots()))
}
