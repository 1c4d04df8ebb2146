package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/metrics"
	"github.com/edgard/ircbridge/internal/stagger"
)

// Fleet is the set of bots created by one Factory.Create call.
//
// Bots known when Create returns are available immediately; shadow bots are
// added later as their stagger slots fire. Done and Wait report when every
// deferred creation has finished.
type Fleet struct {
	runID string

	mu       sync.Mutex
	template *config.BotConfig
	bridge   Bot
	bots     []Bot
	members  map[string]struct{}
	queued   map[string]*stagger.Handle
	pending  int
	done     chan struct{}
	errs     []error
	stopped  bool
}

func newFleet(runID string) *Fleet {
	done := make(chan struct{})
	close(done)
	return &Fleet{
		runID:   runID,
		members: make(map[string]struct{}),
		queued:  make(map[string]*stagger.Handle),
		done:    done,
	}
}

// RunID identifies the Create call that produced the fleet.
func (f *Fleet) RunID() string {
	return f.runID
}

// Bridge returns the bridge bot, or nil for a fleet built from a list.
func (f *Fleet) Bridge() Bot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridge
}

// Template returns the aggregate record shadow bots are derived from.
func (f *Fleet) Template() (config.BotConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.template == nil {
		return config.BotConfig{}, false
	}
	return *f.template, true
}

// Bots returns a snapshot of the connected bots in creation order.
func (f *Fleet) Bots() []Bot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Bot, len(f.bots))
	copy(out, f.bots)
	return out
}

// Pending returns the number of shadow bots waiting for their slot.
func (f *Fleet) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

// Done returns a channel closed once no deferred creation is outstanding.
// A later roster sync opens a new round with a new channel.
func (f *Fleet) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Err returns the shadow creation failures collected so far.
func (f *Fleet) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Join(f.errs...)
}

// Wait blocks until Done is closed or ctx ends, and returns the collected
// shadow creation failures.
func (f *Fleet) Wait(ctx context.Context) error {
	select {
	case <-f.Done():
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel drops every shadow creation still waiting in the stagger queue.
// Bots already created are kept.
func (f *Fleet) Cancel() {
	f.mu.Lock()
	f.stopped = true
	handles := make([]*stagger.Handle, 0, len(f.queued))
	for _, h := range f.queued {
		if h != nil {
			handles = append(handles, h)
		}
	}
	f.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Close cancels pending creations and disconnects every bot.
func (f *Fleet) Close() error {
	f.Cancel()

	f.mu.Lock()
	bots := f.bots
	f.bots = nil
	f.mu.Unlock()

	metrics.FleetBots.Sub(float64(len(bots)))

	var errs []error
	for _, b := range bots {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of the fleet.
type Status struct {
	RunID   string      `json:"run_id"`
	Bots    []BotStatus `json:"bots"`
	Pending int         `json:"pending"`
}

// BotStatus describes one bot of the fleet.
type BotStatus struct {
	Nickname       string   `json:"nickname"`
	SlackUser      string   `json:"slack_user,omitempty"`
	CanSendToSlack bool     `json:"can_send_to_slack"`
	Ignoring       []string `json:"ignoring,omitempty"`
}

// Status returns a snapshot for reporting.
func (f *Fleet) Status() Status {
	st := Status{RunID: f.runID, Pending: f.Pending()}
	for _, b := range f.Bots() {
		cfg := b.Config()
		bs := BotStatus{
			Nickname:       b.Nickname(),
			SlackUser:      cfg.SlackUser,
			CanSendToSlack: cfg.CanSendToSlack,
		}
		for _, ign := range b.Ignored() {
			bs.Ignoring = append(bs.Ignoring, ign.Nickname())
		}
		st.Bots = append(st.Bots, bs)
	}
	return st
}

func (f *Fleet) setBridge(b Bot, template config.BotConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridge = b
	f.template = &template
}

func (f *Fleet) add(b Bot) {
	f.mu.Lock()
	f.bots = append(f.bots, b)
	f.mu.Unlock()
	metrics.FleetBots.Inc()
}

// addShadow appends a shadow bot and registers it with the bridge. It
// reports false when the fleet was stopped meanwhile.
func (f *Fleet) addShadow(slackUser string, b Bot) bool {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return false
	}
	f.bots = append(f.bots, b)
	f.members[slackUser] = struct{}{}
	bridge := f.bridge
	f.mu.Unlock()

	metrics.FleetBots.Inc()
	if bridge != nil {
		bridge.IgnoreFrom(b)
	}
	return true
}

// claim reserves a slack user for a shadow bot. It fails when the user
// already has a bot, is already queued, or the fleet was stopped.
func (f *Fleet) claim(slackUser string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	if _, ok := f.members[slackUser]; ok {
		return false
	}
	if _, ok := f.queued[slackUser]; ok {
		return false
	}
	f.queued[slackUser] = nil
	return true
}

// track stores the queue handle of a claimed user unless its task already
// started. A handle tracked after Cancel is cancelled right away.
func (f *Fleet) track(slackUser string, h *stagger.Handle) {
	f.mu.Lock()
	if _, ok := f.queued[slackUser]; !ok {
		f.mu.Unlock()
		return
	}
	f.queued[slackUser] = h
	stopped := f.stopped
	f.mu.Unlock()

	if stopped {
		h.Cancel()
	}
}

// dequeue marks the claimed user as no longer waiting in the queue.
func (f *Fleet) dequeue(slackUser string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queued, slackUser)
}

func (f *Fleet) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *Fleet) begin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == 0 {
		f.done = make(chan struct{})
	}
	f.pending++
}

func (f *Fleet) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending--
	if f.pending == 0 {
		close(f.done)
	}
}
