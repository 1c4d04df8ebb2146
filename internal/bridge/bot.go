// Package bridge builds and tracks the fleet of IRC bots bridging a Slack
// workspace: a single bridge bot allowed to relay to Slack, plus one shadow
// bot per Slack member, created on a stagger to stay clear of flood limits.
package bridge

import (
	"context"

	"github.com/edgard/ircbridge/internal/config"
)

// Bot is a single IRC presence owned by the fleet.
type Bot interface {
	// Connect starts the bot's connection lifecycle.
	Connect(ctx context.Context) error

	// Nickname returns the nickname the bot uses on the network.
	Nickname() string

	// Config returns the record the bot was constructed from.
	Config() config.BotConfig

	// IgnoreFrom registers another bot whose messages this bot must not relay.
	IgnoreFrom(other Bot)

	// Ignored returns the bots registered with IgnoreFrom.
	Ignored() []Bot

	// Close disconnects the bot.
	Close() error
}

// Constructor builds an unconnected bot from a configuration snapshot.
type Constructor func(cfg config.BotConfig) (Bot, error)
