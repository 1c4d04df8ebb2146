// Package irc implements bridge bots on top of an IRC client connection.
package irc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/config"
	"github.com/edgard/ircbridge/internal/highlight"
	"github.com/edgard/ircbridge/internal/logger"
	"github.com/edgard/ircbridge/internal/slack"
)

// postTimeout bounds a single relayed Slack post.
const postTimeout = 10 * time.Second

// PosterFunc returns the Slack poster authenticated with token.
type PosterFunc func(token string) slack.Poster

// Deps contains the collaborators shared by every bot.
type Deps struct {
	Logger *slog.Logger
	Poster PosterFunc
}

// New returns a bridge.Constructor building IRC bots.
func New(deps Deps) bridge.Constructor {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(cfg config.BotConfig) (bridge.Bot, error) {
		if cfg.CanSendToSlack && deps.Poster == nil {
			return nil, fmt.Errorf("bot %s relays to slack but no poster is configured", cfg.Nickname)
		}
		b := newBot(cfg, log)
		if cfg.CanSendToSlack {
			b.poster = deps.Poster(cfg.Token)
		}
		return b, nil
	}
}

// Bot is a single IRC connection.
type Bot struct {
	cfg    config.BotConfig
	logger *slog.Logger
	poster slack.Poster

	// toSlack maps IRC channels to Slack channels.
	toSlack map[string]string

	conn *ircevent.Connection

	mu      sync.Mutex
	ignored []bridge.Bot
}

var _ bridge.Bot = (*Bot)(nil)

func newBot(cfg config.BotConfig, log *slog.Logger) *Bot {
	cfg = cfg.With(config.Override{
		Nickname:       cfg.Nickname,
		SlackUser:      cfg.SlackUser,
		CanSendToSlack: cfg.CanSendToSlack,
	})

	toSlack := make(map[string]string, len(cfg.ChannelMapping))
	for slackChannel, ircChannel := range cfg.ChannelMapping {
		toSlack[strings.ToLower(ircChannel)] = slackChannel
	}

	return &Bot{
		cfg:     cfg,
		logger:  log.With("component", "irc", "nickname", cfg.Nickname),
		toSlack: toSlack,
	}
}

// Connect dials the server, joins the configured channels once registered,
// and starts the event loop.
func (b *Bot) Connect(ctx context.Context) error {
	conn := &ircevent.Connection{
		Server:      b.cfg.Address(),
		Nick:        b.cfg.Nickname,
		User:        b.cfg.Nickname,
		RealName:    b.cfg.Nickname,
		Password:    b.cfg.Password,
		UseTLS:      b.cfg.TLS,
		QuitMessage: "bridge shutting down",
		Log:         logger.StdLogger(b.logger, slog.LevelDebug),
	}

	conn.AddConnectCallback(func(ircmsg.Message) {
		for _, channel := range b.cfg.Channels {
			if err := conn.Join(channel); err != nil {
				b.logger.Warn("Failed to join channel", "channel", channel, "error", err)
				continue
			}
			b.logger.Debug("Joined channel", "channel", channel)
		}
	})

	if b.cfg.CanSendToSlack {
		conn.AddCallback("PRIVMSG", func(e ircmsg.Message) {
			if len(e.Params) < 2 {
				return
			}
			b.relay(context.Background(), e.Nick(), e.Params[0], e.Params[1])
		})
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	b.logger.Info("Connecting to IRC server", "server", conn.Server, "tls", conn.UseTLS)
	result := make(chan error, 1)
	go func() { result <- conn.Connect() }()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", conn.Server, err)
		}
	case <-ctx.Done():
		// Registration may still complete; quit as soon as it does.
		go func() {
			if err := <-result; err == nil {
				conn.Quit()
			}
		}()
		b.logger.Info("Connect cancelled", "server", conn.Server)
		return ctx.Err()
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go conn.Loop()
	return nil
}

// Nickname returns the bot's current nickname.
func (b *Bot) Nickname() string {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		if nick := conn.CurrentNick(); nick != "" {
			return nick
		}
	}
	return b.cfg.Nickname
}

// Config returns a copy of the configuration the bot was built from.
func (b *Bot) Config() config.BotConfig {
	return b.cfg.With(config.Override{
		Nickname:       b.cfg.Nickname,
		SlackUser:      b.cfg.SlackUser,
		CanSendToSlack: b.cfg.CanSendToSlack,
	})
}

// IgnoreFrom stops relaying messages sent by other.
func (b *Bot) IgnoreFrom(other bridge.Bot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ignored = append(b.ignored, other)
}

// Ignored returns the bots whose messages are not relayed.
func (b *Bot) Ignored() []bridge.Bot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Bot(nil), b.ignored...)
}

// Close quits the server. Closing a bot that never connected is a no-op.
func (b *Bot) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	b.logger.Info("Disconnecting from IRC server")
	conn.Quit()
	return nil
}

// relay forwards a channel message to the mapped Slack channel.
func (b *Bot) relay(ctx context.Context, from, target, text string) {
	channel, ok := b.route(from, target)
	if !ok {
		return
	}

	text = highlight.Usernames(b.ignoredNicknames(), text)

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	if err := b.poster.Post(ctx, channel, from, text); err != nil {
		b.logger.Error("Failed to relay message to Slack",
			"from", from, "irc_channel", target, "slack_channel", channel, "error", err)
		return
	}
	b.logger.Debug("Relayed message to Slack", "from", from, "slack_channel", channel)
}

// route returns the Slack channel for a message, or false when the message
// must not be relayed.
func (b *Bot) route(from, target string) (string, bool) {
	if b.poster == nil || from == "" {
		return "", false
	}
	if strings.EqualFold(from, b.Nickname()) {
		return "", false
	}
	for _, nick := range b.ignoredNicknames() {
		if strings.EqualFold(from, nick) {
			return "", false
		}
	}
	channel, ok := b.toSlack[strings.ToLower(target)]
	return channel, ok
}

func (b *Bot) ignoredNicknames() []string {
	ignored := b.Ignored()
	nicks := make([]string, 0, len(ignored))
	for _, other := range ignored {
		nicks = append(nicks, other.Nickname())
	}
	return nicks
}
