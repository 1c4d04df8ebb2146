// Package slack wraps the Slack Web API calls the bridge needs: listing the
// workspace directory and posting relayed messages.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	slackapi "github.com/slack-go/slack"
)

// Member is a Slack workspace member as seen by the bridge.
type Member struct {
	ID   string
	Name string
}

// Directory lists the members of a Slack workspace.
type Directory interface {
	ListMembers(ctx context.Context) ([]Member, error)
}

// Poster posts a message to a Slack channel on behalf of an IRC user.
type Poster interface {
	Post(ctx context.Context, channel, username, text string) error
}

// Client implements Directory and Poster on the Slack Web API.
type Client struct {
	api    *slackapi.Client
	logger *slog.Logger
}

// NewClient creates a Slack client authenticated with token. apiURL
// overrides the Web API base URL when non-empty; it must end with a slash.
func NewClient(token, apiURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []slackapi.Option{}
	if apiURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(apiURL))
	}
	return &Client{
		api:    slackapi.New(token, opts...),
		logger: logger.With("component", "slack"),
	}
}

// ListMembers returns every member of the workspace in directory order.
func (c *Client) ListMembers(ctx context.Context) ([]Member, error) {
	users, err := c.api.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list slack users: %w", err)
	}

	members := make([]Member, 0, len(users))
	for _, u := range users {
		members = append(members, Member{ID: u.ID, Name: u.Name})
	}
	c.logger.DebugContext(ctx, "Listed slack members", "count", len(members))
	return members, nil
}

// Post sends text to channel with username as the displayed author.
func (c *Client) Post(ctx context.Context, channel, username, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channel,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionUsername(username),
		slackapi.MsgOptionAsUser(false),
	)
	if err != nil {
		return fmt.Errorf("failed to post to slack channel %s: %w", channel, err)
	}
	return nil
}
