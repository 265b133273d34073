package gateway

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackAdapter posts announcements to one Slack channel with a bot token.
type SlackAdapter struct {
	client  *slack.Client
	channel string
	botUser string
	logger  *zap.Logger
}

// NewSlackAdapter creates a Slack adapter. Extra options are passed to the
// Slack client.
func NewSlackAdapter(botToken, channel string, logger *zap.Logger, opts ...slack.Option) *SlackAdapter {
	return &SlackAdapter{
		client:  slack.New(botToken, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// Connect verifies the bot token.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	if a.channel == "" {
		return fmt.Errorf("slack: channel is required")
	}
	resp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	a.botUser = resp.User
	a.logger.Info("slack adapter ready",
		zap.String("team", resp.Team),
		zap.String("user", resp.User),
		zap.String("channel", a.channel))
	return nil
}

// Announce posts a to the configured channel.
func (a *SlackAdapter) Announce(ctx context.Context, ann *Announcement) error {
	text := fmt.Sprintf("%s *%s*\n%s", slackIcon(ann.Kind), ann.Title, ann.Content)
	_, _, err := a.client.PostMessageContext(ctx, a.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", a.channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the Slack web client holds no connection.
func (a *SlackAdapter) Close() error { return nil }

func slackIcon(k Kind) string {
	switch k {
	case KindModeration:
		return ":warning:"
	case KindDiscovery:
		return ":sparkles:"
	default:
		return ":speech_balloon:"
	}
}
