package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter posts announcements as embeds to one Discord channel.
type DiscordAdapter struct {
	token   string
	channel string
	session *discordgo.Session

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string

	logger *zap.Logger
}

// NewDiscordAdapter creates a Discord adapter.
func NewDiscordAdapter(token, channel string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:   token,
		channel: channel,
		logger:  logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	if a.channel == "" {
		return fmt.Errorf("discord: channel is required")
	}
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.fail(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	if err := session.Open(); err != nil {
		a.fail(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.String("channel", a.channel))
	return nil
}

func (a *DiscordAdapter) fail(msg string) {
	a.mu.Lock()
	a.connected = false
	a.lastError = msg
	a.mu.Unlock()
}

// Announce sends a as an embed.
func (a *DiscordAdapter) Announce(ctx context.Context, ann *Announcement) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	if _, err := session.ChannelMessageSendEmbed(a.channel, discordEmbed(ann), discordgo.WithContext(ctx)); err != nil {
		a.logger.Error("discord send failed",
			zap.String("channel", a.channel), zap.Error(err))
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

// Status reports the connection state.
func (a *DiscordAdapter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := Status{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		if a.session != nil && a.session.State != nil && a.session.State.User != nil {
			s.Details = fmt.Sprintf("bot=%s, guilds=%d",
				a.session.State.User.Username, len(a.session.State.Guilds))
		}
	}
	return s
}

func discordEmbed(ann *Announcement) *discordgo.MessageEmbed {
	color := 0x5865F2
	switch ann.Kind {
	case KindModeration:
		color = 0xED4245
	case KindDiscovery:
		color = 0x57F287
	}
	e := &discordgo.MessageEmbed{
		Title:       ann.Title,
		Description: ann.Content,
		Color:       color,
	}
	if !ann.At.IsZero() {
		e.Timestamp = ann.At.UTC().Format(time.RFC3339)
	}
	if ann.TargetID != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: ann.TargetID}
	}
	return e
}
