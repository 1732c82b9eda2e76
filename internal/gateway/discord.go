package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/event"
)

// DiscordSink mirrors district events into a Discord channel.
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordSink creates a sink posting to the given channel. Sends go over
// Discord's REST API, so no gateway connection is opened.
func NewDiscordSink(botToken, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (*DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Deliver(ctx context.Context, ev event.Event) error {
	text := renderEvent(ev)
	if text == "" {
		return nil
	}
	_, err := s.session.ChannelMessageSend(s.channelID, text,
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (s *DiscordSink) Close() error {
	return s.session.Close()
}
