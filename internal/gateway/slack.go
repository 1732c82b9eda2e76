package gateway

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/event"
)

// SlackSink mirrors district events into a Slack channel for human
// observers of the city.
type SlackSink struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackSink creates a sink posting to the given channel.
func NewSlackSink(botToken, channel string, logger *zap.Logger) *SlackSink {
	return &SlackSink{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (*SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, ev event.Event) error {
	text := renderEvent(ev)
	if text == "" {
		return nil
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func (*SlackSink) Close() error { return nil }

// renderEvent formats an event for human channels. Message bodies are
// elided; observers get the city's pulse, not transcripts.
func renderEvent(ev event.Event) string {
	env := Envelop(ev)
	switch env.Type {
	case "started":
		return fmt.Sprintf("[%s] conversation started on %q (%d voices)",
			env.District, env.Topic, len(env.Participants))
	case "ended":
		return fmt.Sprintf("[%s] conversation ended after %d messages (%s, quality %.2f)",
			env.District, env.Messages, env.Reason, env.Quality)
	default:
		return ""
	}
}
