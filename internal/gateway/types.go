// Package gateway fans conversation events out to a city district's
// observers: an in-process sink for tests and the API, Redis Streams for
// other services, and Slack/Discord channels for humans watching the city.
// Broadcasts are fire-and-forget; a failing sink never stalls a turn.
package gateway

import (
	"context"
	"time"

	"github.com/nidhogg/agora/internal/event"
)

// Sink delivers one district event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev event.Event) error
	Close() error
}

// Envelope is the wire form of an event for external sinks.
type Envelope struct {
	Type           string    `json:"type"` // started|message|ended
	ConversationID string    `json:"conversation_id"`
	District       string    `json:"district"`
	Participants   []string  `json:"participants,omitempty"`
	Topic          string    `json:"topic,omitempty"`
	Author         string    `json:"author,omitempty"`
	Content        string    `json:"content,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Messages       int       `json:"messages,omitempty"`
	Quality        float64   `json:"quality,omitempty"`
	At             time.Time `json:"at"`
}

// Envelop flattens a typed event into its wire form.
func Envelop(ev event.Event) Envelope {
	switch e := ev.(type) {
	case event.ConversationStarted:
		return Envelope{
			Type:           "started",
			ConversationID: e.ConversationID,
			District:       e.InDistrict,
			Participants:   e.Participants,
			Topic:          e.Topic,
			At:             e.At,
		}
	case event.MessageAdded:
		return Envelope{
			Type:           "message",
			ConversationID: e.ConversationID,
			District:       e.InDistrict,
			Author:         e.Message.Author,
			Content:        e.Message.Content,
			At:             e.Message.Timestamp,
		}
	case event.ConversationEnded:
		return Envelope{
			Type:           "ended",
			ConversationID: e.ConversationID,
			District:       e.InDistrict,
			Participants:   e.Participants,
			Reason:         string(e.Reason),
			Messages:       e.Messages,
			Quality:        e.Metrics.Quality,
			At:             e.At,
		}
	default:
		return Envelope{Type: "unknown", District: ev.District()}
	}
}
