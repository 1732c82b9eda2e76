// Package event carries conversation lifecycle notifications as a closed
// set of variants over explicit channels. Dispatchers are constructed and
// injected, never global, so tests can substitute fakes and multiple
// engines never collide.
package event

import (
	"time"

	"github.com/nidhogg/agora/internal/conversation"
)

// Event is the sealed union of everything the engine announces.
type Event interface {
	isEvent()
	District() string
}

// ConversationStarted fires once reservation succeeded and the opener is
// about to be generated.
type ConversationStarted struct {
	ConversationID string
	Participants   []string
	Topic          string
	InDistrict     string
	At             time.Time
}

// MessageAdded fires for every appended message, including the synthetic
// closing summary.
type MessageAdded struct {
	ConversationID string
	InDistrict     string
	Message        conversation.Message
}

// ConversationEnded carries the final metrics of a terminated conversation.
type ConversationEnded struct {
	ConversationID string
	Participants   []string
	InDistrict     string
	Reason         conversation.EndReason
	Messages       int
	Metrics        conversation.MetricsSnapshot
	At             time.Time
}

func (ConversationStarted) isEvent() {}
func (MessageAdded) isEvent()        {}
func (ConversationEnded) isEvent()   {}

func (e ConversationStarted) District() string { return e.InDistrict }
func (e MessageAdded) District() string        { return e.InDistrict }
func (e ConversationEnded) District() string   { return e.InDistrict }
