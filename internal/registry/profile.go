package registry

import (
	"time"
)

// Interaction is one completed exchange with another agent or a user,
// kept inside the recency window.
type Interaction struct {
	WithID         string    `json:"with_id"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
	Sentiment      float64   `json:"sentiment"`
}

// RoutineSlot maps a daily time slot to what the agent is doing, where,
// what it tends to talk about there, and how approachable it is.
type RoutineSlot struct {
	StartHour         int      `json:"start_hour"` // inclusive
	EndHour           int      `json:"end_hour"`   // exclusive
	Activity          string   `json:"activity"`
	Location          string   `json:"location"`
	Topics            []string `json:"topics"`
	SocialProbability float64  `json:"social_probability"`
}

// Contains reports whether the slot covers the given local hour.
func (s RoutineSlot) Contains(hour int) bool {
	if s.StartHour <= s.EndHour {
		return hour >= s.StartHour && hour < s.EndHour
	}
	// Slot that wraps midnight, e.g. 22-6.
	return hour >= s.StartHour || hour < s.EndHour
}

// SocialProfile is the mutable social state the registry owns for an agent.
type SocialProfile struct {
	AgentID string                  `json:"agent_id"`
	Friends map[string]struct{}     `json:"-"`
	Recent  []Interaction           `json:"recent"`
	Routine []RoutineSlot           `json:"routine"`
}

func newSocialProfile(agentID string) *SocialProfile {
	return &SocialProfile{
		AgentID: agentID,
		Friends: make(map[string]struct{}),
	}
}

// prune drops interactions older than the window, preserving order.
func (p *SocialProfile) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := p.Recent[:0]
	for _, in := range p.Recent {
		if in.At.After(cutoff) {
			kept = append(kept, in)
		}
	}
	p.Recent = kept
}

// slotAt returns the routine slot covering the hour, if any.
func (p *SocialProfile) slotAt(hour int) *RoutineSlot {
	for i := range p.Routine {
		if p.Routine[i].Contains(hour) {
			return &p.Routine[i]
		}
	}
	return nil
}
