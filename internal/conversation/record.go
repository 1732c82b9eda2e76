package conversation

import (
	"time"
)

// Status tracks the conversation lifecycle. "proposed" is transient and
// never stored: a record only exists once reservation succeeded.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// EndReason explains why a conversation terminated.
type EndReason string

const (
	EndMaxDuration     EndReason = "max_duration"
	EndMessageCap      EndReason = "message_cap"
	EndLowQuality      EndReason = "low_quality"
	EndAmicableTaper   EndReason = "amicable_taper"
	EndTopicExhausted  EndReason = "topic_exhausted"
	EndBudgetExhausted EndReason = "budget_exhausted"
	EndGenerationFail  EndReason = "generation_failed"
)

// Context pins a conversation to a place and moment in the city.
type Context struct {
	Location string `json:"location"`
	Activity string `json:"activity"`
	District string `json:"district"`
}

// EmotionalDynamics captures the emotional texture of an exchange.
type EmotionalDynamics struct {
	Tension   float64 `json:"tension"`
	Agreement float64 `json:"agreement"`
	Empathy   float64 `json:"empathy"`
}

// InteractionPatterns captures structural conversation behavior.
type InteractionPatterns struct {
	TurnTakingBalance float64                  `json:"turn_taking_balance"`
	ResponseLatencies map[string]time.Duration `json:"response_latencies"`
	TopicInitiations  map[string]int           `json:"topic_initiations"`
}

// MetricsSnapshot is the derived-metrics bundle recomputed from the message
// log after every turn. It is never mutated independently of the log.
type MetricsSnapshot struct {
	Momentum            float64             `json:"momentum"`
	SilenceDuration     time.Duration       `json:"silence_duration"`
	SilenceProbability  float64             `json:"silence_probability"`
	TopicExhaustion     map[string]float64  `json:"topic_exhaustion"`
	EmotionalState      float64             `json:"emotional_state"`
	Dynamics            EmotionalDynamics   `json:"dynamics"`
	Patterns            InteractionPatterns `json:"patterns"`
	Engagement          map[string]float64  `json:"engagement"`
	ContextualRelevance float64             `json:"contextual_relevance"`
	Depth               float64             `json:"depth"`
	Quality             float64             `json:"quality"`
}

// Record is the authoritative state of one conversation. The message log is
// the source of truth; everything in Metrics derives from it.
type Record struct {
	ID            string          `json:"id"`
	Participants  []string        `json:"participants"`
	Messages      []Message       `json:"messages"`
	Topic         string          `json:"topic"`
	TopicHistory  []string        `json:"topic_history"`
	Context       Context         `json:"context"`
	Status        Status          `json:"status"`
	EndReason     EndReason       `json:"end_reason,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	LastMessageAt time.Time       `json:"last_message_at"`
	EndedAt       time.Time       `json:"ended_at,omitempty"`
	Metrics       MetricsSnapshot `json:"metrics"`
}

// LastSpeakers returns the authors of the most recent n messages, newest
// first, skipping system entries.
func (r *Record) LastSpeakers(n int) []string {
	out := make([]string, 0, n)
	for i := len(r.Messages) - 1; i >= 0 && len(out) < n; i-- {
		if r.Messages[i].Role == RoleSystem {
			continue
		}
		out = append(out, r.Messages[i].Author)
	}
	return out
}

// clone returns a copy whose slices and maps are independent of the stored
// record.
func (r *Record) clone() *Record {
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	cp.Messages = append([]Message(nil), r.Messages...)
	cp.TopicHistory = append([]string(nil), r.TopicHistory...)
	cp.Metrics = r.Metrics.clone()
	return &cp
}

func (s MetricsSnapshot) clone() MetricsSnapshot {
	cp := s
	if s.TopicExhaustion != nil {
		cp.TopicExhaustion = make(map[string]float64, len(s.TopicExhaustion))
		for k, v := range s.TopicExhaustion {
			cp.TopicExhaustion[k] = v
		}
	}
	if s.Engagement != nil {
		cp.Engagement = make(map[string]float64, len(s.Engagement))
		for k, v := range s.Engagement {
			cp.Engagement[k] = v
		}
	}
	if s.Patterns.ResponseLatencies != nil {
		cp.Patterns.ResponseLatencies = make(map[string]time.Duration, len(s.Patterns.ResponseLatencies))
		for k, v := range s.Patterns.ResponseLatencies {
			cp.Patterns.ResponseLatencies[k] = v
		}
	}
	if s.Patterns.TopicInitiations != nil {
		cp.Patterns.TopicInitiations = make(map[string]int, len(s.Patterns.TopicInitiations))
		for k, v := range s.Patterns.TopicInitiations {
			cp.Patterns.TopicInitiations[k] = v
		}
	}
	return cp
}
