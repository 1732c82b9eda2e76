package conversation

import (
	"time"
)

// Role classifies who produced a message.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Message is one entry in a conversation log. Immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"` // agent id, or "user"/"system" sentinel
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment *float64  `json:"sentiment,omitempty"` // 0-1 when scored
	Topics    []string  `json:"topics,omitempty"`
}

// SentimentOr returns the scored sentiment or the given fallback.
func (m Message) SentimentOr(fallback float64) float64 {
	if m.Sentiment != nil {
		return *m.Sentiment
	}
	return fallback
}
