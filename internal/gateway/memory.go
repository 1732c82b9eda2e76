package gateway

import (
	"context"
	"sync"

	"github.com/nidhogg/agora/internal/event"
)

// MemorySink keeps a bounded in-process history of district events. The API
// serves it, and tests assert against it.
type MemorySink struct {
	limit  int
	events []Envelope
	mu     sync.Mutex
}

// NewMemorySink creates a sink retaining at most limit events.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 256
	}
	return &MemorySink{limit: limit}
}

func (*MemorySink) Name() string { return "memory" }

func (s *MemorySink) Deliver(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Envelop(ev))
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
	return nil
}

// History returns the most recent events, oldest first.
func (s *MemorySink) History(limit int) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Envelope, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out
}

func (*MemorySink) Close() error { return nil }
