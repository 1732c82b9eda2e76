package conversation

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for unknown conversation ids.
	ErrNotFound = errors.New("conversation not found")
	// ErrEnded is returned for mutations on a terminated conversation.
	ErrEnded = errors.New("conversation already ended")
	// ErrAgentEngaged guards the one-active-conversation-per-agent invariant
	// at the store boundary.
	ErrAgentEngaged = errors.New("agent already in an active conversation")
)

// Store is the authoritative in-memory map of conversation id to record,
// with an index enforcing one active conversation per agent.
type Store struct {
	records map[string]*Record
	active  map[string]string // agentID -> conversationID
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		records: make(map[string]*Record),
		active:  make(map[string]string),
		logger:  logger,
	}
}

// Create registers a new active record. Every participant must be free.
func (s *Store) Create(rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("create conversation: empty id")
	}
	if len(rec.Participants) < 1 {
		return fmt.Errorf("create conversation %s: no participants", rec.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("create conversation %s: id already exists", rec.ID)
	}
	for _, p := range rec.Participants {
		if conv, engaged := s.active[p]; engaged {
			return fmt.Errorf("agent %s held by %s: %w", p, conv, ErrAgentEngaged)
		}
	}
	cp := rec.clone()
	cp.Status = StatusActive
	s.records[cp.ID] = cp
	for _, p := range cp.Participants {
		s.active[p] = cp.ID
	}
	return nil
}

// Get returns a copy of a record.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return rec.clone(), nil
}

// Append adds a message to an active conversation's log. The log is
// append-only; prior entries are never touched.
func (s *Store) Append(id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if rec.Status != StatusActive {
		return fmt.Errorf("conversation %s: %w", id, ErrEnded)
	}
	// Keep the log timestamp-ordered even if a caller's clock lags.
	if len(rec.Messages) > 0 {
		last := rec.Messages[len(rec.Messages)-1].Timestamp
		if msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}
	rec.Messages = append(rec.Messages, msg)
	rec.LastMessageAt = msg.Timestamp
	return nil
}

// SetTopic shifts the conversation to a new topic, recording the old one.
func (s *Store) SetTopic(id, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if rec.Status != StatusActive {
		return fmt.Errorf("conversation %s: %w", id, ErrEnded)
	}
	if rec.Topic != "" && rec.Topic != topic {
		rec.TopicHistory = append(rec.TopicHistory, rec.Topic)
	}
	rec.Topic = topic
	return nil
}

// SetMetrics replaces the derived-metrics snapshot.
func (s *Store) SetMetrics(id string, snap MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	rec.Metrics = snap.clone()
	return nil
}

// End marks a record ended and removes its participants from the active
// index. Idempotent: ending twice returns ErrEnded the second time.
func (s *Store) End(id string, reason EndReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if rec.Status != StatusActive {
		return fmt.Errorf("conversation %s: %w", id, ErrEnded)
	}
	s.endLocked(rec, reason)
	return nil
}

// EndWithSummary appends a closing message and ends the record in one
// critical section, so two racing terminators cannot both leave a summary.
// The loser observes ErrEnded and appends nothing.
func (s *Store) EndWithSummary(id string, summary Message, reason EndReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if rec.Status != StatusActive {
		return fmt.Errorf("conversation %s: %w", id, ErrEnded)
	}
	if len(rec.Messages) > 0 {
		last := rec.Messages[len(rec.Messages)-1].Timestamp
		if summary.Timestamp.Before(last) {
			summary.Timestamp = last
		}
	}
	rec.Messages = append(rec.Messages, summary)
	rec.LastMessageAt = summary.Timestamp
	s.endLocked(rec, reason)
	return nil
}

func (s *Store) endLocked(rec *Record, reason EndReason) {
	rec.Status = StatusEnded
	rec.EndReason = reason
	rec.EndedAt = rec.LastMessageAt
	for _, p := range rec.Participants {
		if s.active[p] == rec.ID {
			delete(s.active, p)
		}
	}
	s.logger.Info("conversation ended",
		zap.String("conversation", rec.ID),
		zap.String("reason", string(reason)),
		zap.Int("messages", len(rec.Messages)))
}

// ActiveByAgent returns the id of the conversation currently holding an
// agent, if any.
func (s *Store) ActiveByAgent(agentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[agentID]
	return id, ok
}

// ListActive returns copies of all active records.
func (s *Store) ListActive() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.active))
	seen := make(map[string]struct{})
	for _, id := range s.active {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, s.records[id].clone())
	}
	return out
}

// ListEnded returns copies of all archived records.
func (s *Store) ListEnded() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.Status == StatusEnded {
			out = append(out, rec.clone())
		}
	}
	return out
}

// CountActive returns the number of active conversations.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, id := range s.active {
		seen[id] = struct{}{}
	}
	return len(seen)
}
