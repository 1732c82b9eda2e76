package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/event"
)

func startedEvent(id string) event.ConversationStarted {
	return event.ConversationStarted{
		ConversationID: id,
		Participants:   []string{"ada", "bo"},
		Topic:          "the weather",
		InDistrict:     "downtown",
		At:             time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEnvelop(t *testing.T) {
	started := Envelop(startedEvent("c1"))
	if started.Type != "started" || started.ConversationID != "c1" || started.District != "downtown" {
		t.Fatalf("started envelope = %+v", started)
	}

	msg := Envelop(event.MessageAdded{
		ConversationID: "c1",
		InDistrict:     "downtown",
		Message: conversation.Message{
			Author:    "ada",
			Content:   "looks like rain",
			Timestamp: time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC),
		},
	})
	if msg.Type != "message" || msg.Author != "ada" || msg.Content != "looks like rain" {
		t.Fatalf("message envelope = %+v", msg)
	}

	ended := Envelop(event.ConversationEnded{
		ConversationID: "c1",
		InDistrict:     "downtown",
		Reason:         conversation.EndMessageCap,
		Messages:       100,
		Metrics:        conversation.MetricsSnapshot{Quality: 0.74},
	})
	if ended.Type != "ended" || ended.Reason != "message_cap" || ended.Quality != 0.74 {
		t.Fatalf("ended envelope = %+v", ended)
	}
}

func TestMemorySinkBoundedHistory(t *testing.T) {
	s := NewMemorySink(3)
	for i := 0; i < 5; i++ {
		if err := s.Deliver(context.Background(), startedEvent(fmt.Sprintf("c%d", i))); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}

	hist := s.History(0)
	if len(hist) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(hist))
	}
	// Oldest first, only the most recent retained.
	if hist[0].ConversationID != "c2" || hist[2].ConversationID != "c4" {
		t.Fatalf("History window = [%s .. %s], want [c2 .. c4]",
			hist[0].ConversationID, hist[2].ConversationID)
	}

	if got := len(s.History(2)); got != 2 {
		t.Fatalf("len(History(2)) = %d, want 2", got)
	}
}

// blockingSink lets tests observe and control asynchronous delivery.
type blockingSink struct {
	mu        sync.Mutex
	delivered []event.Event
	err       error
	panics    bool
	done      chan struct{}
}

func (*blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(_ context.Context, ev event.Event) error {
	defer func() { s.done <- struct{}{} }()
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	s.delivered = append(s.delivered, ev)
	s.mu.Unlock()
	return s.err
}

func (*blockingSink) Close() error { return nil }

func TestBroadcastReachesAllSinks(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	healthy := &blockingSink{done: make(chan struct{}, 1)}
	failing := &blockingSink{done: make(chan struct{}, 1), err: errors.New("down")}
	exploding := &blockingSink{done: make(chan struct{}, 1), panics: true}
	b.Register(healthy)
	b.Register(failing)
	b.Register(exploding)

	b.Broadcast(startedEvent("c1"))

	for i, s := range []*blockingSink{healthy, failing, exploding} {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("sink %d never attempted", i)
		}
	}

	healthy.mu.Lock()
	defer healthy.mu.Unlock()
	if len(healthy.delivered) != 1 {
		t.Fatalf("healthy sink delivered = %d, want 1", len(healthy.delivered))
	}
}
