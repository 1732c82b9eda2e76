package event

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/conversation"
)

func TestPublishFansOut(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	ch1, cancel1 := d.Subscribe()
	defer cancel1()
	ch2, cancel2 := d.Subscribe()
	defer cancel2()

	d.Publish(ConversationStarted{
		ConversationID: "c1",
		Participants:   []string{"ada", "bo"},
		InDistrict:     "downtown",
		At:             time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			started, ok := ev.(ConversationStarted)
			if !ok {
				t.Fatalf("subscriber %d: got %T, want ConversationStarted", i, ev)
			}
			if started.ConversationID != "c1" {
				t.Fatalf("subscriber %d: id = %q, want c1", i, started.ConversationID)
			}
		default:
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestCancelClosesChannel(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	ch, cancel := d.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	// Cancel twice is harmless.
	cancel()

	// A canceled subscriber no longer receives.
	d.Publish(MessageAdded{ConversationID: "c1", InDistrict: "downtown"})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	ch, cancel := d.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			d.Publish(MessageAdded{ConversationID: "c1", InDistrict: "downtown"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained != subscriberBuffer {
		t.Fatalf("drained = %d, want the full buffer of %d", drained, subscriberBuffer)
	}
}

func TestDistrictAccessors(t *testing.T) {
	events := []Event{
		ConversationStarted{InDistrict: "old-town"},
		MessageAdded{InDistrict: "old-town"},
		ConversationEnded{InDistrict: "old-town", Reason: conversation.EndMessageCap},
	}
	for _, ev := range events {
		if got := ev.District(); got != "old-town" {
			t.Fatalf("%T.District() = %q, want old-town", ev, got)
		}
	}
}
