//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/event"
	"github.com/nidhogg/agora/internal/gateway"
)

func TestRedisStreamSink(t *testing.T) {
	ctx := context.Background()
	url, cleanup, err := startRedis(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	defer cleanup()

	logger := zap.NewNop()
	sink, err := gateway.NewStreamSink(url, logger)
	if err != nil {
		t.Fatalf("NewStreamSink: %v", err)
	}
	defer sink.Close()

	tailCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	tail := sink.Tail(tailCtx, "downtown")

	// Tail reads from "$", so give the reader a moment to attach before
	// publishing.
	time.Sleep(500 * time.Millisecond)

	err = sink.Deliver(ctx, event.ConversationStarted{
		ConversationID: "conv-1",
		Participants:   []string{"ada", "bo"},
		Topic:          "the weather",
		InDistrict:     "downtown",
		At:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case env := <-tail:
		if env.Type != "started" || env.ConversationID != "conv-1" || env.District != "downtown" {
			t.Fatalf("envelope = %+v", env)
		}
	case <-tailCtx.Done():
		t.Fatal("no envelope received from stream tail")
	}
}
