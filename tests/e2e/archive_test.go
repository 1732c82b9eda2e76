//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/registry"
	"github.com/nidhogg/agora/internal/store"
)

func sentiment(v float64) *float64 { return &v }

func TestPostgresArchive(t *testing.T) {
	ctx := context.Background()
	dsn, cleanup, err := startPostgres(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer cleanup()

	logger := zap.NewNop()
	pg, err := store.New(dsn, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Run("roster round-trip", func(t *testing.T) {
		ada := &registry.Agent{
			ID:        "ada",
			Name:      "Ada",
			Traits:    map[string]float64{"openness": 0.8},
			Interests: []string{"bridges", "the weather"},
			Style:     "dry",
			Backstory: "Retired engineer.",
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
		if err := pg.SaveAgent(ctx, ada); err != nil {
			t.Fatalf("SaveAgent: %v", err)
		}
		// Upsert on the same id must not duplicate.
		if err := pg.SaveAgent(ctx, ada); err != nil {
			t.Fatalf("SaveAgent again: %v", err)
		}

		agents, err := pg.ListAgents(ctx)
		if err != nil {
			t.Fatalf("ListAgents: %v", err)
		}
		if len(agents) != 1 {
			t.Fatalf("len(agents) = %d, want 1", len(agents))
		}
		got := agents[0]
		if got.Name != "Ada" || got.Traits["openness"] != 0.8 || len(got.Interests) != 2 {
			t.Fatalf("agent round-trip = %+v", got)
		}
	})

	t.Run("conversation archive is idempotent", func(t *testing.T) {
		started := time.Now().UTC().Add(-10 * time.Minute)
		rec := &conversation.Record{
			ID:           "conv-1",
			Participants: []string{"ada", "bo"},
			Topic:        "the weather",
			Context: conversation.Context{
				District: "downtown",
				Location: "the square",
				Activity: "passing time",
			},
			Status:    conversation.StatusEnded,
			EndReason: conversation.EndMessageCap,
			StartedAt: started,
			EndedAt:   started.Add(9 * time.Minute),
			Messages: []conversation.Message{
				{ID: "m1", Author: "ada", Role: conversation.RoleAgent,
					Content: "Looks like rain.", Sentiment: sentiment(0.4),
					Topics: []string{"the weather"}, Timestamp: started.Add(time.Minute)},
				{ID: "m2", Author: "bo", Role: conversation.RoleAgent,
					Content: "Good for the garden.", Sentiment: sentiment(0.7),
					Topics: []string{"the weather"}, Timestamp: started.Add(2 * time.Minute)},
			},
			Metrics: conversation.MetricsSnapshot{Quality: 0.6},
		}

		if err := pg.ArchiveConversation(ctx, rec); err != nil {
			t.Fatalf("ArchiveConversation: %v", err)
		}
		if err := pg.ArchiveConversation(ctx, rec); err != nil {
			t.Fatalf("ArchiveConversation again: %v", err)
		}

		n, err := pg.ArchivedCount(ctx)
		if err != nil {
			t.Fatalf("ArchivedCount: %v", err)
		}
		if n != 1 {
			t.Fatalf("ArchivedCount = %d, want 1", n)
		}
	})
}
