package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/agora/internal/conversation"
)

// ArchiveConversation writes a terminated conversation and its message log.
// Idempotent on conversation id.
func (s *Store) ArchiveConversation(ctx context.Context, rec *conversation.Record) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("archive %s: marshal participants: %w", rec.ID, err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("archive %s: marshal metrics: %w", rec.ID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive %s: begin: %w", rec.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations
			(id, participants, topic, district, location, activity,
			 end_reason, message_count, metrics, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, participants, rec.Topic, rec.Context.District,
		rec.Context.Location, rec.Context.Activity,
		string(rec.EndReason), len(rec.Messages), metrics,
		rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("archive %s: insert conversation: %w", rec.ID, err)
	}

	for i, m := range rec.Messages {
		topics, err := json.Marshal(m.Topics)
		if err != nil {
			return fmt.Errorf("archive %s: marshal topics: %w", rec.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages
				(id, conversation_id, seq, author, role, content, sentiment, topics, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, rec.ID, i, m.Author, string(m.Role), m.Content,
			m.Sentiment, topics, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("archive %s: insert message %s: %w", rec.ID, m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive %s: commit: %w", rec.ID, err)
	}
	return nil
}

// ArchivedCount returns how many conversations the archive holds.
func (s *Store) ArchivedCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("archived count: %w", err)
	}
	return n, nil
}
