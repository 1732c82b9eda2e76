package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/agora/internal/registry"
)

// SaveAgent upserts an agent into the roster table.
func (s *Store) SaveAgent(ctx context.Context, a *registry.Agent) error {
	traits, err := json.Marshal(a.Traits)
	if err != nil {
		return fmt.Errorf("save agent %s: marshal traits: %w", a.ID, err)
	}
	interests, err := json.Marshal(a.Interests)
	if err != nil {
		return fmt.Errorf("save agent %s: marshal interests: %w", a.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agents (id, name, traits, interests, style, backstory, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active`,
		a.ID, a.Name, traits, interests, a.Style, a.Backstory, a.Active, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// ListAgents returns the persisted roster.
func (s *Store) ListAgents(ctx context.Context) ([]*registry.Agent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, traits, interests, COALESCE(style,''), COALESCE(backstory,''), active, created_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*registry.Agent
	for rows.Next() {
		var a registry.Agent
		var traits, interests []byte
		if err := rows.Scan(&a.ID, &a.Name, &traits, &interests,
			&a.Style, &a.Backstory, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if len(traits) > 0 {
			if err := json.Unmarshal(traits, &a.Traits); err != nil {
				return nil, fmt.Errorf("agent %s: decode traits: %w", a.ID, err)
			}
		}
		if len(interests) > 0 {
			if err := json.Unmarshal(interests, &a.Interests); err != nil {
				return nil, fmt.Errorf("agent %s: decode interests: %w", a.ID, err)
			}
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}
