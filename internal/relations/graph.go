// Package relations mirrors the registry's friend graph into Neo4j,
// enriching edges with conversation history. The mirror is best-effort:
// callers log and continue when it is unavailable.
package relations

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Friendship is a directed edge between two residents.
type Friendship struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Strength    float64   `json:"strength"` // 0-1
	History     []string  `json:"history"`  // conversation summaries
	UpdatedAt   time.Time `json:"updated_at"`
}

// Graph manages friendships stored in Neo4j.
type Graph struct {
	driver    neo4j.DriverWithContext
	decayRate float64 // strength decay per decay pass
	logger    *zap.Logger
}

// NewGraph connects to Neo4j and returns a graph handle.
func NewGraph(uri, user, password string, decayRate float64, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, decayRate: decayRate, logger: logger}, nil
}

// Ping verifies connectivity.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts down the driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// EnsureFriendship creates or refreshes a friendship edge.
func (g *Graph) EnsureFriendship(ctx context.Context, fromID, toID string, strength float64) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Resident {id: $from})
		 MERGE (b:Resident {id: $to})
		 MERGE (a)-[r:FRIEND_OF]->(b)
		 ON CREATE SET r.strength = $strength, r.history = [], r.updated_at = datetime()
		 ON MATCH SET r.updated_at = datetime()`,
		map[string]interface{}{
			"from":     fromID,
			"to":       toID,
			"strength": strength,
		})
	if err != nil {
		return fmt.Errorf("ensure friendship: %w", err)
	}
	return nil
}

// RecordConversation strengthens every pairwise edge among the participants
// and appends the summary to each edge's history.
func (g *Graph) RecordConversation(ctx context.Context, participants []string, summary string, boost float64) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for i, from := range participants {
		for j, to := range participants {
			if i == j {
				continue
			}
			_, err := session.Run(ctx,
				`MERGE (a:Resident {id: $from})
				 MERGE (b:Resident {id: $to})
				 MERGE (a)-[r:FRIEND_OF]->(b)
				 ON CREATE SET r.strength = $boost, r.history = [$summary], r.updated_at = datetime()
				 ON MATCH SET
				   r.strength = CASE WHEN r.strength + $boost > 1.0 THEN 1.0 ELSE r.strength + $boost END,
				   r.history = r.history + $summary,
				   r.updated_at = datetime()`,
				map[string]interface{}{
					"from":    from,
					"to":      to,
					"boost":   boost,
					"summary": summary,
				})
			if err != nil {
				return fmt.Errorf("record conversation %s->%s: %w", from, to, err)
			}
		}
	}
	return nil
}

// Friendships returns all outgoing edges for an agent.
func (g *Graph) Friendships(ctx context.Context, agentID string) ([]*Friendship, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Resident {id: $agentId})-[r:FRIEND_OF]->(b:Resident)
		 RETURN b.id, r.strength, r.history`,
		map[string]interface{}{"agentId": agentID})
	if err != nil {
		return nil, fmt.Errorf("friendships: %w", err)
	}

	var edges []*Friendship
	for result.Next(ctx) {
		rec := result.Record()
		toID, _ := rec.Get("b.id")
		strength, _ := rec.Get("r.strength")
		history, _ := rec.Get("r.history")

		var hist []string
		if h, ok := history.([]interface{}); ok {
			for _, v := range h {
				if s, ok := v.(string); ok {
					hist = append(hist, s)
				}
			}
		}
		edges = append(edges, &Friendship{
			FromAgentID: agentID,
			ToAgentID:   toID.(string),
			Strength:    strength.(float64),
			History:     hist,
		})
	}
	return edges, nil
}

// Decay weakens every edge by the decay rate, flooring at zero. Meant to be
// driven periodically by the scheduler.
func (g *Graph) Decay(ctx context.Context) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH ()-[r:FRIEND_OF]->()
		 WHERE r.strength > 0
		 SET r.strength = CASE WHEN r.strength - $decay < 0 THEN 0 ELSE r.strength - $decay END`,
		map[string]interface{}{"decay": g.decayRate})
	if err != nil {
		g.logger.Warn("friendship decay failed", zap.Error(err))
	}
}
