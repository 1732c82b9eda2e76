package engine

import (
	"context"
	"fmt"

	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/provider"
	"github.com/nidhogg/agora/internal/registry"
)

// RouterGenerator backs the Generator interface with the provider router.
// Temperature follows the speaker's openness so set-in-their-ways residents
// ramble less.
type RouterGenerator struct {
	router *provider.Router
}

func NewRouterGenerator(r *provider.Router) *RouterGenerator {
	return &RouterGenerator{router: r}
}

func (g *RouterGenerator) Generate(ctx context.Context, agent *registry.Agent, prior []conversation.Message, systemPrompt string) (string, error) {
	msgs := make([]provider.Message, 0, len(prior)+1)
	msgs = append(msgs, provider.Message{Role: "system", Content: systemPrompt})
	for _, m := range prior {
		if m.Role == conversation.RoleSystem {
			continue
		}
		role := "user"
		if m.Author == agent.ID {
			role = "assistant"
		}
		msgs = append(msgs, provider.Message{Role: role, Content: m.Content})
	}

	resp, err := g.router.Route(ctx, agent.ID, &provider.ChatRequest{
		Messages:    msgs,
		Temperature: 0.5 + 0.4*agent.Trait(registry.TraitOpenness),
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("route generation for %s: %w", agent.ID, err)
	}
	return resp.Content, nil
}
