// Package embedding is the semantic collaborator: vector embeddings for
// transcript recall plus a sentiment score per utterance. Both are
// best-effort side channels; nothing in the conversation engine depends on
// them for correctness.
package embedding

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New returns the provider named in the config, defaulting to the API one.
func New(cfg Config) Provider {
	if cfg.Provider == "local" {
		return NewLocalProvider(cfg)
	}
	return NewAPIProvider(cfg)
}

// Embeds ride a side channel of the turn path, so every call gets a hard
// deadline even when the caller's context has none.
var httpClient = &http.Client{Timeout: 15 * time.Second}

// dimCache learns the vector width from the first vector an endpoint
// actually returns, which beats trusting the configured value.
type dimCache struct {
	mu      sync.Mutex
	learned int
}

func (c *dimCache) remember(vec []float32) {
	if len(vec) == 0 {
		return
	}
	c.mu.Lock()
	if c.learned == 0 {
		c.learned = len(vec)
	}
	c.mu.Unlock()
}

func (c *dimCache) value(fallback int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.learned > 0 {
		return c.learned
	}
	return fallback
}

// readError keeps a short prefix of an error body for the message.
func readError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
