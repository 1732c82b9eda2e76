package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// APIProvider speaks the OpenAI-style /embeddings shape: one request per
// batch, one vector back per input.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	fallback int
	dims     dimCache
}

func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		fallback: cfg.Dimension,
	}
}

type embedBatchRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedBatchResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embedBatchRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embed batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post embed batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint: status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var decoded embedBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embed batch: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings endpoint: %d vectors for %d inputs", len(decoded.Data), len(texts))
	}

	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		out[i] = d.Embedding
	}
	p.dims.remember(out[0])
	return out, nil
}

// Dimension reports the vector width, preferring what the endpoint has
// actually returned over the configured value.
func (p *APIProvider) Dimension() int {
	return p.dims.value(p.fallback)
}
