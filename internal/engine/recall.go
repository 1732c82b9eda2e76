package engine

import (
	"context"
	"fmt"

	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/embedding"
	"github.com/nidhogg/agora/internal/vectorstore"
)

// SemanticIndex pairs an embedding provider with the Qdrant transcript
// collection. It satisfies TranscriptIndex; everything here is best-effort
// and callers log and move on.
type SemanticIndex struct {
	emb embedding.Provider
	vs  *vectorstore.Client
}

func NewSemanticIndex(emb embedding.Provider, vs *vectorstore.Client) *SemanticIndex {
	return &SemanticIndex{emb: emb, vs: vs}
}

// Init makes sure the transcript collection exists.
func (s *SemanticIndex) Init(ctx context.Context) error {
	return s.vs.EnsureCollection(ctx, vectorstore.TranscriptCollection, uint64(s.emb.Dimension()))
}

func (s *SemanticIndex) IndexMessage(ctx context.Context, rec *conversation.Record, msg conversation.Message) error {
	if msg.Role == conversation.RoleSystem || msg.Content == "" {
		return nil
	}
	vectors, err := s.emb.Embed(ctx, []string{msg.Content})
	if err != nil {
		return fmt.Errorf("embed message: %w", err)
	}
	if len(vectors) == 0 {
		return nil
	}
	return s.vs.Upsert(ctx, vectorstore.TranscriptCollection, msg.ID, vectors[0], map[string]string{
		"conversation": rec.ID,
		"district":     rec.Context.District,
		"author":       msg.Author,
		"topic":        rec.Topic,
		"content":      msg.Content,
	})
}

func (s *SemanticIndex) RecallSimilar(ctx context.Context, text, district string, topK int) ([]string, error) {
	vectors, err := s.emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	filter := map[string]string{}
	if district != "" {
		filter["district"] = district
	}
	hits, err := s.vs.Query(ctx, vectorstore.TranscriptCollection, vectors[0], filter, uint64(topK))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if c := h.Payload["content"]; c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
