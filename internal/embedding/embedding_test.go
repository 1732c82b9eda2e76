package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIProviderEmbedsBatch(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req embedBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]interface{}{"data": []map[string]interface{}{
			{"embedding": []float32{0.1, 0.2, 0.3}},
			{"embedding": []float32{0.4, 0.5, 0.6}},
		}}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model", APIKey: "sk-test"})

	vectors, err := p.Embed(context.Background(), []string{"hello", "there"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 3 {
		t.Fatalf("vectors = %v, want two of width 3", vectors)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q, want bearer key", gotAuth)
	}
	if p.Dimension() != 3 {
		t.Fatalf("Dimension = %d, want learned 3", p.Dimension())
	}
}

func TestAPIProviderRejectsShortBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{"data": []map[string]interface{}{
			{"embedding": []float32{0.1}},
		}}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model"})
	if _, err := p.Embed(context.Background(), []string{"one", "two"}); err == nil {
		t.Fatal("Embed accepted a batch with a missing vector")
	}
}

func TestAPIProviderEmptyInput(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 128})

	vectors, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil {
		t.Fatalf("vectors = %v, want nil for empty input", vectors)
	}
}

func TestAPIProviderDimensionFallback(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 256})
	if d := p.Dimension(); d != 256 {
		t.Fatalf("Dimension = %d, want configured 256", d)
	}
}

func TestLocalProviderFansOut(t *testing.T) {
	var prompts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req localEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompts = append(prompts, req.Prompt)
		json.NewEncoder(w).Encode(localEmbedResponse{Embedding: []float32{0.7, 0.8}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"})

	vectors, err := p.Embed(context.Background(), []string{"hello", "there"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors = %d, want one per prompt", len(vectors))
	}
	if len(prompts) != 2 || prompts[0] != "hello" || prompts[1] != "there" {
		t.Fatalf("prompts = %v, want each text in order", prompts)
	}
	if p.Dimension() != 2 {
		t.Fatalf("Dimension = %d, want learned 2", p.Dimension())
	}
}

func TestLocalProviderSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"})
	if _, err := p.Embed(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("Embed swallowed a server error")
	}
}
