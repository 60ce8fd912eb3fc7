package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// openaiEmbeddingResponse mirrors the OpenAI-compatible API embedding response.
type openaiEmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func testSpec(dims int) domain.ModelSpec {
	return domain.ModelSpec{Tier: domain.TierSmall, ModelID: "test-model", Dimensions: dims}
}

func newTestEmbedder(t *testing.T, baseURL string, dims int) *Embedder {
	t.Helper()
	return NewEmbedder(&Config{
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Provider:      "test",
		RetryAttempts: 1,
		Logger:        zap.NewNop(),
	}, testSpec(dims))
}

func embeddingServer(t *testing.T, vectors [][]float32, prompt, total int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		resp := openaiEmbeddingResponse{Object: "list", Model: "test-model"}
		for i, vec := range vectors {
			resp.Data = append(resp.Data, embeddingItem{Object: "embedding", Embedding: vec, Index: i})
		}
		resp.Usage.PromptTokens = prompt
		resp.Usage.TotalTokens = total

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedder_Embed(t *testing.T) {
	expectedVec := []float32{0.1, 0.2, 0.3, 0.4}
	server := embeddingServer(t, [][]float32{expectedVec}, 10, 10)
	defer server.Close()

	emb := newTestEmbedder(t, server.URL, 4)

	result, err := emb.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Embedding) != len(expectedVec) {
		t.Fatalf("expected %d dimensions, got %d", len(expectedVec), len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != expectedVec[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expectedVec[i])
		}
	}
	if result.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, expected 10", result.TotalTokens)
	}
}

func TestEmbedder_EmbedBlankSkipsWire(t *testing.T) {
	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	emb := newTestEmbedder(t, server.URL, 3)

	result, err := emb.Embed(context.Background(), "   \t\n")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if called.Load() {
		t.Error("blank text must not reach the API")
	}
	if len(result.Embedding) != 3 {
		t.Fatalf("expected zero vector of 3 dims, got %d", len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != 0 {
			t.Errorf("vec[%d] = %f, expected 0", i, v)
		}
	}
}

func TestEmbedder_BatchEmbedFillsBlankPositions(t *testing.T) {
	vec1 := []float32{0.1, 0.2}
	vec2 := []float32{0.3, 0.4}
	server := embeddingServer(t, [][]float32{vec1, vec2}, 20, 20)
	defer server.Close()

	emb := newTestEmbedder(t, server.URL, 2)

	result, err := emb.BatchEmbed(context.Background(), []string{"hello", "", "world"})
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if len(result.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(result.Embeddings))
	}
	if result.Embeddings[0][0] != 0.1 {
		t.Errorf("first vec[0] = %f, expected 0.1", result.Embeddings[0][0])
	}
	if result.Embeddings[1][0] != 0 || result.Embeddings[1][1] != 0 {
		t.Errorf("blank position must be the zero vector, got %v", result.Embeddings[1])
	}
	if result.Embeddings[2][0] != 0.3 {
		t.Errorf("third vec[0] = %f, expected 0.3", result.Embeddings[2][0])
	}
	if result.TotalTokens != 20 {
		t.Errorf("TotalTokens = %d, expected 20", result.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_Empty(t *testing.T) {
	emb := newTestEmbedder(t, "http://unused", 2)

	result, err := emb.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Embeddings != nil {
		t.Errorf("expected nil embeddings for empty input, got %v", result.Embeddings)
	}
}

func TestEmbedder_BatchEmbed_CountMismatch(t *testing.T) {
	server := embeddingServer(t, [][]float32{{0.1, 0.2}}, 5, 5)
	defer server.Close()

	emb := newTestEmbedder(t, server.URL, 2)

	_, err := emb.BatchEmbed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for count mismatch")
	}
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Errorf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestEmbedder_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := openaiEmbeddingResponse{Object: "list", Model: "test-model"}
		resp.Data = append(resp.Data, embeddingItem{Object: "embedding", Embedding: []float32{1, 2}, Index: 0})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	emb := newTestEmbedder(t, server.URL, 2)

	result, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 API calls (1 retry), got %d", calls.Load())
	}
	if result.Embedding[0] != 1 {
		t.Errorf("vec[0] = %f, expected 1", result.Embedding[0])
	}
}

func TestEmbedder_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad input", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	emb := newTestEmbedder(t, server.URL, 2)

	_, err := emb.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Errorf("expected ErrEmbeddingProviderError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("client errors must not retry: %d calls", calls.Load())
	}
}

func TestProvider_Embedder(t *testing.T) {
	p := NewProvider(&Config{APIKey: "k", Logger: zap.NewNop()}, map[domain.Tier]TierModel{
		domain.TierMedium: {Model: "custom-model", Dimensions: 768},
	})

	_, spec, err := p.Embedder(domain.TierSmall)
	if err != nil {
		t.Fatalf("small tier: %v", err)
	}
	if spec.ModelID != "text-embedding-3-small" || spec.Dimensions != 512 {
		t.Errorf("small spec = %+v", spec)
	}

	_, spec, err = p.Embedder(domain.TierMedium)
	if err != nil {
		t.Fatalf("medium tier: %v", err)
	}
	if spec.ModelID != "custom-model" || spec.Dimensions != 768 {
		t.Errorf("override not applied: %+v", spec)
	}

	_, _, err = p.Embedder(domain.Tier("huge"))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("unknown tier must fail with ErrInvalidArgument, got %v", err)
	}
}
