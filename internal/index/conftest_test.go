package index

import (
	"context"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// mockEmbedder is a deterministic test embedder: each byte of the text nudges
// the vector, blank text maps to the zero vector per the Embedder contract.
type mockEmbedder struct {
	dims    int
	embedFn func(ctx context.Context, text string) (domain.EmbeddingResult, error)
	calls   atomic.Int64
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return domain.EmbeddingResult{Embedding: m.vector(text), TotalTokens: len(text)}, nil
}

func (m *mockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dims)
	if domain.Blank(text) {
		return vec
	}
	var sum int
	for _, b := range []byte(text) {
		sum += int(b)
	}
	for i := range vec {
		vec[i] = float32((sum+i*7)%13 + 1)
	}
	return vec
}

func testSpec(dims int) domain.ModelSpec {
	return domain.ModelSpec{Tier: domain.TierSmall, ModelID: "mock", Dimensions: dims}
}

func mustWeights(t *testing.T, m map[domain.Field]float64) domain.Weights {
	t.Helper()
	w, err := domain.NewWeights(m)
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	return w
}

func mustRecord(t *testing.T, id, title, description string, keywords []string) domain.Record {
	t.Helper()
	r, err := domain.NewRecord(id, title, description, keywords, nil)
	if err != nil {
		t.Fatalf("record %s: %v", id, err)
	}
	return r
}

func newTestBuilder(t *testing.T, opts ...BuilderOption) *Builder {
	t.Helper()
	b, err := NewBuilder(zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}
