// Package hashing provides a fully offline embedding provider built on
// signed feature hashing of token unigrams. Texts that share vocabulary get
// proportionally similar vectors, which is enough to rank catalog metadata
// by relevance without a remote model. A text always hashes to the same
// vector for a given dimensionality, so index fingerprints stay stable
// across processes and restarts.
package hashing

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/index"
)

// Embedder hashes token unigrams into a fixed-width signed vector.
type Embedder struct {
	dims int
}

// Compile-time checks.
var (
	_ domain.Embedder      = (*Embedder)(nil)
	_ domain.BatchEmbedder = (*Embedder)(nil)
	_ domain.HealthChecker = (*Embedder)(nil)
)

// NewEmbedder creates an embedder producing vectors of the given width.
func NewEmbedder(dims int) *Embedder {
	return &Embedder{dims: dims}
}

// Embed vectorizes a single text. Blank text maps to the zero vector.
// No provider tokens are consumed.
func (e *Embedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: e.vectorize(text)}, nil
}

// BatchEmbed vectorizes each text in order.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		embeddings[i] = e.vectorize(text)
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings}, nil
}

// HealthCheck always succeeds: there is no remote dependency.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

func (e *Embedder) vectorize(text string) []float32 {
	vec := domain.ZeroVector(e.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}
	for _, tok := range tokens {
		h := hashToken(tok)
		bucket := h % uint64(e.dims)
		// Старший бит задаёт знак признака.
		if h>>63 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	return index.NormalizeL2(vec)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashToken(tok string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tok))
	return h.Sum64()
}
