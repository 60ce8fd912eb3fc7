package domain

import "context"

type embeddingUsageKey struct{}

// EmbeddingUsage collects query-side embedding cost for a single search.
// The handler puts a mutable pointer into the context before calling the
// engine; the embedder chain writes into it; the handler reads it back for
// response headers and the wide event.
type EmbeddingUsage struct {
	TotalTokens int
	CacheHit    bool // query vector came from the embedding cache
	Used        bool // true if embedding was called, even on a cache hit with 0 tokens
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records consumed tokens.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u != nil {
		u.TotalTokens += n
		u.Used = true
	}
}

// MarkCacheHit records that the query vector was served from cache.
func (u *EmbeddingUsage) MarkCacheHit() {
	if u != nil {
		u.CacheHit = true
		u.Used = true
	}
}
