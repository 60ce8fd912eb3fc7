package engine

import (
	"context"

	"github.com/geodex-cloud/geodex/internal/catalog"
	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/index"
)

// CatalogLoader reads a catalog file into an immutable record store.
type CatalogLoader interface {
	Load(ctx context.Context, path string) (*catalog.Store, error)
}

// IndexBuilder embeds records into a new search index.
type IndexBuilder interface {
	Build(
		ctx context.Context,
		records []domain.Record,
		weights domain.Weights,
		emb domain.Embedder,
		spec domain.ModelSpec,
	) (*index.Index, error)
}

// IndexCache persists built indexes keyed by fingerprint.
type IndexCache interface {
	Load(fingerprint string) (*index.Index, bool)
	Store(idx *index.Index) error
	Dir() string
}

// EmbedderProvider resolves a tier to its embedder and model spec.
type EmbedderProvider interface {
	Embedder(tier domain.Tier) (domain.Embedder, domain.ModelSpec, error)
}

// EmbedderDecorator wraps a provider's base embedder with the caching and
// instrumentation chain. The same chain serves both index builds and query
// embedding, so cached corpus vectors are reused by queries.
type EmbedderDecorator func(inner domain.Embedder, spec domain.ModelSpec) domain.Embedder
