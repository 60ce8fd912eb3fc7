package geodex

import (
	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	tier       string
	weights    map[string]float64
	maxResults int

	cacheDir      string
	catalogFormat string

	concurrency int
	chunkSize   int

	openaiAPIKey  string
	openaiBaseURL string
	useOpenAI     bool

	embCacheSize int

	logger *zap.Logger
}

// WithTier selects the embedding model tier: "small" (default), "medium" or
// "large".
func WithTier(tier string) Option {
	return optionFunc(func(c *clientConfig) {
		c.tier = tier
	})
}

// WithWeights sets the default field weighting. Known fields are title, id,
// description and keywords; a zero weight disables the field. Defaults to
// title 0.35, id 0.15, description 0.30, keywords 0.20.
func WithWeights(weights map[string]float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.weights = weights
	})
}

// WithMaxResults clamps top_k per query. Default: 100.
func WithMaxResults(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxResults = n
	})
}

// WithCacheDir sets the on-disk index cache directory.
// Default: "saved_indexes".
func WithCacheDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDir = dir
	})
}

// WithCatalogFormat forces the catalog decoder: "json" or "parquet".
// By default the format is picked from the file extension.
func WithCatalogFormat(format string) Option {
	return optionFunc(func(c *clientConfig) {
		c.catalogFormat = format
	})
}

// WithBuildConcurrency sets the index build worker pool size.
// Defaults to the number of CPUs.
func WithBuildConcurrency(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.concurrency = n
	})
}

// WithOpenAI switches query and index embedding to the OpenAI embeddings API.
// baseURL may be empty for the default endpoint.
func WithOpenAI(apiKey, baseURL string) Option {
	return optionFunc(func(c *clientConfig) {
		c.useOpenAI = true
		c.openaiAPIKey = apiKey
		c.openaiBaseURL = baseURL
	})
}

// WithEmbeddingCache enables an in-memory LRU cache of embedding vectors
// holding at most capacity entries. Worth it with WithOpenAI; the local
// hashing model is cheap enough without one.
func WithEmbeddingCache(capacity int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embCacheSize = capacity
	})
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}
