package geodex

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/catalog"
	"github.com/geodex-cloud/geodex/internal/db"
	dbMemory "github.com/geodex-cloud/geodex/internal/db/memory"
	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/embedding/hashing"
	"github.com/geodex-cloud/geodex/internal/index"
	"github.com/geodex-cloud/geodex/internal/metrics"
	"github.com/geodex-cloud/geodex/internal/repository/embcache"
	"github.com/geodex-cloud/geodex/internal/repository/indexcache"
	openaiEmb "github.com/geodex-cloud/geodex/internal/transport/openai"
	engineuc "github.com/geodex-cloud/geodex/internal/usecase/engine"
)

// Match is one ranked search result.
type Match struct {
	ID          string
	Score       float64
	FieldScores map[string]float64
}

// Dataset is one catalog entry.
type Dataset struct {
	ID          string
	Title       string
	Description string
	Keywords    []string
	Attributes  map[string]any
}

// Status is the engine's diagnostic state.
type Status struct {
	Ready        bool
	DatasetCount int
	Tier         string
	Model        string
	Dimensions   int
	Fingerprint  string
	Weights      map[string]float64
	CacheDir     string
	CatalogPath  string
	BuiltAt      time.Time
}

// Client is the geodex entry point for in-process use.
type Client struct {
	engine  *engineuc.Service
	builder *index.Builder
	kv      db.Store
}

// New creates a geodex Client. The engine stays Unready until LoadDatasets
// succeeds.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		tier:       string(domain.TierSmall),
		cacheDir:   "saved_indexes",
		maxResults: 100,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	tier, err := domain.ParseTier(cfg.tier)
	if err != nil {
		return nil, fmt.Errorf("geodex: %w", err)
	}

	weights := domain.DefaultWeights()
	if len(cfg.weights) > 0 {
		m := make(map[domain.Field]float64, len(cfg.weights))
		for k, v := range cfg.weights {
			m[domain.Field(k)] = v
		}
		weights, err = domain.NewWeights(m)
		if err != nil {
			return nil, fmt.Errorf("geodex: %w", err)
		}
	}

	loader, err := catalog.NewLoader(catalog.Format(cfg.catalogFormat))
	if err != nil {
		return nil, fmt.Errorf("geodex: %w", err)
	}

	var provider engineuc.EmbedderProvider
	if cfg.useOpenAI {
		provider = openaiEmb.NewProvider(&openaiEmb.Config{
			APIKey:   cfg.openaiAPIKey,
			BaseURL:  cfg.openaiBaseURL,
			Provider: "openai",
			Logger:   logger,
		}, nil)
	} else {
		provider = hashing.NewProvider()
	}

	var builderOpts []index.BuilderOption
	if cfg.concurrency > 0 {
		builderOpts = append(builderOpts, index.WithConcurrency(cfg.concurrency))
	}
	if cfg.chunkSize > 0 {
		builderOpts = append(builderOpts, index.WithChunkSize(cfg.chunkSize))
	}
	builder, err := index.NewBuilder(logger, builderOpts...)
	if err != nil {
		return nil, fmt.Errorf("geodex: create builder: %w", err)
	}

	cache := indexcache.New(cfg.cacheDir, metrics.IndexCacheTotal, logger)

	var engineOpts []engineuc.Option
	var kv db.Store
	if cfg.embCacheSize > 0 {
		kv, err = dbMemory.NewStore(cfg.embCacheSize)
		if err != nil {
			builder.Release()
			return nil, fmt.Errorf("geodex: create embedding cache: %w", err)
		}
		store := kv
		engineOpts = append(engineOpts, engineuc.WithEmbedderDecorator(
			func(inner domain.Embedder, spec domain.ModelSpec) domain.Embedder {
				return embcache.New(inner, store, spec, metrics.EmbeddingCacheTotal, logger)
			},
		))
	}

	engine, err := engineuc.New(loader, provider, builder, cache, engineuc.Params{
		Tier:       tier,
		Weights:    weights,
		MaxResults: cfg.maxResults,
	}, logger, engineOpts...)
	if err != nil {
		builder.Release()
		if kv != nil {
			kv.Close()
		}
		return nil, fmt.Errorf("geodex: %w", err)
	}

	return &Client{engine: engine, builder: builder, kv: kv}, nil
}

// Close releases the build worker pool and the embedding cache.
func (c *Client) Close() {
	if c.builder != nil {
		c.builder.Release()
	}
	if c.kv != nil {
		c.kv.Close()
	}
}

// LoadDatasets loads the catalog at path and builds or restores the index.
func (c *Client) LoadDatasets(ctx context.Context, path string) error {
	return c.engine.LoadDatasets(ctx, path)
}

// Reload re-reads the last loaded catalog. The previous index keeps serving
// queries until the new one is ready; a failed reload leaves it active.
func (c *Client) Reload(ctx context.Context) error {
	return c.engine.Reload(ctx)
}

// Search ranks datasets against the query using the configured weights and
// returns at most topK matches, best first.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	return c.SearchWeighted(ctx, query, topK, nil)
}

// SearchWeighted is Search with per-query weight overrides. Overrides may only
// name fields with a nonzero configured weight.
func (c *Client) SearchWeighted(
	ctx context.Context, query string, topK int, weights map[string]float64,
) ([]Match, error) {
	var overrides map[domain.Field]float64
	if len(weights) > 0 {
		overrides = make(map[domain.Field]float64, len(weights))
		for k, v := range weights {
			overrides[domain.Field(k)] = v
		}
	}

	hits, err := c.engine.Search(ctx, query, topK, overrides)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(hits))
	for i, h := range hits {
		scores := make(map[string]float64, len(h.FieldScores))
		for f, s := range h.FieldScores {
			scores[string(f)] = s
		}
		matches[i] = Match{ID: h.ID, Score: h.Score, FieldScores: scores}
	}
	return matches, nil
}

// Dataset looks up one catalog entry by id.
func (c *Client) Dataset(id string) (Dataset, error) {
	rec, err := c.engine.Record(id)
	if err != nil {
		return Dataset{}, err
	}
	return datasetFromRecord(rec), nil
}

// Datasets returns the loaded catalog ordered by id.
func (c *Client) Datasets() ([]Dataset, error) {
	records, err := c.engine.Records()
	if err != nil {
		return nil, err
	}
	out := make([]Dataset, len(records))
	for i, rec := range records {
		out[i] = datasetFromRecord(rec)
	}
	return out, nil
}

// UpdateWeights rebuilds the index with a new default weighting. On failure
// the previous weights and index stay active.
func (c *Client) UpdateWeights(ctx context.Context, weights map[string]float64) error {
	m := make(map[domain.Field]float64, len(weights))
	for k, v := range weights {
		m[domain.Field(k)] = v
	}
	return c.engine.UpdateWeights(ctx, m)
}

// UpdateTier switches the embedding model tier and rebuilds. On failure the
// previous tier and index stay active.
func (c *Client) UpdateTier(ctx context.Context, tier string) error {
	t, err := domain.ParseTier(tier)
	if err != nil {
		return err
	}
	return c.engine.UpdateTier(ctx, t)
}

// Ready reports whether the engine can answer queries.
func (c *Client) Ready() bool {
	return c.engine.Ready()
}

// Status reports the engine's diagnostic state.
func (c *Client) Status() Status {
	st := c.engine.Status()
	weights := make(map[string]float64, len(st.Weights))
	for f, w := range st.Weights {
		weights[string(f)] = w
	}
	return Status{
		Ready:        st.Ready,
		DatasetCount: st.RecordCount,
		Tier:         string(st.Tier),
		Model:        st.ModelID,
		Dimensions:   st.Dimensions,
		Fingerprint:  st.Fingerprint,
		Weights:      weights,
		CacheDir:     st.CacheDir,
		CatalogPath:  st.CatalogPath,
		BuiltAt:      st.BuiltAt,
	}
}

func datasetFromRecord(rec domain.Record) Dataset {
	return Dataset{
		ID:          rec.ID(),
		Title:       rec.Title(),
		Description: rec.Description(),
		Keywords:    rec.Keywords(),
		Attributes:  rec.Attrs(),
	}
}
