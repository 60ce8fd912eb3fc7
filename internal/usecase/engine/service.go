// Package engine is the dataset search engine: it owns the catalog/index
// lifecycle and answers ranked nearest-neighbor queries.
//
// The engine is Unready until the first successful build-or-cache-load binds
// an index; from then on every query reads one immutable snapshot behind an
// atomic pointer, so concurrent searches never synchronize. Rebuilds (reload,
// weight or tier updates) are serialized and swap the snapshot by reference;
// a failed rebuild leaves the previous snapshot live.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/geodex-cloud/geodex/internal/catalog"
	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/index"
	"github.com/geodex-cloud/geodex/internal/metrics"
)

// Params is the explicit engine configuration, applied at construction time.
type Params struct {
	Tier    domain.Tier
	Weights domain.Weights
	// MaxResults clamps topK per query (0 = no clamp).
	MaxResults int
}

// Match is one ranked search result.
type Match struct {
	ID          string
	Score       float64
	FieldScores map[domain.Field]float64
}

// Status is the engine's diagnostic state, served by health and info endpoints.
type Status struct {
	Ready       bool
	RecordCount int
	Tier        domain.Tier
	ModelID     string
	Dimensions  int
	Fingerprint string
	Weights     map[domain.Field]float64
	CacheDir    string
	CatalogPath string
	BuiltAt     time.Time
}

// snapshot is the immutable unit of engine state: a catalog store, the index
// built from it, and the query embedder bound to the index's tier. Replaced
// wholesale, never mutated.
type snapshot struct {
	store *catalog.Store
	idx   *index.Index
	emb   domain.Embedder
}

// Service implements the search engine state machine.
type Service struct {
	loader     CatalogLoader
	provider   EmbedderProvider
	builder    IndexBuilder
	cache      IndexCache
	decorate   EmbedderDecorator
	maxResults int
	logger     *zap.Logger

	current atomic.Pointer[snapshot]

	// mu serializes configuration transitions (load, reload, weight and tier
	// updates); queries never take it.
	mu      sync.Mutex
	tier    domain.Tier
	weights domain.Weights
	path    string

	// buildMu ensures at most one index build runs at a time; group coalesces
	// concurrent rebuilds targeting the same fingerprint.
	buildMu sync.Mutex
	group   singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithEmbedderDecorator installs the embedder decorator chain.
func WithEmbedderDecorator(d EmbedderDecorator) Option {
	return func(s *Service) { s.decorate = d }
}

// New validates params and creates an engine in the Unready state.
func New(
	loader CatalogLoader,
	provider EmbedderProvider,
	builder IndexBuilder,
	cache IndexCache,
	params Params,
	logger *zap.Logger,
	opts ...Option,
) (*Service, error) {
	if !params.Tier.IsValid() {
		return nil, domain.NewUnknownTier(string(params.Tier))
	}
	if len(params.Weights.Active()) == 0 {
		return nil, fmt.Errorf("%w: engine requires at least one active field weight", domain.ErrInvalidArgument)
	}
	if params.MaxResults < 0 {
		return nil, fmt.Errorf("%w: max results must be non-negative, got %d", domain.ErrInvalidArgument, params.MaxResults)
	}

	s := &Service{
		loader:     loader,
		provider:   provider,
		builder:    builder,
		cache:      cache,
		maxResults: params.MaxResults,
		logger:     logger,
		tier:       params.Tier,
		weights:    params.Weights,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadDatasets loads the catalog at path and binds a fresh or cached index.
// On the first successful call the engine transitions Unready -> Ready.
// A failure during a later call keeps the previously bound snapshot live.
func (s *Service) LoadDatasets(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.loader.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("load datasets: %w", err)
	}

	snap, err := s.resolve(ctx, store, s.tier, s.weights)
	if err != nil {
		return fmt.Errorf("load datasets: %w", err)
	}

	s.path = path
	s.swap(snap)
	return nil
}

// Reload re-reads the last loaded catalog path and rebuilds. The previous
// index keeps serving queries until the new one swaps in; a failed reload
// leaves the engine Ready on the old snapshot and reports the error to the
// triggering caller only.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return fmt.Errorf("reload: no catalog loaded yet: %w", domain.ErrEngineNotReady)
	}

	store, err := s.loader.Load(ctx, s.path)
	if err != nil {
		s.logger.Error("Reload failed, previous index stays active",
			zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("reload: %w", err)
	}

	snap, err := s.resolve(ctx, store, s.tier, s.weights)
	if err != nil {
		s.logger.Error("Reload failed, previous index stays active",
			zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("reload: %w", err)
	}

	s.swap(snap)
	return nil
}

// UpdateWeights validates a new weight set, rebuilds (the cache may hit), and
// swaps atomically. The new weights apply only on success.
func (s *Service) UpdateWeights(ctx context.Context, m map[domain.Field]float64) error {
	weights, err := domain.NewWeights(m)
	if err != nil {
		return fmt.Errorf("update weights: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur == nil {
		return fmt.Errorf("update weights: %w", domain.ErrEngineNotReady)
	}

	snap, err := s.resolve(ctx, cur.store, s.tier, weights)
	if err != nil {
		s.logger.Error("Weight update failed, previous index stays active", zap.Error(err))
		return fmt.Errorf("update weights: %w", err)
	}

	s.weights = weights
	s.swap(snap)
	return nil
}

// UpdateTier switches the embedding model tier and rebuilds. A no-op when the
// tier is unchanged; the new tier applies only on success.
func (s *Service) UpdateTier(ctx context.Context, tier domain.Tier) error {
	if !tier.IsValid() {
		return fmt.Errorf("update tier: %w", domain.NewUnknownTier(string(tier)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tier == s.tier {
		return nil
	}

	cur := s.current.Load()
	if cur == nil {
		return fmt.Errorf("update tier: %w", domain.ErrEngineNotReady)
	}

	snap, err := s.resolve(ctx, cur.store, tier, s.weights)
	if err != nil {
		s.logger.Error("Tier update failed, previous index stays active",
			zap.String("tier", string(tier)), zap.Error(err))
		return fmt.Errorf("update tier: %w", err)
	}

	s.tier = tier
	s.swap(snap)
	return nil
}

// Search embeds the query once with the active index's tier and ranks every
// record by the weighted mean of per-field cosine similarities. Results come
// back ordered by score descending, ties by ascending id, at most
// min(topK, record count) of them.
func (s *Service) Search(
	ctx context.Context, query string, topK int, overrides map[domain.Field]float64,
) ([]Match, error) {
	start := time.Now()

	if topK <= 0 {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidArgument, topK)
	}
	if domain.Blank(query) {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: query text is empty", domain.ErrInvalidArgument)
	}

	snap := s.current.Load()
	if snap == nil {
		metrics.SearchRequestsTotal.WithLabelValues("not_ready").Inc()
		return nil, domain.ErrEngineNotReady
	}

	effective, err := snap.idx.Weights().Merge(overrides)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("search: %w", err)
	}

	if s.maxResults > 0 && topK > s.maxResults {
		topK = s.maxResults
	}

	res, err := snap.emb.Embed(ctx, query)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)

	hits, err := snap.idx.Rank(res.Embedding, effective, topK)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rank: %w", err)
	}

	matches := make([]Match, len(hits))
	for i, h := range hits {
		matches[i] = Match{ID: h.ID, Score: h.Score, FieldScores: h.FieldScores}
	}

	metrics.SearchRequestsTotal.WithLabelValues("success").Inc()
	metrics.SearchRequestDuration.Observe(time.Since(start).Seconds())
	return matches, nil
}

// Ready reports whether the engine holds a valid index.
func (s *Service) Ready() bool {
	return s.current.Load() != nil
}

// Record looks up one catalog record from the active snapshot.
func (s *Service) Record(id string) (domain.Record, error) {
	snap := s.current.Load()
	if snap == nil {
		return domain.Record{}, domain.ErrEngineNotReady
	}
	r, ok := snap.store.Get(id)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}
	return r, nil
}

// Records returns the active catalog in stable order.
func (s *Service) Records() ([]domain.Record, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, domain.ErrEngineNotReady
	}
	return snap.store.All(), nil
}

// Status reports the engine state for health and diagnostics endpoints.
func (s *Service) Status() Status {
	s.mu.Lock()
	tier := s.tier
	weights := s.weights
	path := s.path
	s.mu.Unlock()

	st := Status{
		Tier:        tier,
		Weights:     weights.Map(),
		CacheDir:    s.cache.Dir(),
		CatalogPath: path,
	}

	snap := s.current.Load()
	if snap == nil {
		return st
	}

	spec := snap.idx.Spec()
	st.Ready = true
	st.RecordCount = snap.idx.Len()
	st.Tier = spec.Tier
	st.ModelID = spec.ModelID
	st.Dimensions = spec.Dimensions
	st.Fingerprint = snap.idx.Fingerprint()
	st.Weights = snap.idx.Weights().Map()
	st.BuiltAt = snap.idx.BuiltAt()
	return st
}

// resolve produces the snapshot for (store, tier, weights): reusing the live
// index when the fingerprint is unchanged, loading from the artifact cache
// otherwise, and building only as a last resort.
func (s *Service) resolve(
	ctx context.Context, store *catalog.Store, tier domain.Tier, weights domain.Weights,
) (*snapshot, error) {
	base, spec, err := s.provider.Embedder(tier)
	if err != nil {
		return nil, err
	}
	emb := base
	if s.decorate != nil {
		emb = s.decorate(base, spec)
	}

	records := store.All()
	fp := index.Fingerprint(records, weights, spec)

	if cur := s.current.Load(); cur != nil && cur.idx.Fingerprint() == fp {
		// Same content, weights, and model: keep the index, refresh the store
		// (display attributes are not fingerprinted).
		metrics.IndexBuildsTotal.WithLabelValues("reused").Inc()
		return &snapshot{store: store, idx: cur.idx, emb: emb}, nil
	}

	v, err, _ := s.group.Do(fp, func() (any, error) {
		if idx, ok := s.cache.Load(fp); ok {
			metrics.IndexBuildsTotal.WithLabelValues("cache_hit").Inc()
			return idx, nil
		}

		s.buildMu.Lock()
		defer s.buildMu.Unlock()

		buildStart := time.Now()
		idx, err := s.builder.Build(ctx, records, weights, emb, spec)
		if err != nil {
			metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.IndexBuildsTotal.WithLabelValues("built").Inc()
		metrics.IndexBuildDuration.Observe(time.Since(buildStart).Seconds())

		// Cache write failure is not fatal: the index is already usable.
		if err := s.cache.Store(idx); err != nil {
			s.logger.Warn("Failed to persist index artifact",
				zap.String("fingerprint", index.ShortFingerprint(idx.Fingerprint())),
				zap.Error(err))
		}
		return idx, nil
	})
	if err != nil {
		return nil, err
	}

	return &snapshot{store: store, idx: v.(*index.Index), emb: emb}, nil
}

// swap atomically publishes a new snapshot.
func (s *Service) swap(snap *snapshot) {
	s.current.Store(snap)
	metrics.IndexRecords.Set(float64(snap.idx.Len()))
	s.logger.Info("Search index active",
		zap.Int("records", snap.idx.Len()),
		zap.String("tier", string(snap.idx.Tier())),
		zap.String("model", snap.idx.Spec().ModelID),
		zap.String("fingerprint", index.ShortFingerprint(snap.idx.Fingerprint())))
}
