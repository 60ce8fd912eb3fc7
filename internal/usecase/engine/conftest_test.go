package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/catalog"
	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/embedding/hashing"
	"github.com/geodex-cloud/geodex/internal/index"
	"github.com/geodex-cloud/geodex/internal/repository/indexcache"
)

// --- Mocks ---

// staticLoader serves pre-built stores by path.
type staticLoader struct {
	stores map[string]*catalog.Store
	err    error
	calls  atomic.Int64
}

func (l *staticLoader) Load(_ context.Context, path string) (*catalog.Store, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	store, ok := l.stores[path]
	if !ok {
		return nil, fmt.Errorf("%w: no catalog at %s", domain.ErrCatalogLoad, path)
	}
	return store, nil
}

// countingBuilder wraps the real builder to observe build calls and inject failures.
type countingBuilder struct {
	inner IndexBuilder
	err   error
	calls atomic.Int64
}

func (b *countingBuilder) Build(
	ctx context.Context,
	records []domain.Record,
	weights domain.Weights,
	emb domain.Embedder,
	spec domain.ModelSpec,
) (*index.Index, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return b.inner.Build(ctx, records, weights, emb, spec)
}

// failingProvider fails for one tier and delegates the rest.
type failingProvider struct {
	inner    EmbedderProvider
	failTier domain.Tier
	err      error
}

func (p *failingProvider) Embedder(tier domain.Tier) (domain.Embedder, domain.ModelSpec, error) {
	if tier == p.failTier {
		return nil, domain.ModelSpec{}, p.err
	}
	return p.inner.Embedder(tier)
}

// --- Helpers ---

func mustRecord(t *testing.T, id, title, description string, keywords []string) domain.Record {
	t.Helper()
	r, err := domain.NewRecord(id, title, description, keywords, nil)
	if err != nil {
		t.Fatalf("record %s: %v", id, err)
	}
	return r
}

func mustStore(t *testing.T, records ...domain.Record) *catalog.Store {
	t.Helper()
	s, err := catalog.NewStore(records)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s
}

func mustWeights(t *testing.T, m map[domain.Field]float64) domain.Weights {
	t.Helper()
	w, err := domain.NewWeights(m)
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	return w
}

// testCatalog is the three-dataset corpus most ranking tests run against.
func testCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	return mustStore(t,
		mustRecord(t, "A", "Global Forest Cover", "Tree canopy density worldwide", []string{"forest", "landcover"}),
		mustRecord(t, "B", "Urban Heat Index", "Surface temperature of cities", []string{"urban", "temperature"}),
		mustRecord(t, "C", "Global Precipitation", "Daily precipitation measurements", []string{"rain", "climate"}),
	)
}

type testEngineConfig struct {
	params   Params
	loader   *staticLoader
	builder  *countingBuilder
	provider EmbedderProvider
	cacheDir string
}

type testEngineOption func(*testEngineConfig)

func withParams(p Params) testEngineOption {
	return func(c *testEngineConfig) { c.params = p }
}

func withLoader(l *staticLoader) testEngineOption {
	return func(c *testEngineConfig) { c.loader = l }
}

func withProvider(p EmbedderProvider) testEngineOption {
	return func(c *testEngineConfig) { c.provider = p }
}

func withCacheDir(dir string) testEngineOption {
	return func(c *testEngineConfig) { c.cacheDir = dir }
}

// newTestEngine builds an engine on the hashing provider, the real index
// builder, and a disk cache under a temp dir. Returns the engine and the
// counting builder for call assertions.
func newTestEngine(t *testing.T, opts ...testEngineOption) (*Service, *countingBuilder) {
	t.Helper()

	cfg := testEngineConfig{
		params: Params{
			Tier:    domain.TierSmall,
			Weights: mustWeights(t, map[domain.Field]float64{domain.FieldTitle: 1.0}),
		},
		cacheDir: t.TempDir(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loader == nil {
		cfg.loader = &staticLoader{stores: map[string]*catalog.Store{
			"catalog.json": testCatalog(t),
		}}
	}
	if cfg.provider == nil {
		cfg.provider = hashing.NewProvider()
	}
	if cfg.builder == nil {
		real, err := index.NewBuilder(zap.NewNop())
		if err != nil {
			t.Fatalf("builder: %v", err)
		}
		t.Cleanup(real.Release)
		cfg.builder = &countingBuilder{inner: real}
	}

	cache := indexcache.New(cfg.cacheDir, nil, zap.NewNop())

	svc, err := New(cfg.loader, cfg.provider, cfg.builder, cache, cfg.params, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return svc, cfg.builder
}

func loadTestCatalog(t *testing.T, svc *Service) {
	t.Helper()
	if err := svc.LoadDatasets(context.Background(), "catalog.json"); err != nil {
		t.Fatalf("load datasets: %v", err)
	}
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}
