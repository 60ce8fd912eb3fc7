package index

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
)

const defaultChunkSize = 64

// Builder embeds catalog records field by field into row-aligned matrices.
// Chunks of records are embedded in parallel on a worker pool; the build
// itself is synchronous to its caller and runs at startup or on explicit
// reload, never per query.
type Builder struct {
	pool      *ants.Pool
	chunkSize int
	logger    *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	concurrency int
	chunkSize   int
}

// WithConcurrency sets the worker pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithConcurrency(n int) BuilderOption {
	return func(o *builderOptions) { o.concurrency = n }
}

// WithChunkSize sets how many records one embedding task covers.
func WithChunkSize(n int) BuilderOption {
	return func(o *builderOptions) { o.chunkSize = n }
}

// NewBuilder creates a Builder with its worker pool.
// Call Release when the builder is no longer needed.
func NewBuilder(logger *zap.Logger, opts ...BuilderOption) (*Builder, error) {
	o := builderOptions{
		concurrency: runtime.NumCPU() / 2,
		chunkSize:   defaultChunkSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.chunkSize < 1 {
		o.chunkSize = defaultChunkSize
	}

	pool, err := ants.NewPool(o.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Builder{pool: pool, chunkSize: o.chunkSize, logger: logger}, nil
}

// Release frees the worker pool. The builder must not be used afterwards.
func (b *Builder) Release() {
	b.pool.Release()
}

// Build embeds every record's text for each nonzero-weight field in record
// order and assembles the Index. Blank field texts arrive as zero vectors per
// the embedder contract, so sparse records degrade instead of failing.
func (b *Builder) Build(
	ctx context.Context,
	records []domain.Record,
	weights domain.Weights,
	emb domain.Embedder,
	spec domain.ModelSpec,
) (*Index, error) {
	if len(records) == 0 {
		return nil, domain.ErrCatalogEmpty
	}

	start := time.Now()
	active := weights.Active()
	fingerprint := Fingerprint(records, weights, spec)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID()
	}

	matrices := make(map[domain.Field][]float32, len(active))
	for _, f := range active {
		matrices[f] = make([]float32, len(records)*spec.Dimensions)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		firstErr    error
		totalTokens atomic.Int64
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

submit:
	for _, f := range active {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.FieldText(f)
		}
		matrix := matrices[f]

		for lo := 0; lo < len(records); lo += b.chunkSize {
			if err := ctx.Err(); err != nil {
				fail(err)
				break submit
			}
			hi := lo + b.chunkSize
			if hi > len(records) {
				hi = len(records)
			}

			wg.Add(1)
			task := func() {
				defer wg.Done()
				if failed() {
					return
				}
				res, err := embedBatch(ctx, emb, texts[lo:hi])
				if err != nil {
					fail(fmt.Errorf("embed field %q rows %d..%d: %w", f, lo, hi, err))
					return
				}
				if len(res.Embeddings) != hi-lo {
					fail(fmt.Errorf("embed field %q rows %d..%d: got %d vectors, want %d",
						f, lo, hi, len(res.Embeddings), hi-lo))
					return
				}
				for i, vec := range res.Embeddings {
					if len(vec) != spec.Dimensions {
						fail(fmt.Errorf("field %q row %d: vector has %d dimensions, want %d: %w",
							f, lo+i, len(vec), spec.Dimensions, domain.ErrVectorDimMismatch))
						return
					}
					copy(matrix[(lo+i)*spec.Dimensions:], vec)
				}
				totalTokens.Add(int64(res.TotalTokens))
			}
			if err := b.pool.Submit(task); err != nil {
				wg.Done()
				fail(fmt.Errorf("submit embed task: %w", err))
				break submit
			}
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("build index: %w", firstErr)
	}

	idx, err := New(ids, spec, weights, matrices, fingerprint, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("assemble index: %w", err)
	}

	b.logger.Info("Index built",
		zap.Int("records", len(records)),
		zap.Int("fields", len(active)),
		zap.String("tier", string(spec.Tier)),
		zap.String("model", spec.ModelID),
		zap.Int("dimensions", spec.Dimensions),
		zap.Int64("total_tokens", totalTokens.Load()),
		zap.String("fingerprint", ShortFingerprint(fingerprint)),
		zap.Duration("duration", time.Since(start)),
	)
	return idx, nil
}

func embedBatch(ctx context.Context, e domain.Embedder, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := e.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, e, texts)
}

// ShortFingerprint trims a fingerprint for logs and artifact directory names.
func ShortFingerprint(fp string) string {
	if len(fp) <= 16 {
		return fp
	}
	return fp[:16]
}
