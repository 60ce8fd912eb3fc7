// Package indexcache persists built search indexes on disk so a restart with
// an unchanged catalog, weights, and tier skips re-embedding entirely.
//
// One artifact directory per fingerprint: a JSON manifest plus one raw
// little-endian float32 matrix file per indexed field. A cached artifact that
// fails validation in any way is treated as a miss and rebuilt; the cache
// never surfaces corruption to the search path.
package indexcache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/index"
)

const (
	manifestFile       = "index_manifest.json"
	lockFile           = "cache.lock"
	defaultLockTimeout = 10 * time.Second
)

// manifest describes one persisted index artifact.
type manifest struct {
	FormatVersion int                `json:"format_version"`
	Fingerprint   string             `json:"fingerprint"`
	Tier          string             `json:"tier"`
	ModelID       string             `json:"model_id"`
	Dimensions    int                `json:"dimensions"`
	RecordCount   int                `json:"record_count"`
	BuiltAt       time.Time          `json:"built_at"`
	IDs           []string           `json:"ids"`
	Weights       map[string]float64 `json:"weights"`
	VectorFiles   map[string]string  `json:"vector_files"`
}

// Cache is the disk-backed index artifact store.
type Cache struct {
	dir         string
	lockTimeout time.Duration
	cacheTotal  *prometheus.CounterVec
	logger      *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLockTimeout bounds how long Store waits for the writer lock.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Cache) { c.lockTimeout = d }
}

// New creates a cache rooted at dir. The directory is created lazily on the
// first Store. cacheTotal is a counter vec with label "result" ("hit"/"miss").
func New(dir string, cacheTotal *prometheus.CounterVec, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		dir:         dir,
		lockTimeout: defaultLockTimeout,
		cacheTotal:  cacheTotal,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string { return c.dir }

// Load returns the cached index for fingerprint, or ok=false on a miss.
// Missing artifacts are plain misses; artifacts that exist but fail any
// validation are logged and discarded as misses, never returned partially.
func (c *Cache) Load(fingerprint string) (*index.Index, bool) {
	dir := c.artifactDir(fingerprint)

	idx, err := c.load(dir, fingerprint)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("Discarding cached index",
				zap.String("fingerprint", index.ShortFingerprint(fingerprint)),
				zap.String("dir", dir),
				zap.Error(err))
		}
		c.incCache("miss")
		return nil, false
	}

	c.incCache("hit")
	return idx, true
}

func (c *Cache) load(dir, fingerprint string) (*index.Index, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read manifest: %v", domain.ErrCacheCorrupted, err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", domain.ErrCacheCorrupted, err)
	}
	if m.FormatVersion != index.FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", domain.ErrCacheCorrupted, m.FormatVersion, index.FormatVersion)
	}
	// Имя каталога — только префикс, сверяем полный отпечаток.
	if m.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: fingerprint mismatch", domain.ErrCacheCorrupted)
	}
	if m.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %d", domain.ErrCacheCorrupted, m.Dimensions)
	}
	if m.RecordCount != len(m.IDs) {
		return nil, fmt.Errorf("%w: record count %d, ids %d", domain.ErrCacheCorrupted, m.RecordCount, len(m.IDs))
	}

	tier, err := domain.ParseTier(m.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorrupted, err)
	}
	wm := make(map[domain.Field]float64, len(m.Weights))
	for name, v := range m.Weights {
		wm[domain.Field(name)] = v
	}
	weights, err := domain.NewWeights(wm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorrupted, err)
	}

	spec := domain.ModelSpec{Tier: tier, ModelID: m.ModelID, Dimensions: m.Dimensions}
	matrices := make(map[domain.Field][]float32, len(weights.Active()))
	for _, f := range weights.Active() {
		name, ok := m.VectorFiles[string(f)]
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: no vector file for field %q", domain.ErrCacheCorrupted, f)
		}
		vecs, err := loadVectors(filepath.Join(dir, name), len(m.IDs), m.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", domain.ErrCacheCorrupted, f, err)
		}
		matrices[f] = vecs
	}

	idx, err := index.New(m.IDs, spec, weights, matrices, m.Fingerprint, m.BuiltAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorrupted, err)
	}
	return idx, nil
}

// Store persists idx under its fingerprint. The artifact is assembled in a
// temp directory and renamed into place, so readers only ever see complete
// artifacts. Concurrent writers serialize on a file lock.
func (c *Cache) Store(idx *index.Index) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", c.dir, err)
	}

	unlock, err := c.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.MkdirTemp(c.dir, "tmp-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeArtifact(tmp, idx); err != nil {
		return err
	}
	if err := atomicSwap(tmp, c.artifactDir(idx.Fingerprint())); err != nil {
		return fmt.Errorf("swap index artifact: %w", err)
	}

	c.logger.Info("Index cached",
		zap.String("fingerprint", index.ShortFingerprint(idx.Fingerprint())),
		zap.Int("records", idx.Len()),
		zap.Int("fields", len(idx.Fields())))
	return nil
}

func (c *Cache) artifactDir(fingerprint string) string {
	return filepath.Join(c.dir, index.ShortFingerprint(fingerprint))
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *Cache) acquireLock() (func(), error) {
	l := flock.New(filepath.Join(c.dir, lockFile))
	deadline := time.Now().Add(c.lockTimeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire cache lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("another process is writing the index cache (lock: %s)", l.Path())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func writeArtifact(dir string, idx *index.Index) error {
	m := manifest{
		FormatVersion: index.FormatVersion,
		Fingerprint:   idx.Fingerprint(),
		Tier:          string(idx.Tier()),
		ModelID:       idx.Spec().ModelID,
		Dimensions:    idx.Dimensions(),
		RecordCount:   idx.Len(),
		BuiltAt:       idx.BuiltAt(),
		IDs:           idx.IDs(),
		Weights:       make(map[string]float64, len(idx.Fields())),
		VectorFiles:   make(map[string]string, len(idx.Fields())),
	}
	for f, v := range idx.Weights().Map() {
		m.Weights[string(f)] = v
	}

	for _, f := range idx.Fields() {
		name := string(f) + ".f32"
		m.VectorFiles[string(f)] = name
		matrix, ok := idx.Matrix(f)
		if !ok {
			return fmt.Errorf("index has no matrix for field %q", f)
		}
		if err := writeVectors(filepath.Join(dir, name), matrix); err != nil {
			return fmt.Errorf("field %q: %w", f, err)
		}
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeVectors(path string, matrix []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, matrix); err != nil {
		_ = f.Close()
		return fmt.Errorf("write vectors: %w", err)
	}
	return f.Close()
}

func loadVectors(path string, rows, dim int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat vector file: %w", err)
	}
	expected := int64(rows * dim * 4)
	if st.Size() != expected {
		return nil, fmt.Errorf("vector file size %d, want %d (rows=%d dim=%d)", st.Size(), expected, rows, dim)
	}

	out := make([]float32, rows*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	return out, nil
}

// atomicSwap replaces destDir with srcDir by renaming.
func atomicSwap(srcDir, destDir string) error {
	backup := destDir + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		// rollback best-effort
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}
