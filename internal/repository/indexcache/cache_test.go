package indexcache

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/index"
)

const testFingerprint = "aaaabbbbccccdddd0000111122223333444455556666777788889999aaaabbbb"

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	return New(t.TempDir(), nil, zap.NewNop(), opts...)
}

func buildTestIndex(t *testing.T, fingerprint string) *index.Index {
	t.Helper()
	weights, err := domain.NewWeights(map[domain.Field]float64{
		domain.FieldTitle:       0.6,
		domain.FieldDescription: 0.4,
	})
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	spec := domain.ModelSpec{Tier: domain.TierSmall, ModelID: "feathash-384", Dimensions: 2}
	idx, err := index.New(
		[]string{"a", "b"},
		spec,
		weights,
		map[domain.Field][]float32{
			domain.FieldTitle:       {1, 0, 0, 1},
			domain.FieldDescription: {0.5, 0.5, 1, 0},
		},
		fingerprint,
		time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	return idx
}

func TestCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	orig := buildTestIndex(t, testFingerprint)

	if err := c.Store(orig); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, ok := c.Load(testFingerprint)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if loaded.Fingerprint() != orig.Fingerprint() {
		t.Errorf("fingerprint = %s, want %s", loaded.Fingerprint(), orig.Fingerprint())
	}
	if loaded.Tier() != orig.Tier() || loaded.Spec().ModelID != orig.Spec().ModelID {
		t.Errorf("spec = %+v, want %+v", loaded.Spec(), orig.Spec())
	}
	if !reflect.DeepEqual(loaded.IDs(), orig.IDs()) {
		t.Errorf("ids = %v, want %v", loaded.IDs(), orig.IDs())
	}
	if !reflect.DeepEqual(loaded.Weights().Map(), orig.Weights().Map()) {
		t.Errorf("weights = %v, want %v", loaded.Weights().Map(), orig.Weights().Map())
	}
	if !loaded.BuiltAt().Equal(orig.BuiltAt()) {
		t.Errorf("builtAt = %v, want %v", loaded.BuiltAt(), orig.BuiltAt())
	}
	for _, f := range orig.Fields() {
		want, _ := orig.Matrix(f)
		got, ok := loaded.Matrix(f)
		if !ok || !reflect.DeepEqual(got, want) {
			t.Errorf("field %s matrix = %v, want %v", f, got, want)
		}
	}
}

func TestCache_ArtifactLayout(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(buildTestIndex(t, testFingerprint)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dir := filepath.Join(c.Dir(), testFingerprint[:16])
	for _, name := range []string{manifestFile, "title.f32", "description.f32"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing artifact file %s: %v", name, err)
		}
	}
}

func TestCache_MissWhenAbsent(t *testing.T) {
	c := newTestCache(t)
	if _, ok := c.Load(testFingerprint); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestCache_MissOnFingerprintMismatch(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(buildTestIndex(t, testFingerprint)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Same 16-char prefix, different tail: lands in the same directory but
	// must be rejected on the full fingerprint comparison.
	other := testFingerprint[:16] + strings.Repeat("f", 48)
	if _, ok := c.Load(other); ok {
		t.Fatal("expected miss for a different full fingerprint")
	}
}

func TestCache_MissOnCorruptManifest(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(buildTestIndex(t, testFingerprint)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	path := filepath.Join(c.Dir(), testFingerprint[:16], manifestFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}
	if _, ok := c.Load(testFingerprint); ok {
		t.Fatal("expected miss on corrupt manifest")
	}
}

func TestCache_MissOnTruncatedVectors(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(buildTestIndex(t, testFingerprint)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	path := filepath.Join(c.Dir(), testFingerprint[:16], "title.f32")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("truncate vectors: %v", err)
	}
	if _, ok := c.Load(testFingerprint); ok {
		t.Fatal("expected miss on truncated vector file")
	}
}

func TestCache_MissOnFormatVersionChange(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(buildTestIndex(t, testFingerprint)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	path := filepath.Join(c.Dir(), testFingerprint[:16], manifestFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	edited := strings.Replace(string(raw), `"format_version": 1`, `"format_version": 99`, 1)
	if edited == string(raw) {
		t.Fatal("format_version not found in manifest")
	}
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	if _, ok := c.Load(testFingerprint); ok {
		t.Fatal("expected miss on unknown format version")
	}
}

func TestCache_StoreOverwritesExistingArtifact(t *testing.T) {
	c := newTestCache(t)
	idx := buildTestIndex(t, testFingerprint)

	if err := c.Store(idx); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if err := c.Store(idx); err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if _, ok := c.Load(testFingerprint); !ok {
		t.Fatal("expected hit after overwrite")
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), testFingerprint[:16]) + ".bak"); err == nil {
		t.Error("backup directory left behind after swap")
	}
}

func TestCache_StoreTimesOutOnHeldLock(t *testing.T) {
	c := newTestCache(t, WithLockTimeout(150*time.Millisecond))
	if err := os.MkdirAll(c.Dir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	l := flock.New(filepath.Join(c.Dir(), lockFile))
	if err := l.Lock(); err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer l.Unlock()

	if err := c.Store(buildTestIndex(t, testFingerprint)); err == nil {
		t.Fatal("expected Store to fail while the lock is held")
	}
}
