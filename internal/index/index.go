package index

import (
	"fmt"
	"time"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// Index is the immutable, point-in-time search artifact: the dataset id
// sequence defining row order, one row-aligned vector matrix per active
// field, the model spec and weights it was built with, and its fingerprint.
// It is never mutated after construction and is safe for unsynchronized
// concurrent reads; a catalog, weight, or tier change produces a new Index.
type Index struct {
	ids         []string
	spec        domain.ModelSpec
	weights     domain.Weights
	matrices    map[domain.Field][]float32
	fingerprint string
	builtAt     time.Time
}

// New validates and assembles an Index. Every active field must come with a
// matrix of exactly len(ids)×spec.Dimensions values.
func New(
	ids []string, spec domain.ModelSpec, weights domain.Weights,
	matrices map[domain.Field][]float32, fingerprint string, builtAt time.Time,
) (*Index, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: index requires at least one record", domain.ErrInvalidArgument)
	}
	if spec.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %d", domain.ErrInvalidArgument, spec.Dimensions)
	}
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", domain.ErrInvalidArgument)
	}
	active := weights.Active()
	if len(matrices) != len(active) {
		return nil, fmt.Errorf("%w: expected %d field matrices, got %d", domain.ErrInvalidArgument, len(active), len(matrices))
	}
	want := len(ids) * spec.Dimensions
	for _, f := range active {
		m, ok := matrices[f]
		if !ok {
			return nil, fmt.Errorf("%w: missing matrix for field %q", domain.ErrInvalidArgument, f)
		}
		if len(m) != want {
			return nil, fmt.Errorf("field %q matrix has %d values, want %d: %w", f, len(m), want, domain.ErrVectorDimMismatch)
		}
	}

	return &Index{
		ids:         ids,
		spec:        spec,
		weights:     weights,
		matrices:    matrices,
		fingerprint: fingerprint,
		builtAt:     builtAt,
	}, nil
}

// IDs returns a copy of the dataset id sequence defining row order.
func (x *Index) IDs() []string {
	out := make([]string, len(x.ids))
	copy(out, x.ids)
	return out
}

// Len returns the row count.
func (x *Index) Len() int { return len(x.ids) }

// Spec returns the embedding model spec the index was built with.
func (x *Index) Spec() domain.ModelSpec { return x.spec }

// Tier returns the model tier.
func (x *Index) Tier() domain.Tier { return x.spec.Tier }

// Dimensions returns the vector dimensionality.
func (x *Index) Dimensions() int { return x.spec.Dimensions }

// Weights returns the build-time field weights.
func (x *Index) Weights() domain.Weights { return x.weights }

// Fields returns the active fields in canonical order.
func (x *Index) Fields() []domain.Field { return x.weights.Active() }

// Matrix returns the row-major matrix for one active field.
func (x *Index) Matrix(f domain.Field) ([]float32, bool) {
	m, ok := x.matrices[f]
	return m, ok
}

// Row returns the embedding of one record's field as a shared slice view.
func (x *Index) Row(f domain.Field, i int) []float32 {
	m := x.matrices[f]
	start := i * x.spec.Dimensions
	return m[start : start+x.spec.Dimensions]
}

// Fingerprint returns the artifact identity hash.
func (x *Index) Fingerprint() string { return x.fingerprint }

// BuiltAt returns the build timestamp.
func (x *Index) BuiltAt() time.Time { return x.builtAt }
