package index

import (
	"errors"
	"testing"
	"time"

	"github.com/geodex-cloud/geodex/internal/domain"
)

func twoRowIndex(t *testing.T) *Index {
	t.Helper()
	w := mustWeights(t, map[domain.Field]float64{domain.FieldTitle: 1})
	x, err := New(
		[]string{"a", "b"},
		testSpec(2),
		w,
		map[domain.Field][]float32{domain.FieldTitle: {1, 0, 0, 1}},
		"fp-test",
		time.Now(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return x
}

func TestNew_Validation(t *testing.T) {
	w := mustWeights(t, map[domain.Field]float64{domain.FieldTitle: 1})
	spec := testSpec(2)
	now := time.Now()

	tests := []struct {
		name     string
		ids      []string
		spec     domain.ModelSpec
		matrices map[domain.Field][]float32
		fp       string
		want     error
	}{
		{
			name: "no records",
			ids:  nil,
			spec: spec,
			matrices: map[domain.Field][]float32{
				domain.FieldTitle: {},
			},
			fp:   "fp",
			want: domain.ErrInvalidArgument,
		},
		{
			name:     "zero dimensions",
			ids:      []string{"a"},
			spec:     domain.ModelSpec{Tier: domain.TierSmall, ModelID: "m", Dimensions: 0},
			matrices: map[domain.Field][]float32{domain.FieldTitle: {}},
			fp:       "fp",
			want:     domain.ErrInvalidArgument,
		},
		{
			name:     "empty fingerprint",
			ids:      []string{"a"},
			spec:     spec,
			matrices: map[domain.Field][]float32{domain.FieldTitle: {1, 0}},
			fp:       "",
			want:     domain.ErrInvalidArgument,
		},
		{
			name:     "missing matrix for active field",
			ids:      []string{"a"},
			spec:     spec,
			matrices: map[domain.Field][]float32{},
			fp:       "fp",
			want:     domain.ErrInvalidArgument,
		},
		{
			name:     "matrix size mismatch",
			ids:      []string{"a", "b"},
			spec:     spec,
			matrices: map[domain.Field][]float32{domain.FieldTitle: {1, 0}},
			fp:       "fp",
			want:     domain.ErrVectorDimMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ids, tt.spec, w, tt.matrices, tt.fp, now)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIndex_Accessors(t *testing.T) {
	x := twoRowIndex(t)

	if x.Len() != 2 {
		t.Errorf("Len() = %d, want 2", x.Len())
	}
	if got := x.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("IDs() = %v", got)
	}
	if x.Tier() != domain.TierSmall {
		t.Errorf("Tier() = %s", x.Tier())
	}
	if x.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d", x.Dimensions())
	}
	if x.Fingerprint() != "fp-test" {
		t.Errorf("Fingerprint() = %s", x.Fingerprint())
	}
	if fields := x.Fields(); len(fields) != 1 || fields[0] != domain.FieldTitle {
		t.Errorf("Fields() = %v", fields)
	}
	if x.BuiltAt().IsZero() {
		t.Error("BuiltAt() is zero")
	}
}

func TestIndex_Row(t *testing.T) {
	x := twoRowIndex(t)

	row := x.Row(domain.FieldTitle, 1)
	if len(row) != 2 || row[0] != 0 || row[1] != 1 {
		t.Errorf("Row(title, 1) = %v, want [0 1]", row)
	}
}

func TestIndex_IDsIsACopy(t *testing.T) {
	x := twoRowIndex(t)
	ids := x.IDs()
	ids[0] = "mutated"
	if x.IDs()[0] != "a" {
		t.Error("IDs() must return a copy")
	}
}
