package domain

import (
	"fmt"
	"math"
)

// Field names one searchable metadata field of a dataset record.
type Field string

const (
	// FieldTitle is the dataset title.
	FieldTitle Field = "title"
	// FieldID is the dataset identifier treated as searchable text.
	FieldID Field = "id"
	// FieldDescription is the free-text description.
	FieldDescription Field = "description"
	// FieldKeywords is the joined keyword list.
	FieldKeywords Field = "keywords"
)

// AllFields returns the searchable fields in canonical order.
// The order is fixed: it defines matrix iteration and fingerprint layout.
func AllFields() []Field {
	return []Field{FieldTitle, FieldID, FieldDescription, FieldKeywords}
}

// IsValid checks if the field is one of the searchable fields.
func (f Field) IsValid() bool {
	switch f {
	case FieldTitle, FieldID, FieldDescription, FieldKeywords:
		return true
	}
	return false
}

// Weights maps searchable fields to non-negative relevance weights
// (immutable value object). Weights need not sum to 1: the engine normalizes
// at combination time, so relative proportions determine ranking. A zero
// weight disables the field entirely and the index builder skips embedding it.
type Weights struct {
	w map[Field]float64
}

// NewWeights validates and creates a weight set. Every key must be a known
// field, every value finite and non-negative, and at least one value positive.
func NewWeights(m map[Field]float64) (Weights, error) {
	if len(m) == 0 {
		return Weights{}, fmt.Errorf("%w: empty weight set", ErrInvalidArgument)
	}
	w := make(map[Field]float64, len(m))
	positive := false
	for f, v := range m {
		if !f.IsValid() {
			return Weights{}, NewUnknownField(string(f))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Weights{}, fmt.Errorf("%w: weight for %q must be a non-negative number, got %v", ErrInvalidArgument, f, v)
		}
		if v > 0 {
			positive = true
		}
		w[f] = v
	}
	if !positive {
		return Weights{}, fmt.Errorf("%w: at least one field weight must be positive", ErrInvalidArgument)
	}
	return Weights{w: w}, nil
}

// DefaultWeights returns the default field weighting.
func DefaultWeights() Weights {
	return Weights{w: map[Field]float64{
		FieldTitle:       0.35,
		FieldID:          0.15,
		FieldDescription: 0.30,
		FieldKeywords:    0.20,
	}}
}

// Get returns the weight for a field (0 when absent).
func (w Weights) Get(f Field) float64 { return w.w[f] }

// Active returns the fields with nonzero weight in canonical order.
func (w Weights) Active() []Field {
	active := make([]Field, 0, len(w.w))
	for _, f := range AllFields() {
		if w.w[f] > 0 {
			active = append(active, f)
		}
	}
	return active
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w.w {
		sum += v
	}
	return sum
}

// Normalized returns a weight set scaled to sum 1.
// Construction guarantees a positive sum.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	n := make(map[Field]float64, len(w.w))
	for f, v := range w.w {
		n[f] = v / sum
	}
	return Weights{w: n}
}

// Map returns a copy of the underlying mapping for display and status output.
func (w Weights) Map() map[Field]float64 {
	m := make(map[Field]float64, len(w.w))
	for f, v := range w.w {
		m[f] = v
	}
	return m
}

// Merge applies query-time overrides on top of this weight set. Overrides may
// only name fields active in this set (the index has no matrix for the rest),
// and the merged set must keep at least one positive weight.
func (w Weights) Merge(overrides map[Field]float64) (Weights, error) {
	if len(overrides) == 0 {
		return w, nil
	}
	active := make(map[Field]bool, len(w.w))
	for _, f := range w.Active() {
		active[f] = true
	}
	merged := make(map[Field]float64, len(w.w))
	for f, v := range w.w {
		merged[f] = v
	}
	for f, v := range overrides {
		if !active[f] {
			return Weights{}, NewUnknownField(string(f))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Weights{}, fmt.Errorf("%w: override for %q must be a non-negative number, got %v", ErrInvalidArgument, f, v)
		}
		merged[f] = v
	}
	positive := false
	for _, v := range merged {
		if v > 0 {
			positive = true
			break
		}
	}
	if !positive {
		return Weights{}, fmt.Errorf("%w: overrides disable every active field", ErrInvalidArgument)
	}
	return Weights{w: merged}, nil
}
