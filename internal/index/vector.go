// Package index builds and queries the immutable per-field vector index.
package index

import (
	"math"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// Cosine computes cosine similarity between two vectors of equal length.
// A zero vector on either side yields 0, so records with blank fields rank
// neutrally instead of failing.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.ErrVectorDimMismatch
	}
	var dot float64
	var na float64
	var nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	den := math.Sqrt(na) * math.Sqrt(nb)
	if den == 0 {
		return 0, nil
	}
	return dot / den, nil
}

// NormalizeL2 returns a new vector normalized to unit L2 norm.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1.0 / n)
	for i := range v {
		out[i] = v[i] * inv
	}
	return out
}
