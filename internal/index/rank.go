package index

import (
	"fmt"
	"sort"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// Hit is one ranked search result: the dataset id, the combined relevance
// score, and the raw per-field cosine similarities for explainability.
type Hit struct {
	ID          string
	Score       float64
	FieldScores map[domain.Field]float64
}

// Rank scores every row against the query vector and returns the topK best
// hits ordered by combined score descending, ties broken by ascending id.
//
// The combined score is the weighted arithmetic mean of per-field cosine
// similarities under the normalized effective weights. FieldScores carries
// the raw similarities, so a blank field shows up as 0 rather than being
// dropped.
func (x *Index) Rank(query []float32, effective domain.Weights, topK int) ([]Hit, error) {
	if len(query) != x.spec.Dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d: %w",
			len(query), x.spec.Dimensions, domain.ErrVectorDimMismatch)
	}

	norm := effective.Normalized()
	fields := norm.Active()
	for _, f := range fields {
		if _, ok := x.matrices[f]; !ok {
			return nil, domain.NewUnknownField(string(f))
		}
	}

	hits := make([]Hit, x.Len())
	for i := range x.ids {
		fieldScores := make(map[domain.Field]float64, len(fields))
		var combined float64
		for _, f := range fields {
			sim, err := Cosine(query, x.Row(f, i))
			if err != nil {
				return nil, fmt.Errorf("field %q row %d: %w", f, i, err)
			}
			fieldScores[f] = sim
			combined += norm.Get(f) * sim
		}
		hits[i] = Hit{ID: x.ids[i], Score: combined, FieldScores: fieldScores}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})

	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}
