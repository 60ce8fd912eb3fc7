// Package catalog owns the parsed dataset catalog: an immutable record set
// loaded once from a file and shared read-only for the process lifetime.
package catalog

import (
	"fmt"
	"sort"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// Store is the immutable in-memory catalog. Records are exposed both as an
// O(1) id lookup and as a stable, reload-invariant sequence (ascending id)
// that defines index row order.
type Store struct {
	byID    map[string]domain.Record
	ordered []domain.Record
}

// NewStore validates and creates a Store from parsed records.
func NewStore(records []domain.Record) (*Store, error) {
	if len(records) == 0 {
		return nil, domain.ErrCatalogEmpty
	}
	byID := make(map[string]domain.Record, len(records))
	for _, r := range records {
		if _, dup := byID[r.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate record id %q", domain.ErrCatalogLoad, r.ID())
		}
		byID[r.ID()] = r
	}
	ordered := make([]domain.Record, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID() < ordered[j].ID() })

	return &Store{byID: byID, ordered: ordered}, nil
}

// Get looks up a record by id.
func (s *Store) Get(id string) (domain.Record, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// All returns every record in ascending id order.
func (s *Store) All() []domain.Record { return s.ordered }

// IDs returns the record identifiers in ascending order.
func (s *Store) IDs() []string {
	ids := make([]string, len(s.ordered))
	for i, r := range s.ordered {
		ids[i] = r.ID()
	}
	return ids
}

// Len returns the record count.
func (s *Store) Len() int { return len(s.ordered) }
