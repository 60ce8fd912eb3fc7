package domain

import (
	"fmt"
	"strings"
)

// Record is one dataset metadata entry (immutable value object).
// The searchable surface is the four weighted fields; everything else the
// catalog carries (bands, palette, bbox, providers) stays in the display
// attribute bag and is never inspected by the search core.
type Record struct {
	id          string
	title       string
	description string
	keywords    []string
	attrs       map[string]any
}

// NewRecord validates and creates a Record. ID is required and must be stable
// across reloads; keywords are trimmed and de-duplicated preserving order.
func NewRecord(id, title, description string, keywords []string, attrs map[string]any) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, fmt.Errorf("record id is required")
	}
	cleaned := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		cleaned = append(cleaned, k)
	}
	return Record{
		id:          id,
		title:       title,
		description: description,
		keywords:    cleaned,
		attrs:       attrs,
	}, nil
}

// ID returns the stable dataset identifier.
func (r Record) ID() string { return r.id }

// Title returns the dataset title.
func (r Record) Title() string { return r.title }

// Description returns the free-text description.
func (r Record) Description() string { return r.description }

// Keywords returns the ordered keyword list.
func (r Record) Keywords() []string { return r.keywords }

// Attrs returns the display-only attribute bag (treat as read-only).
func (r Record) Attrs() map[string]any { return r.attrs }

// FieldText returns the text embedded for one searchable field.
func (r Record) FieldText(f Field) string {
	switch f {
	case FieldTitle:
		return r.title
	case FieldID:
		return r.id
	case FieldDescription:
		return r.description
	case FieldKeywords:
		return strings.Join(r.keywords, ", ")
	}
	return ""
}
