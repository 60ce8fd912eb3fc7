package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// loadJSON decodes a catalog in either of the two shapes produced by catalog
// exporters: a top-level object mapping dataset id to record, or a top-level
// array of records carrying their own "id".
func loadJSON(ctx context.Context, path string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogLoad, err)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrCatalogLoad, path, err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrCatalogLoad, path)
	}

	var records []domain.Record
	switch trimmed[0] {
	case '{':
		var byID map[string]map[string]any
		if err := json.Unmarshal(data, &byID); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrCatalogLoad, path, err)
		}
		for key, raw := range byID {
			rec, err := recordFromJSON(key, raw)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	case '[':
		var list []map[string]any
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrCatalogLoad, path, err)
		}
		for i, raw := range list {
			rec, err := recordFromJSON("", raw)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", domain.ErrCatalogLoad, i, err)
			}
			records = append(records, rec)
		}
	default:
		return nil, fmt.Errorf("%w: %s: expected a JSON object or array", domain.ErrCatalogLoad, path)
	}

	return NewStore(records)
}

// recordFromJSON maps one decoded catalog entry onto a Record. fallbackID is
// the object key in the id-keyed catalog shape; an in-record "id" wins.
func recordFromJSON(fallbackID string, raw map[string]any) (domain.Record, error) {
	id := stringValue(raw["id"])
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return domain.Record{}, fmt.Errorf("%w: record without id", domain.ErrCatalogLoad)
	}

	rec, err := domain.NewRecord(
		id,
		stringValue(raw["title"]),
		stringValue(raw["description"]),
		extractKeywords(raw),
		displayAttrs(raw),
	)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrCatalogLoad, err)
	}
	return rec, nil
}

// extractKeywords collects keyword terms from every place catalog exporters
// put them: summaries.keywords, summaries."gee:terms", properties.keywords,
// and a plain top-level keywords key. Values may be string lists or
// comma-separated strings.
func extractKeywords(raw map[string]any) []string {
	var out []string
	if summaries, ok := raw["summaries"].(map[string]any); ok {
		out = append(out, stringList(summaries["keywords"])...)
		out = append(out, stringList(summaries["gee:terms"])...)
	}
	if properties, ok := raw["properties"].(map[string]any); ok {
		out = append(out, stringList(properties["keywords"])...)
	}
	out = append(out, stringList(raw["keywords"])...)
	return out
}

// displayAttrs returns everything the search core never inspects.
func displayAttrs(raw map[string]any) map[string]any {
	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "id", "title", "description", "keywords":
			continue
		}
		attrs[k] = v
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return nil
}
