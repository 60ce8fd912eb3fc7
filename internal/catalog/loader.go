package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Format selects the catalog file decoder.
type Format string

const (
	// FormatAuto picks the decoder from the file extension.
	FormatAuto Format = "auto"
	// FormatJSON decodes an object-keyed or array-form JSON catalog.
	FormatJSON Format = "json"
	// FormatParquet decodes a columnar parquet catalog.
	FormatParquet Format = "parquet"
)

// IsValid checks if the format is supported.
func (f Format) IsValid() bool {
	return f == FormatAuto || f == FormatJSON || f == FormatParquet
}

// Loader reads catalog files into an immutable Store.
type Loader struct {
	format Format
}

// NewLoader creates a Loader. An empty format means auto-detection.
func NewLoader(format Format) (*Loader, error) {
	if format == "" {
		format = FormatAuto
	}
	if !format.IsValid() {
		return nil, fmt.Errorf("unsupported catalog format: %q", format)
	}
	return &Loader{format: format}, nil
}

// Load reads and parses the catalog at path.
// IO or parse failures wrap domain.ErrCatalogLoad; a parseable file with zero
// usable records fails with domain.ErrCatalogEmpty.
func (l *Loader) Load(ctx context.Context, path string) (*Store, error) {
	switch l.resolve(path) {
	case FormatParquet:
		return loadParquet(ctx, path)
	default:
		return loadJSON(ctx, path)
	}
}

func (l *Loader) resolve(path string) Format {
	if l.format != FormatAuto {
		return l.format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet
	default:
		return FormatJSON
	}
}
