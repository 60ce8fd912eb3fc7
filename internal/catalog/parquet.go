package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// catalogColumns holds leaf-level column indexes resolved by name.
// Unknown roots are kept as display attribute sources.
type catalogColumns struct {
	id          int
	title       int
	description int
	keywords    int // list column — leaf index
	attrs       map[int]string
}

func resolveCatalogColumns(pf *parquet.File) catalogColumns {
	cols := catalogColumns{id: -1, title: -1, description: -1, keywords: -1, attrs: map[int]string{}}
	for i, path := range pf.Schema().Columns() {
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case "id":
			cols.id = i
		case "title":
			cols.title = i
		case "description":
			cols.description = i
		case "keywords":
			cols.keywords = i
		default:
			cols.attrs[i] = path[0]
		}
	}
	return cols
}

// loadParquet streams a columnar catalog row group by row group.
// Generic rows are used instead of Schema.Reconstruct — parquet-go падает на
// Reconstruct если схема содержит nullable колонки с complex types.
func loadParquet(ctx context.Context, path string) (*Store, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrCatalogLoad, path, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", domain.ErrCatalogLoad, path, err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet %s: %v", domain.ErrCatalogLoad, path, err)
	}

	cols := resolveCatalogColumns(pf)
	if cols.id < 0 {
		return nil, fmt.Errorf("%w: %s: id column not found in parquet schema", domain.ErrCatalogLoad, path)
	}

	var records []domain.Record
	for _, rg := range pf.RowGroups() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCatalogLoad, err)
		}
		rows := parquet.NewRowGroupReader(rg)
		buf := make([]parquet.Row, 256)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				rec, err := rowToRecord(buf[i], cols)
				if err != nil {
					return nil, err
				}
				records = append(records, rec)
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("%w: read rows from %s: %v", domain.ErrCatalogLoad, path, readErr)
			}
		}
	}

	return NewStore(records)
}

// rowToRecord extracts a Record from a generic parquet row by column index.
func rowToRecord(row parquet.Row, cols catalogColumns) (domain.Record, error) {
	var id, title, description string
	var keywords []string
	extra := map[string][]string{}

	for _, v := range row {
		if v.IsNull() {
			continue
		}
		col := v.Column()
		switch col {
		case cols.id:
			id = v.String()
		case cols.title:
			title = v.String()
		case cols.description:
			description = v.String()
		case cols.keywords:
			keywords = append(keywords, v.String())
		default:
			if name, ok := cols.attrs[col]; ok {
				extra[name] = append(extra[name], v.String())
			}
		}
	}

	var attrs map[string]any
	if len(extra) > 0 {
		attrs = make(map[string]any, len(extra))
		for k, vals := range extra {
			if len(vals) == 1 {
				attrs[k] = vals[0]
				continue
			}
			attrs[k] = vals
		}
	}

	rec, err := domain.NewRecord(id, title, description, keywords, attrs)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrCatalogLoad, err)
	}
	return rec, nil
}
