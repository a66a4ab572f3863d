package datasource

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/leapstack-labs/gridsource/internal/loader"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// Values are the distinct values of a column for a filter picker.
type Values struct {
	Values []any
	// Limited is set when the column has more distinct values than the
	// sample limit; only the first SampleLimit are returned.
	Limited bool
}

// GetFilterableValuesForColumn returns the distinct values of a column, or
// of a struct field or list element of it when path is set, under every
// filter except the column's own.
func (ds *DataSource) GetFilterableValuesForColumn(ctx context.Context, columnID, path string) (*Values, error) {
	return ds.distinct(ctx, func(b *loader.Builder, st loader.State, limit int64) (clause.Query, error) {
		return b.ValuesQuery(st, columnID, path, limit)
	})
}

// GetFilterableColorsForColumn returns the distinct effective colors of a
// column's cells, column defaults included.
func (ds *DataSource) GetFilterableColorsForColumn(ctx context.Context, columnID string, kind core.ColorKind) (*Values, error) {
	return ds.distinct(ctx, func(b *loader.Builder, st loader.State, limit int64) (clause.Query, error) {
		return b.ColorsQuery(st, columnID, kind, limit)
	})
}

func (ds *DataSource) distinct(ctx context.Context, build func(*loader.Builder, loader.State, int64) (clause.Query, error)) (*Values, error) {
	ds.mu.Lock()
	if !ds.initialized {
		ds.mu.Unlock()
		return nil, ErrNotInitialized
	}
	q, err := build(ds.loader.Builder(), ds.loaderState(ds.settings), ds.opts.SampleLimit+1)
	ds.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sql := clause.Render(q)
	key := xxh3.HashString(sql)
	if v, ok := ds.values.Get(key); ok {
		return v, nil
	}
	if err := ds.acquire(ctx); err != nil {
		return nil, err
	}
	res, err := ds.mgr.QueryAll(ctx, "", sql, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values: %w", err)
	}

	out := &Values{Values: make([]any, 0, len(res.Rows))}
	for _, row := range res.Rows {
		if int64(len(out.Values)) == ds.opts.SampleLimit {
			out.Limited = true
			break
		}
		out.Values = append(out.Values, row[0])
	}
	ds.values.Add(key, out)
	return out, nil
}
