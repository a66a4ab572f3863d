package datasource

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"github.com/leapstack-labs/gridsource/internal/events"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// CellEdit is a new value for one cell.
type CellEdit struct {
	RowID    int64
	ColumnID string
	Value    any
}

// StyleSnapshot is the state of a column before a bulk clear. Pass it to
// RestoreColumnStyle to undo the clear.
type StyleSnapshot struct {
	ColumnID string
	refs     map[int64]*int64
}

// EditCellsStyle merges patch into the style of every cell.
func (ds *DataSource) EditCellsStyle(ctx context.Context, cells []CellRef, patch *core.Style) error {
	return ds.editMeta(ctx, cells, func(ctx context.Context) error {
		return ds.meta.Edit(ctx, cells, metadata.MergeStyle(patch))
	})
}

// EditCellsFormat sets the number or date format of every cell; an empty
// format removes it.
func (ds *DataSource) EditCellsFormat(ctx context.Context, cells []CellRef, format string) error {
	return ds.editMeta(ctx, cells, func(ctx context.Context) error {
		return ds.meta.Edit(ctx, cells, func(_ metadata.Cell, b *core.Blob) *core.Blob {
			if format == "" {
				b.Style = b.Style.Without(core.KeyFormat)
				return b
			}
			b.Style = b.Style.Merge(&core.Style{Format: core.Ptr(format)})
			return b
		})
	})
}

// EditCellsBorders sets border edges over the rectangle spanned by rowIDs
// and columnIDs. rowIDs and columnIDs are in display order.
func (ds *DataSource) EditCellsBorders(ctx context.Context, rowIDs []int64, columnIDs []string, positions []core.BorderPosition, border *core.Border) error {
	var cells []CellRef
	for _, r := range rowIDs {
		for _, c := range columnIDs {
			cells = append(cells, CellRef{RowID: r, ColumnID: c})
		}
	}
	return ds.editMeta(ctx, cells, func(ctx context.Context) error {
		return ds.meta.EditBorders(ctx, rowIDs, columnIDs, positions, border)
	})
}

// EditCellLink sets the hyperlink of one cell; nil removes it.
func (ds *DataSource) EditCellLink(ctx context.Context, cell CellRef, link *core.Link) error {
	return ds.editMeta(ctx, []CellRef{cell}, func(ctx context.Context) error {
		return ds.meta.EditCellLink(ctx, cell.RowID, cell.ColumnID, link)
	})
}

// GetMetadata returns the metadata of one cell, or nil.
func (ds *DataSource) GetMetadata(ctx context.Context, cell CellRef) (*core.Blob, error) {
	if _, err := ds.ready(); err != nil {
		return nil, err
	}
	return ds.meta.GetMetadata(ctx, cell.RowID, cell.ColumnID)
}

// ClearColumnStyle removes style keys, and optionally links, from every
// cell of a column.
func (ds *DataSource) ClearColumnStyle(ctx context.Context, columnID string, keys []core.StyleKey, clearLinks bool) (StyleSnapshot, error) {
	snap := StyleSnapshot{ColumnID: columnID}
	err := ds.editMeta(ctx, []CellRef{{ColumnID: columnID}}, func(ctx context.Context) error {
		refs, err := ds.meta.ClearColumnStyle(ctx, columnID, keys, clearLinks)
		snap.refs = refs
		return err
	})
	return snap, err
}

// ClearColumnBorders clears border edges of a column. topRowID and
// bottomRowID are the first and last rows of the cleared range; their outer
// edges are kept unless top or bottom is requested.
func (ds *DataSource) ClearColumnBorders(ctx context.Context, columnID string, positions []core.BorderPosition, topRowID, bottomRowID int64) (StyleSnapshot, error) {
	snap := StyleSnapshot{ColumnID: columnID}
	err := ds.editMeta(ctx, []CellRef{{ColumnID: columnID}}, func(ctx context.Context) error {
		refs, err := ds.meta.ClearColumnBorders(ctx, columnID, positions, topRowID, bottomRowID)
		snap.refs = refs
		return err
	})
	return snap, err
}

// RestoreColumnStyle undoes a column clear.
func (ds *DataSource) RestoreColumnStyle(ctx context.Context, snap StyleSnapshot) error {
	return ds.editMeta(ctx, []CellRef{{ColumnID: snap.ColumnID}}, func(ctx context.Context) error {
		return ds.meta.RestoreRefs(ctx, snap.ColumnID, snap.refs)
	})
}

// editMeta runs a metadata write and refreshes what depends on it. Rows
// are reloaded from scratch when a color filter or sort may now order or
// select them differently.
func (ds *DataSource) editMeta(ctx context.Context, cells []CellRef, write func(context.Context) error) error {
	ld, err := ds.ready()
	if err != nil {
		return err
	}
	if err := ds.acquire(ctx); err != nil {
		return err
	}
	if err := write(ctx); err != nil {
		ds.logger.Error("metadata edit failed", slog.String("error", err.Error()))
		return err
	}

	ds.mu.Lock()
	colorDependent := ds.colorDependent()
	ds.mu.Unlock()
	if colorDependent {
		if err := ld.Reload(ctx); err != nil {
			return err
		}
	} else {
		ld.Invalidate()
	}
	ds.values.Purge()

	ds.bus.Emit(events.Event{Kind: events.Data, ColumnIDs: cellColumns(cells), RowCount: ld.RowCount()})
	return nil
}

func (ds *DataSource) colorDependent() bool {
	if len(ds.settings.Filter.ColorColumns()) > 0 {
		return true
	}
	for _, s := range ds.settings.Sorters {
		if _, ok := s.ColorKind(); ok {
			return true
		}
	}
	return false
}

func cellColumns(cells []CellRef) []string {
	var ids []string
	seen := map[string]bool{}
	for _, c := range cells {
		if !seen[c.ColumnID] {
			seen[c.ColumnID] = true
			ids = append(ids, c.ColumnID)
		}
	}
	return ids
}

// EditCells writes new cell values. Only sources materialized into a table
// can be edited.
func (ds *DataSource) EditCells(ctx context.Context, edits []CellEdit) error {
	if !ds.Editable() {
		return ErrNotEditable
	}
	ld, err := ds.ready()
	if err != nil {
		return err
	}
	if err := ds.acquire(ctx); err != nil {
		return err
	}

	ds.mu.Lock()
	for _, e := range edits {
		if _, _, ok := core.FindColumn(ds.baseColumns, e.ColumnID); !ok {
			ds.mu.Unlock()
			return fmt.Errorf("cannot edit column %q", e.ColumnID)
		}
	}
	table := ds.base.EscapedRef
	ds.mu.Unlock()

	for _, e := range edits {
		stmt, args, err := sq.Update(table).
			Set(clause.QuoteIdent(e.ColumnID), e.Value).
			Where(sq.Eq{"rowid": e.RowID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}
		if _, err := ds.mgr.Exec(ctx, "", stmt, args...); err != nil {
			return fmt.Errorf("failed to update row %d: %w", e.RowID, err)
		}
	}

	if err := ld.Reload(ctx); err != nil {
		return err
	}
	ds.values.Purge()
	ds.bus.Emit(events.Event{Kind: events.Data, ColumnIDs: editColumns(edits), RowCount: ld.RowCount()})
	return nil
}

func editColumns(edits []CellEdit) []string {
	cells := make([]CellRef, len(edits))
	for i, e := range edits {
		cells[i] = CellRef{RowID: e.RowID, ColumnID: e.ColumnID}
	}
	return cellColumns(cells)
}
