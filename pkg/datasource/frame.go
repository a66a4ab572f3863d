package datasource

import (
	"context"

	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// DataFrame is a window of rows and columns ready for display.
type DataFrame struct {
	Range    core.Range
	Columns  []core.Column
	RowCount int64
	Rows     []FrameRow
}

// FrameRow is one displayed row. Group and subtotal rows carry Groups,
// Count and Summary instead of cells.
type FrameRow struct {
	Index int64
	Kind  core.RowKind
	Level int
	RowID *int64
	Cells []FrameCell
	// Style is the row-level style.
	Style   *core.Style
	Groups  map[string]any
	Count   *int64
	Summary map[string]any
}

// FrameCell is one displayed cell.
type FrameCell struct {
	Value any
	// Style is the column default with the cell's own style applied.
	Style *core.Style
	Link  *core.Link
}

// GetDataFrame returns the rows and columns of the given windows, loading
// rows that are not cached yet. Both ranges are clamped.
func (ds *DataSource) GetDataFrame(ctx context.Context, rows, cols core.Range) (*DataFrame, error) {
	ld, err := ds.ready()
	if err != nil {
		return nil, err
	}
	rows = rows.Clamp(ld.RowCount())
	if !rows.IsEmpty() && ld.OptimizeRange(rows) != nil {
		if err := ds.Load(ctx, rows); err != nil {
			return nil, err
		}
	}

	all := ds.Columns()
	cols = cols.Clamp(int64(len(all)))
	var shown []core.Column
	if !cols.IsEmpty() {
		shown = all[cols.Start : cols.End+1]
	}

	frame := &DataFrame{Range: rows, Columns: shown, RowCount: ld.RowCount()}
	if rows.IsEmpty() {
		return frame, nil
	}
	for i, r := range ld.Rows(rows) {
		fr := FrameRow{Index: rows.Start + int64(i)}
		if r == nil {
			frame.Rows = append(frame.Rows, fr)
			continue
		}
		fr.Kind, fr.Level, fr.RowID = r.Kind, r.Level, r.RowID
		fr.Groups, fr.Count, fr.Summary = r.Groups, r.Count, r.Summary
		if b := r.Meta[metadata.RowKey]; b != nil {
			fr.Style = b.Style.Clone()
		}
		if r.Kind == core.RowData {
			fr.Cells = make([]FrameCell, len(shown))
			for j, c := range shown {
				fr.Cells[j] = frameCell(c, r.Data[c.ID], r.Meta[c.ID])
			}
		}
		frame.Rows = append(frame.Rows, fr)
	}
	return frame, nil
}

func frameCell(col core.Column, value any, b *core.Blob) FrameCell {
	cell := FrameCell{Value: value}
	var own *core.Style
	if b != nil {
		own = b.Style
		if b.Link != nil {
			l := *b.Link
			cell.Link = &l
		}
	}
	switch {
	case col.DefaultStyle == nil && own == nil:
	case col.DefaultStyle == nil:
		cell.Style = own.Clone()
	default:
		cell.Style = col.DefaultStyle.Merge(own)
	}
	return cell
}
