package metadata

import (
	"context"
	"fmt"
	"slices"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// ClearColumnStyle removes the given style keys (and the link when
// clearLinks is set) from every cell of a column. It returns the previous
// ref of every changed row so the clear can be undone with RestoreRefs.
func (s *Store) ClearColumnStyle(ctx context.Context, columnID string, keys []core.StyleKey, clearLinks bool) (map[int64]*int64, error) {
	return s.rewriteColumn(ctx, columnID, func(_ int64, b *core.Blob) *core.Blob {
		b.Style = b.Style.Without(keys...)
		if clearLinks {
			b.Link = nil
		}
		return b
	})
}

// ClearColumnBorders clears border edges on every cell of a column.
// Left and right clear those edges everywhere; horizontal clears the edges
// between rows. The top edge of topRowID and the bottom edge of bottomRowID
// are outer edges and are only cleared when top or bottom is requested.
func (s *Store) ClearColumnBorders(ctx context.Context, columnID string, positions []core.BorderPosition, topRowID, bottomRowID int64) (map[int64]*int64, error) {
	has := func(p core.BorderPosition) bool { return slices.Contains(positions, p) }
	return s.rewriteColumn(ctx, columnID, func(rowID int64, b *core.Blob) *core.Blob {
		if b.Style == nil || b.Style.Borders.IsEmpty() {
			return b
		}
		borders := b.Style.Borders.Clone()
		if has(core.BorderLeft) {
			borders.Left = nil
		}
		if has(core.BorderRight) {
			borders.Right = nil
		}
		if rowID == topRowID {
			if has(core.BorderTop) {
				borders.Top = nil
			}
		} else if has(core.BorderHorizontal) {
			borders.Top = nil
		}
		if rowID == bottomRowID {
			if has(core.BorderBottom) {
				borders.Bottom = nil
			}
		} else if has(core.BorderHorizontal) {
			borders.Bottom = nil
		}
		if borders.IsEmpty() {
			borders = nil
		}
		b.Style.Borders = borders
		return b
	})
}

// rewriteColumn applies fn to every blob of a column and re-points rows to
// the deduplicated results. Rows sharing a ref are rewritten together.
func (s *Store) rewriteColumn(ctx context.Context, columnID string, fn func(rowID int64, b *core.Blob) *core.Blob) (map[int64]*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.columnRefsLocked(ctx, columnID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(current))
	for _, ref := range current {
		ids = append(ids, ref)
	}
	blobs, err := s.blobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// new ref -> rows
	moves := map[string][]int64{}
	targets := map[string]*int64{}
	old := make(map[int64]*int64)
	for _, rowID := range sortedRowIDs(current) {
		ref := current[rowID]
		b := blobs[ref].Clone()
		if b == nil {
			b = &core.Blob{}
		}
		next, err := s.refForLocked(ctx, fn(rowID, b))
		if err != nil {
			return nil, err
		}
		if next != nil && *next == ref {
			continue
		}
		key := refKey(next)
		moves[key] = append(moves[key], rowID)
		targets[key] = next
		r := ref
		old[rowID] = &r
	}

	for _, key := range sortedKeys(moves) {
		if err := s.pointRows(ctx, columnID, moves[key], targets[key]); err != nil {
			return nil, err
		}
	}
	return old, nil
}

// RestoreRefs points rows of a column back at the refs returned by a clear.
func (s *Store) RestoreRefs(ctx context.Context, columnID string, refs map[int64]*int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.columns[columnID] {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	groups := map[string][]int64{}
	targets := map[string]*int64{}
	for _, rowID := range sortedRowIDs(refs) {
		key := refKey(refs[rowID])
		groups[key] = append(groups[key], rowID)
		targets[key] = refs[rowID]
	}
	for _, key := range sortedKeys(groups) {
		if err := s.pointRows(ctx, columnID, groups[key], targets[key]); err != nil {
			return err
		}
	}
	return nil
}

// pointRows sets the column ref of existing meta rows.
func (s *Store) pointRows(ctx context.Context, columnID string, rowIDs []int64, ref *int64) error {
	var value any
	if ref != nil {
		value = *ref
	}
	stmt, args, err := sq.Update(s.metaRef()).
		Set(clause.QuoteIdent(columnID), value).
		Where(sq.Eq{clause.QuoteIdent(RowIDColumn): rowIDs}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build meta update: %w", err)
	}
	if _, err := s.db.Exec(ctx, "", stmt, args...); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// EditBorders sets border edges over a rectangle of cells. rowIDs are the
// rows of the rectangle top to bottom and columnIDs its columns left to
// right. A nil border clears the selected edges.
func (s *Store) EditBorders(ctx context.Context, rowIDs []int64, columnIDs []string, positions []core.BorderPosition, border *core.Border) error {
	if len(rowIDs) == 0 || len(columnIDs) == 0 {
		return nil
	}
	has := func(p core.BorderPosition) bool { return slices.Contains(positions, p) }
	first, last := rowIDs[0], rowIDs[len(rowIDs)-1]
	leftCol, rightCol := columnIDs[0], columnIDs[len(columnIDs)-1]

	cells := make([]Cell, 0, len(rowIDs)*len(columnIDs))
	for _, r := range rowIDs {
		for _, c := range columnIDs {
			cells = append(cells, Cell{RowID: r, ColumnID: c})
		}
	}
	edge := func() *core.Border {
		if border == nil {
			return nil
		}
		b := *border
		return &b
	}
	return s.Edit(ctx, cells, func(c Cell, b *core.Blob) *core.Blob {
		if b.Style == nil {
			b.Style = &core.Style{}
		}
		borders := b.Style.Borders.Clone()
		if borders == nil {
			borders = &core.Borders{}
		}
		if (has(core.BorderTop) && c.RowID == first) || (has(core.BorderHorizontal) && c.RowID != first) {
			borders.Top = edge()
		}
		if (has(core.BorderBottom) && c.RowID == last) || (has(core.BorderHorizontal) && c.RowID != last) {
			borders.Bottom = edge()
		}
		if has(core.BorderLeft) && c.ColumnID == leftCol {
			borders.Left = edge()
		}
		if has(core.BorderRight) && c.ColumnID == rightCol {
			borders.Right = edge()
		}
		if borders.IsEmpty() {
			borders = nil
		}
		b.Style.Borders = borders
		return b
	})
}

func refKey(ref *int64) string {
	if ref == nil {
		return "null"
	}
	return fmt.Sprintf("%020d", *ref)
}

func sortedRowIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
