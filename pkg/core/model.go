package core

import (
	"fmt"
	"strings"
)

// =============================================================================
// Columns
// =============================================================================

// Column describes one column of a data source.
type Column struct {
	// ID is the physical column name in the result set.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Type is the engine type name, e.g. "VARCHAR" or "DECIMAL(18,3)".
	Type string `json:"type"`
	// Virtual columns are computed from Expr and have no physical storage.
	Virtual bool   `json:"virtual,omitempty"`
	Expr    string `json:"expr,omitempty"`
	// DefaultStyle is the column-level style applied to cells without an
	// override. Color filters and sorts fall back to it.
	DefaultStyle *Style `json:"defaultStyle,omitempty"`
	Width        int    `json:"width,omitempty"`
}

// DefaultColor returns the column-level default for a color kind, or "".
func (c Column) DefaultColor(kind ColorKind) string {
	if c.DefaultStyle == nil {
		return ""
	}
	switch kind {
	case ColorCell:
		if c.DefaultStyle.BackgroundColor != nil {
			return *c.DefaultStyle.BackgroundColor
		}
	case ColorText:
		if c.DefaultStyle.TextColor != nil {
			return *c.DefaultStyle.TextColor
		}
	}
	return ""
}

// FindColumn returns the column with the given id.
func FindColumn(cols []Column, id string) (Column, int, bool) {
	for i, c := range cols {
		if c.ID == id {
			return c, i, true
		}
	}
	return Column{}, -1, false
}

// =============================================================================
// Sorting and grouping
// =============================================================================

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// IsDesc reports whether d sorts descending.
func (d Direction) IsDesc() bool { return strings.EqualFold(string(d), string(Desc)) }

// Invert returns the opposite direction.
func (d Direction) Invert() Direction {
	if d.IsDesc() {
		return Asc
	}
	return Desc
}

// ColorKind selects which color a color-based sort or filter looks at.
type ColorKind string

// Color kinds.
const (
	ColorCell ColorKind = "cellColor"
	ColorText ColorKind = "textColor"
)

// JSONPath returns the path of the color inside a metadata blob.
func (k ColorKind) JSONPath() string {
	if k == ColorText {
		return "$.style.textColor"
	}
	return "$.style.backgroundColor"
}

// SortKind is the sort criterion.
type SortKind string

// Sort kinds. Color sorts put rows whose effective color matches first.
const (
	SortValue     SortKind = "value"
	SortCellColor SortKind = "cellColor"
	SortTextColor SortKind = "textColor"
)

// Sorter is one sort key.
type Sorter struct {
	ColumnID  string    `json:"columnId"`
	Direction Direction `json:"direction"`
	Kind      SortKind  `json:"kind,omitempty"`
	// Color is the color sorted first for color sorts.
	Color string `json:"color,omitempty"`
	// Path selects a field of a nested value, e.g. "a.b[0]".
	Path          string `json:"path,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

// ColorKind returns the color kind of a color sort.
func (s Sorter) ColorKind() (ColorKind, bool) {
	switch s.Kind {
	case SortCellColor:
		return ColorCell, true
	case SortTextColor:
		return ColorText, true
	}
	return "", false
}

// Group is one grouping level.
type Group struct {
	ColumnID  string    `json:"columnId"`
	Direction Direction `json:"direction"`
}

// AggregationFn is a summary function name.
type AggregationFn string

// Aggregation functions.
const (
	AggSum           AggregationFn = "sum"
	AggAvg           AggregationFn = "avg"
	AggMin           AggregationFn = "min"
	AggMax           AggregationFn = "max"
	AggCount         AggregationFn = "count"
	AggCountDistinct AggregationFn = "countDistinct"
)

// SQLFunc returns the engine aggregate for the function and whether it
// applies DISTINCT.
func (f AggregationFn) SQLFunc() (name string, distinct bool, err error) {
	switch f {
	case AggSum, AggAvg, AggMin, AggMax, AggCount:
		return string(f), false, nil
	case AggCountDistinct:
		return "count", true, nil
	}
	return "", false, fmt.Errorf("unknown aggregation function %q", f)
}

// =============================================================================
// Ranges and load policy
// =============================================================================

// Range is an inclusive row range [Start, End].
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of rows in the range.
func (r Range) Len() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// IsEmpty reports whether the range holds no rows.
func (r Range) IsEmpty() bool { return r.End < r.Start }

// Contains reports whether row i is inside the range.
func (r Range) Contains(i int64) bool { return i >= r.Start && i <= r.End }

// Clamp restricts the range to [0, total-1].
func (r Range) Clamp(total int64) Range {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > total-1 {
		r.End = total - 1
	}
	return r
}

func (r Range) String() string { return fmt.Sprintf("[%d,%d]", r.Start, r.End) }

// ParseRange parses "start:end".
func ParseRange(s string) (Range, error) {
	var r Range
	if _, err := fmt.Sscanf(s, "%d:%d", &r.Start, &r.End); err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if r.Start < 0 || r.End < r.Start {
		return Range{}, fmt.Errorf("invalid range %q", s)
	}
	return r, nil
}

// LoadAllThreshold decides whether a data source is small enough to load in
// one window. Nil limits are ignored; set limits are ANDed.
type LoadAllThreshold struct {
	Rows    *int64 `json:"rows,omitempty" koanf:"rows"`
	Columns *int   `json:"columns,omitempty" koanf:"columns"`
	// Totals bounds the cell count (rows × columns).
	Totals *int64 `json:"totals,omitempty" koanf:"totals"`
}

// Allows reports whether a result of the given shape may be loaded eagerly.
// A threshold with no limits never allows eager loading.
func (t LoadAllThreshold) Allows(rows int64, columns int) bool {
	if t.Rows == nil && t.Columns == nil && t.Totals == nil {
		return false
	}
	if t.Rows != nil && rows > *t.Rows {
		return false
	}
	if t.Columns != nil && columns > *t.Columns {
		return false
	}
	if t.Totals != nil && rows*int64(columns) > *t.Totals {
		return false
	}
	return true
}

// RowKind tags rows of the effective query.
type RowKind string

// Row kinds.
const (
	RowData     RowKind = "row"
	RowGroup    RowKind = "group"
	RowSubtotal RowKind = "subtotal"
	RowSummary  RowKind = "summary"
)
