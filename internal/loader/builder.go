package loader

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/gridsource/internal/filter"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/dbtype"
)

// Reserved names in generated queries. Result columns starting with "__"
// are internal and never shown as data.
const (
	RowIDColumn = "__rowid"
	KindColumn  = "__kind"
	LevelColumn = "__level"
	CountColumn = "__count"

	posColumn = "__pos"
	baseCTE   = "__base"
	rowsCTE   = "__rows"
	groupsCTE = "__groups"
	srcAlias  = "__src"
	metaAlias = "__m"
)

// IsInternal reports whether a result column is generated by the builder.
func IsInternal(name string) bool { return strings.HasPrefix(name, "__") }

// State is the view state that shapes the effective query.
type State struct {
	// Columns are the base columns followed by virtual columns.
	Columns      []core.Column
	Filter       filter.Target
	Sorters      []core.Sorter
	Groups       []core.Group
	Aggregations map[string]core.AggregationFn
	// Subtotals adds a subtotal row after the rows of each group.
	Subtotals bool
}

// Active reports whether the state changes the base query at all.
func (s State) Active() bool {
	if !s.Filter.IsEmpty() || len(s.Sorters) > 0 || len(s.Groups) > 0 {
		return true
	}
	for _, c := range s.Columns {
		if c.Virtual {
			return true
		}
	}
	return false
}

// GroupField names the synthetic fields of one grouped column.
type GroupField struct {
	ColumnID  string
	Level     int
	Direction core.Direction
	// Key is the projection rows are grouped and ordered by.
	Key string
	// Value is a representative original value of the group.
	Value string
	// Text is Value cast to text.
	Text string
	// Grouping is 1 on rows where this level is rolled up.
	Grouping string
}

// GroupsContext maps grouped columns to their fields.
type GroupsContext struct {
	Fields []GroupField
}

// Field returns the fields of a grouped column.
func (g *GroupsContext) Field(columnID string) (GroupField, bool) {
	if g == nil {
		return GroupField{}, false
	}
	for _, f := range g.Fields {
		if f.ColumnID == columnID {
			return f, true
		}
	}
	return GroupField{}, false
}

// SummaryField is the aggregate of one column.
type SummaryField struct {
	ColumnID string
	Fn       core.AggregationFn
	Name     string
}

// SummaryContext lists the aggregated columns.
type SummaryContext struct {
	Fields []SummaryField
}

// Plan is a built effective query.
type Plan struct {
	Query clause.Query
	// SQL is the rendered query; plans are compared by it.
	SQL string
	// Groups is nil when the state has no groups.
	Groups  *GroupsContext
	Summary *SummaryContext
	// SummaryQuery is the single-row aggregate over the filtered rows.
	SummaryQuery clause.Query
	// Rollup is the GROUP BY ROLLUP result: one row per group at every
	// level followed by the grand total. Nil when ungrouped.
	Rollup clause.Query

	state State
	ctes  []clause.CTE
}

// Builder composes effective queries over a base relation.
type Builder struct {
	Base clause.TableRef
	// HasRowID is set when the base relation is a table with a physical
	// rowid; other bases number their rows.
	HasRowID bool
	// Meta provides the joins of color filters and sorts. Without it color
	// conditions fail to compile.
	Meta   *metadata.Store
	Now    func() time.Time
	Logger *slog.Logger
}

// ColorAlias is the alias of the ref table joined for a column.
func ColorAlias(columnID string) string { return "__c_" + columnID }

// GroupFieldNames returns the field names of grouping level i.
func GroupFieldNames(i int) (key, value, text, grouping string) {
	p := fmt.Sprintf("__g%d_", i)
	return p + "key", p + "value", p + "text", p + "grouping"
}

// SummaryFieldName is the result column of a column aggregate.
func SummaryFieldName(columnID string) string { return "__agg_" + columnID }

func sortField(i int) string { return fmt.Sprintf("__s%d", i) }

// Build composes the effective query for st.
func (b *Builder) Build(st State) (*Plan, error) {
	rows, err := b.rowsQuery(st, st.Filter, true)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		state:   st,
		ctes:    []clause.CTE{{Name: baseCTE, Query: b.baseQuery(st)}, {Name: rowsCTE, Query: rows}},
		Summary: summaryContext(st),
	}

	p.SummaryQuery = &clause.Select{
		With:    p.ctes,
		Columns: append([]clause.Projection{clause.As(clause.Func("count", clause.Star{}), CountColumn)}, aggregates(p.Summary)...),
		From:    clause.Table{Name: rowsCTE},
	}

	if len(st.Groups) == 0 {
		sel := &clause.Select{
			With: p.ctes,
			From: clause.Table{Name: rowsCTE},
		}
		for i, s := range st.Sorters {
			sel.OrderBy = append(sel.OrderBy, clause.OrderKey{Expr: clause.Col("", sortField(i)), Desc: sortDesc(s)})
		}
		sel.OrderBy = append(sel.OrderBy, clause.Asc(clause.Col("", RowIDColumn)))
		p.Query = sel
	} else {
		p.Groups = groupsContext(st)
		p.Query = b.groupedQuery(p)
		p.Rollup = rollupQuery(p, true)
	}
	p.SQL = clause.Render(p.Query)
	return p, nil
}

// baseQuery numbers the base rows and adds virtual columns.
func (b *Builder) baseQuery(st State) *clause.Select {
	var rowID clause.Expr = clause.Col(srcAlias, "rowid")
	if !b.HasRowID {
		rowID = clause.Minus(clause.FuncCall{Name: "row_number", Over: &clause.Window{}}, clause.Lit(1))
	}
	sel := &clause.Select{
		Columns: []clause.Projection{
			clause.As(rowID, RowIDColumn),
			{Expr: clause.Star{Table: srcAlias}},
		},
		From: aliased(b.Base, srcAlias),
	}
	for _, c := range st.Columns {
		if c.Virtual {
			sel.Columns = append(sel.Columns, clause.As(clause.Raw("("+c.Expr+")"), c.ID))
		}
	}
	return sel
}

// rowsQuery selects the filtered rows with the color joins, sort keys and,
// when grouped, grouping keys.
func (b *Builder) rowsQuery(st State, f filter.Target, withKeys bool) (*clause.Select, error) {
	sel := &clause.Select{
		Columns: []clause.Projection{{Expr: clause.Star{Table: baseCTE}}},
		From:    clause.Table{Name: baseCTE},
	}

	colorCols := f.ColorColumns()
	if withKeys {
		for _, s := range st.Sorters {
			if _, ok := s.ColorKind(); ok && !contains(colorCols, s.ColumnID) {
				colorCols = append(colorCols, s.ColumnID)
			}
		}
	}
	if len(colorCols) > 0 {
		if b.Meta == nil {
			return nil, fmt.Errorf("color filters and sorts need a metadata store")
		}
		sel.Joins = b.Meta.ColorJoins(metaAlias, clause.Col(baseCTE, RowIDColumn), colorCols, ColorAlias)
	}

	c := &filter.Compiler{Columns: st.Columns, ColorRef: ColorAlias, Now: b.Now, Logger: b.Logger}
	where, err := c.Compile(baseCTE, f)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter: %w", err)
	}
	sel.Where = where

	if !withKeys {
		return sel, nil
	}
	for i, g := range st.Groups {
		col, _, ok := core.FindColumn(st.Columns, g.ColumnID)
		if !ok {
			return nil, fmt.Errorf("group on unknown column %q", g.ColumnID)
		}
		key, _, _, _ := GroupFieldNames(i)
		sel.Columns = append(sel.Columns, clause.As(groupKey(clause.Col(baseCTE, col.ID), col.Type), key))
	}
	for i, s := range st.Sorters {
		e, err := sortExpr(st.Columns, s)
		if err != nil {
			return nil, err
		}
		sel.Columns = append(sel.Columns, clause.As(e, sortField(i)))
	}
	return sel, nil
}

// groupKey is the projection a column is grouped by: strings ignore case,
// timestamps group by day and values without a total order by hash.
func groupKey(x clause.Expr, typ string) clause.Expr {
	switch {
	case dbtype.IsString(typ):
		return dbtype.FoldCase(x, typ)
	case dbtype.IsDateLike(typ) && !strings.EqualFold(strings.TrimSpace(typ), "DATE"):
		return clause.Func("date_trunc", clause.Lit("day"), x)
	case dbtype.NeedsHashOrdering(typ):
		return clause.Func("hash", x)
	}
	return x
}

// sortExpr is the ordering key of a sorter over the base row.
func sortExpr(cols []core.Column, s core.Sorter) (clause.Expr, error) {
	col, _, ok := core.FindColumn(cols, s.ColumnID)
	if !ok {
		return nil, fmt.Errorf("sort on unknown column %q", s.ColumnID)
	}
	if kind, ok := s.ColorKind(); ok {
		return clause.Eq(filter.EffectiveColor(ColorAlias(col.ID), kind, col.DefaultColor(kind)), clause.Lit(s.Color)), nil
	}

	steps, err := dbtype.ParsePath(s.Path)
	if err != nil {
		return nil, err
	}
	typ, err := dbtype.Resolve(col.Type, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to sort %s: %w", col.ID, err)
	}
	x := dbtype.PathExpr(clause.Col(baseCTE, col.ID), steps)
	switch {
	case dbtype.NeedsHashOrdering(typ):
		return clause.Func("hash", x), nil
	case dbtype.IsString(typ) && !s.CaseSensitive:
		return dbtype.FoldCase(x, typ), nil
	}
	return x, nil
}

// sortDesc returns the ORDER BY direction of a sorter. A color sort key is
// true on matching rows, so its direction is inverted to put them first.
func sortDesc(s core.Sorter) bool {
	if _, ok := s.ColorKind(); ok {
		return !s.Direction.IsDesc()
	}
	return s.Direction.IsDesc()
}

func groupsContext(st State) *GroupsContext {
	g := &GroupsContext{}
	for i, grp := range st.Groups {
		key, value, text, grouping := GroupFieldNames(i)
		g.Fields = append(g.Fields, GroupField{
			ColumnID:  grp.ColumnID,
			Level:     i,
			Direction: grp.Direction,
			Key:       key,
			Value:     value,
			Text:      text,
			Grouping:  grouping,
		})
	}
	return g
}

// summaryContext keeps the aggregations whose function suits the column
// type, in column order.
func summaryContext(st State) *SummaryContext {
	s := &SummaryContext{}
	for _, c := range st.Columns {
		fn, ok := st.Aggregations[c.ID]
		if !ok || !dbtype.AdmitsSummary(c.Type, string(fn)) {
			continue
		}
		s.Fields = append(s.Fields, SummaryField{ColumnID: c.ID, Fn: fn, Name: SummaryFieldName(c.ID)})
	}
	return s
}

func aggregates(s *SummaryContext) []clause.Projection {
	out := make([]clause.Projection, 0, len(s.Fields))
	for _, f := range s.Fields {
		name, distinct, _ := f.Fn.SQLFunc()
		out = append(out, clause.As(clause.FuncCall{
			Name:     name,
			Args:     []clause.Expr{clause.Col(rowsCTE, f.ColumnID)},
			Distinct: distinct,
		}, f.Name))
	}
	return out
}

// groupsQuery aggregates the filtered rows with GROUP BY ROLLUP over the
// grouping keys.
func groupsQuery(p *Plan, aggs []clause.Projection) *clause.Select {
	sel := &clause.Select{From: clause.Table{Name: rowsCTE}, GroupBy: &clause.GroupBy{Rollup: true}}
	for _, f := range p.Groups.Fields {
		key := clause.Col("", f.Key)
		value := clause.Func("any_value", clause.Col(rowsCTE, f.ColumnID))
		sel.Columns = append(sel.Columns,
			clause.As(key, f.Key),
			clause.As(value, f.Value),
			clause.As(clause.Text(value), f.Text),
			clause.As(clause.Func("grouping", key), f.Grouping),
		)
		sel.GroupBy.Exprs = append(sel.GroupBy.Exprs, key)
	}
	sel.Columns = append(sel.Columns, clause.As(clause.Func("count", clause.Star{}), CountColumn))
	sel.Columns = append(sel.Columns, aggs...)
	return sel
}

// levelExpr is the depth of a rollup row: n-1 for the innermost groups,
// 0 for the outermost and -1 for the grand total.
func levelExpr(fields []GroupField, table string) clause.Expr {
	var sum clause.Expr
	for _, f := range fields {
		col := clause.Col(table, f.Grouping)
		if sum == nil {
			sum = col
			continue
		}
		sum = clause.Binary{Op: "+", Left: sum, Right: col}
	}
	return clause.Minus(clause.Lit(len(fields)-1), sum)
}

// groupedQuery interleaves group header rows, data rows and optional
// subtotal rows. Ordering per level puts rolled-up rows (headers) before
// the rows of their group; subtotals carry negated flags so they sort after.
func (b *Builder) groupedQuery(p *Plan) *clause.Union {
	fields := p.Groups.Fields
	n := len(fields)
	groups := groupsQuery(p, aggregates(p.Summary))
	ctes := append(append([]clause.CTE{}, p.ctes...), clause.CTE{Name: groupsCTE, Query: groups})
	notGrand := clause.Eq(clause.Col(groupsCTE, fields[0].Grouping), clause.Lit(0))

	data := &clause.Select{
		Columns: []clause.Projection{
			clause.As(clause.Lit(string(core.RowData)), KindColumn),
			clause.As(clause.Lit(n), LevelColumn),
			clause.As(clause.Lit(1), posColumn),
		},
		From: clause.Table{Name: rowsCTE},
	}
	for _, f := range fields {
		data.Columns = append(data.Columns, clause.As(clause.Lit(0), f.Grouping))
	}
	data.Columns = append(data.Columns, clause.Projection{Expr: clause.Star{Table: rowsCTE}})

	headers := &clause.Select{
		Columns: []clause.Projection{
			clause.As(clause.Lit(string(core.RowGroup)), KindColumn),
			clause.As(levelExpr(fields, groupsCTE), LevelColumn),
			clause.As(clause.Lit(0), posColumn),
			{Expr: clause.Star{Table: groupsCTE}},
		},
		From:  clause.Table{Name: groupsCTE},
		Where: notGrand,
	}

	u := &clause.Union{With: ctes, ByName: true, Parts: []clause.Query{headers, data}}

	if p.state.Subtotals {
		sub := &clause.Select{
			Columns: []clause.Projection{
				clause.As(clause.Lit(string(core.RowSubtotal)), KindColumn),
				clause.As(levelExpr(fields, groupsCTE), LevelColumn),
				clause.As(clause.Lit(2), posColumn),
			},
			From:  clause.Table{Name: groupsCTE},
			Where: notGrand,
		}
		for _, f := range fields {
			sub.Columns = append(sub.Columns,
				clause.As(clause.Col(groupsCTE, f.Key), f.Key),
				clause.As(clause.Col(groupsCTE, f.Value), f.Value),
				clause.As(clause.Col(groupsCTE, f.Text), f.Text),
				clause.As(clause.Binary{Op: "*", Left: clause.Lit(-1), Right: clause.Col(groupsCTE, f.Grouping)}, f.Grouping),
			)
		}
		sub.Columns = append(sub.Columns, clause.As(clause.Col(groupsCTE, CountColumn), CountColumn))
		for _, s := range p.Summary.Fields {
			sub.Columns = append(sub.Columns, clause.As(clause.Col(groupsCTE, s.Name), s.Name))
		}
		u.Parts = append(u.Parts, sub)
	}

	u.OrderBy = levelOrder(fields)
	u.OrderBy = append(u.OrderBy, clause.Asc(clause.Col("", posColumn)))
	for i, s := range p.state.Sorters {
		u.OrderBy = append(u.OrderBy, clause.OrderKey{Expr: clause.Col("", sortField(i)), Desc: sortDesc(s)})
	}
	u.OrderBy = append(u.OrderBy, clause.Asc(clause.Col("", RowIDColumn)))
	return u
}

// levelOrder orders each level by its rolled-up flag (descending) and then
// by its key in the group's direction.
func levelOrder(fields []GroupField) []clause.OrderKey {
	keys := make([]clause.OrderKey, 0, 2*len(fields))
	for _, f := range fields {
		keys = append(keys,
			clause.Desc(clause.Col("", f.Grouping)),
			clause.OrderKey{Expr: clause.Col("", f.Key), Desc: f.Direction.IsDesc()},
		)
	}
	return keys
}

// rollupQuery returns the rollup rows with their summaries. With
// boundaryFirst the grand total sorts last; otherwise rows come in
// pre-order, grand total first.
func rollupQuery(p *Plan, boundaryFirst bool) *clause.Select {
	return rollupWith(p, aggregates(p.Summary), boundaryFirst)
}

func rollupWith(p *Plan, aggs []clause.Projection, boundaryFirst bool) *clause.Select {
	groups := groupsQuery(p, aggs)
	sel := &clause.Select{
		With:    append(append([]clause.CTE{}, p.ctes...), clause.CTE{Name: groupsCTE, Query: groups}),
		Columns: []clause.Projection{{Expr: clause.Star{}}, clause.As(levelExpr(p.Groups.Fields, ""), LevelColumn)},
		From:    clause.Table{Name: groupsCTE},
	}
	if boundaryFirst {
		sel.OrderBy = append(sel.OrderBy, clause.Asc(clause.Col("", p.Groups.Fields[0].Grouping)))
	}
	sel.OrderBy = append(sel.OrderBy, levelOrder(p.Groups.Fields)...)
	return sel
}

// GroupSummaryQuery returns the rollup of one column's aggregate in
// pre-order. Columns without an aggregation are counted.
func (b *Builder) GroupSummaryQuery(p *Plan, columnID string) (clause.Query, core.AggregationFn, error) {
	if p.Groups == nil {
		return nil, "", fmt.Errorf("data source is not grouped")
	}
	col, _, ok := core.FindColumn(p.state.Columns, columnID)
	if !ok {
		return nil, "", fmt.Errorf("summary of unknown column %q", columnID)
	}
	fn := core.AggCount
	if f, ok := p.state.Aggregations[columnID]; ok && dbtype.AdmitsSummary(col.Type, string(f)) {
		fn = f
	}
	name, distinct, err := fn.SQLFunc()
	if err != nil {
		return nil, "", err
	}
	agg := clause.As(clause.FuncCall{Name: name, Args: []clause.Expr{clause.Col(rowsCTE, col.ID)}, Distinct: distinct}, summaryValue)
	return rollupWith(p, []clause.Projection{agg}, false), fn, nil
}

const summaryValue = "__value"

// ValuesQuery returns the distinct values of a column under every filter
// except the column's own, capped at limit rows.
func (b *Builder) ValuesQuery(st State, columnID, path string, limit int64) (clause.Query, error) {
	col, _, ok := core.FindColumn(st.Columns, columnID)
	if !ok {
		return nil, fmt.Errorf("values of unknown column %q", columnID)
	}
	steps, err := dbtype.ParsePath(path)
	if err != nil {
		return nil, err
	}
	if _, err := dbtype.Resolve(col.Type, steps); err != nil {
		return nil, err
	}
	rows, err := b.rowsQuery(st, st.Filter.Without(columnID), false)
	if err != nil {
		return nil, err
	}
	value := dbtype.PathExpr(clause.Col(rowsCTE, col.ID), steps)
	return &clause.Select{
		With:     []clause.CTE{{Name: baseCTE, Query: b.baseQuery(st)}, {Name: rowsCTE, Query: rows}},
		Distinct: true,
		Columns:  []clause.Projection{clause.As(value, "value")},
		From:     clause.Table{Name: rowsCTE},
		OrderBy:  []clause.OrderKey{clause.Asc(clause.Col("", "value"))},
		Limit:    clause.Int64(limit),
	}, nil
}

// ColorsQuery returns the distinct effective colors of a column under every
// filter except the column's own, capped at limit rows.
func (b *Builder) ColorsQuery(st State, columnID string, kind core.ColorKind, limit int64) (clause.Query, error) {
	col, _, ok := core.FindColumn(st.Columns, columnID)
	if !ok {
		return nil, fmt.Errorf("colors of unknown column %q", columnID)
	}
	if b.Meta == nil {
		return nil, fmt.Errorf("color values need a metadata store")
	}
	rows, err := b.rowsQuery(st, st.Filter.Without(columnID), false)
	if err != nil {
		return nil, err
	}
	alias := "__colors"
	color := filter.EffectiveColor(alias, kind, col.DefaultColor(kind))
	return &clause.Select{
		With:     []clause.CTE{{Name: baseCTE, Query: b.baseQuery(st)}, {Name: rowsCTE, Query: rows}},
		Distinct: true,
		Columns:  []clause.Projection{clause.As(color, "value")},
		From:     clause.Table{Name: rowsCTE},
		Joins:    b.Meta.ColorJoins("__cm", clause.Col(rowsCTE, RowIDColumn), []string{col.ID}, func(string) string { return alias }),
		OrderBy:  []clause.OrderKey{clause.Asc(clause.Col("", "value"))},
		Limit:    clause.Int64(limit),
	}, nil
}

// CountQuery counts the rows of the effective query.
func CountQuery(p *Plan) clause.Query {
	return &clause.Select{
		Columns: []clause.Projection{clause.As(clause.Func("count", clause.Star{}), "n")},
		From:    clause.Derived{Query: p.Query, Alias: "__q"},
	}
}

func aliased(ref clause.TableRef, alias string) clause.TableRef {
	switch r := ref.(type) {
	case clause.Table:
		r.Alias = alias
		return r
	case clause.RawQuery:
		r.Alias = alias
		return r
	case clause.Derived:
		r.Alias = alias
		return r
	}
	return ref
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
