package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsource/internal/conn"
	"github.com/leapstack-labs/gridsource/internal/filter"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/internal/testutil"
	"github.com/leapstack-labs/gridsource/pkg/adapters/duckdb"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

// newSalesLoader loads ten rows over three regions: a has 4 rows, b and c
// have 3 each.
func newSalesLoader(t *testing.T) (*Loader, *conn.Manager) {
	t.Helper()
	ctx := context.Background()
	p := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = p.Close() })

	mgr := conn.NewManager(p, testutil.NewTestLogger(t))
	_, err := mgr.Exec(ctx, "", `CREATE TABLE sales (region VARCHAR, revenue DOUBLE)`)
	require.NoError(t, err)
	_, err = mgr.Exec(ctx, "", `INSERT INTO sales VALUES
		('a', 1), ('b', 10), ('a', 2), ('c', 100), ('a', 3),
		('b', 20), ('c', 200), ('a', 4), ('b', 30), ('c', 300)`)
	require.NoError(t, err)

	meta := metadata.New(mgr, "gs", "sales", testutil.NewTestLogger(t))
	require.NoError(t, meta.Init(ctx, []string{"region", "revenue"}))

	b := testBuilder()
	b.Meta = meta
	l := New(mgr, meta, b, Config{Schema: "gs", Prefix: "sales"}, testutil.NewTestLogger(t))
	return l, mgr
}

func TestLoader_Ungrouped(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	changed, err := l.Rebuild(ctx, State{Columns: salesColumns})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateIdle, l.Current())
	assert.Equal(t, int64(10), l.RowCount())
	assert.False(t, l.Materialized())
	assert.Equal(t, int64(10), l.Summary().Count)

	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 4}))
	rows := l.Rows(core.Range{Start: 0, End: 5})
	require.Len(t, rows, 6)
	for i, row := range rows[:5] {
		require.NotNil(t, row, "row %d", i)
		assert.Equal(t, int64(i), row.Index)
		assert.Equal(t, core.RowData, row.Kind)
		require.NotNil(t, row.RowID)
		assert.Equal(t, int64(i), *row.RowID)
	}
	assert.Nil(t, rows[5])
	assert.Equal(t, "a", rows[0].Data["region"])
	assert.Equal(t, 10.0, rows[1].Data["revenue"])
}

func TestLoader_SortedAndFiltered(t *testing.T) {
	ctx := context.Background()
	l, mgr := newSalesLoader(t)

	st := State{
		Columns:      salesColumns,
		Sorters:      []core.Sorter{{ColumnID: "revenue", Direction: core.Desc}},
		Aggregations: map[string]core.AggregationFn{"revenue": core.AggSum},
		Filter: filter.Target{Simple: map[string]*filter.ColumnRules{
			"region": {Conditions: []filter.Condition{{ColumnID: "region", Operator: filter.OpNeq, Value: "A"}}},
		}},
	}
	_, err := l.Rebuild(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, int64(6), l.RowCount())
	assert.True(t, l.Materialized())
	assert.Equal(t, 660.0, l.Summary().Values["revenue"])

	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 5}))
	var got []any
	for _, row := range l.Rows(core.Range{Start: 0, End: 5}) {
		require.NotNil(t, row)
		got = append(got, row.Data["revenue"])
	}
	assert.Equal(t, []any{300.0, 200.0, 100.0, 30.0, 20.0, 10.0}, got)

	view := l.ViewRef()
	res, err := mgr.QueryAll(ctx, "", "SELECT count(*) FROM "+clause.QualifiedName(view.Schema, view.Name), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Rows[0][0])
}

func TestLoader_RollupScenario(t *testing.T) {
	ctx := context.Background()
	l, mgr := newSalesLoader(t)

	st := State{
		Columns:      salesColumns,
		Groups:       []core.Group{{ColumnID: "region", Direction: core.Asc}},
		Aggregations: map[string]core.AggregationFn{"revenue": core.AggSum},
	}
	_, err := l.Rebuild(ctx, st)
	require.NoError(t, err)

	plan := l.Plan()
	res, err := mgr.QueryAll(ctx, "", clause.Render(plan.Rollup), 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 4)

	value := res.ColumnIndex("__g0_value")
	count := res.ColumnIndex(CountColumn)
	sum := res.ColumnIndex("__agg_revenue")
	level := res.ColumnIndex(LevelColumn)
	require.True(t, value >= 0 && count >= 0 && sum >= 0 && level >= 0)

	type summary struct {
		region any
		count  int64
		sum    any
		level  int64
	}
	var got []summary
	for _, row := range res.Rows {
		n, _ := toInt64(row[count])
		lvl, _ := toInt64(row[level])
		got = append(got, summary{row[value], n, row[sum], lvl})
	}
	assert.Equal(t, []summary{
		{"a", 4, 10.0, 0},
		{"b", 3, 60.0, 0},
		{"c", 3, 600.0, 0},
	}, got[:3], "group rows")
	// The grand total comes last.
	assert.Equal(t, int64(10), got[3].count)
	assert.Equal(t, 670.0, got[3].sum)
	assert.Equal(t, int64(-1), got[3].level)
}

func TestLoader_GroupedRows(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	st := State{
		Columns:      salesColumns,
		Groups:       []core.Group{{ColumnID: "region", Direction: core.Desc}},
		Aggregations: map[string]core.AggregationFn{"revenue": core.AggMax},
		Subtotals:    true,
	}
	_, err := l.Rebuild(ctx, st)
	require.NoError(t, err)
	// 3 headers, 10 rows and 3 subtotals.
	require.Equal(t, int64(16), l.RowCount())

	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 15}))
	rows := l.Rows(core.Range{Start: 0, End: 15})

	var kinds []core.RowKind
	for _, row := range rows {
		require.NotNil(t, row)
		kinds = append(kinds, row.Kind)
	}
	assert.Equal(t, []core.RowKind{
		core.RowGroup, core.RowData, core.RowData, core.RowData, core.RowSubtotal,
		core.RowGroup, core.RowData, core.RowData, core.RowData, core.RowSubtotal,
		core.RowGroup, core.RowData, core.RowData, core.RowData, core.RowData, core.RowSubtotal,
	}, kinds)

	head := rows[0]
	assert.Equal(t, 0, head.Level)
	assert.Equal(t, "c", head.Groups["region"])
	require.NotNil(t, head.Count)
	assert.Equal(t, int64(3), *head.Count)
	assert.Equal(t, 300.0, head.Summary["revenue"])
	assert.Nil(t, head.RowID)

	assert.Equal(t, 1, rows[1].Level)
	assert.Equal(t, "c", rows[1].Data["region"])
	assert.Equal(t, "a", rows[10].Groups["region"])
	assert.Equal(t, 4.0, rows[15].Summary["revenue"])
}

func TestLoader_GroupSummary(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	st := State{
		Columns:      salesColumns,
		Groups:       []core.Group{{ColumnID: "region", Direction: core.Asc}},
		Aggregations: map[string]core.AggregationFn{"revenue": core.AggSum},
	}
	_, err := l.Rebuild(ctx, st)
	require.NoError(t, err)

	root, fn, err := l.GroupSummary(ctx, "revenue")
	require.NoError(t, err)
	assert.Equal(t, core.AggSum, fn)
	assert.Equal(t, 670.0, root.Value)
	assert.Equal(t, int64(10), root.Count)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "a", root.Children[0].Group)
	assert.Equal(t, 10.0, root.Children[0].Value)
	assert.Equal(t, "c", root.Children[2].Group)
	assert.Equal(t, 600.0, root.Children[2].Value)

	root, fn, err = l.GroupSummary(ctx, "region")
	require.NoError(t, err)
	assert.Equal(t, core.AggCount, fn)
	assert.Equal(t, int64(10), root.Value)
}

func TestLoader_GroupSummaryUngrouped(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)
	_, err := l.Rebuild(ctx, State{Columns: salesColumns})
	require.NoError(t, err)

	_, _, err = l.GroupSummary(ctx, "revenue")
	require.Error(t, err)
}

func TestLoader_RebuildUnchangedKeepsCache(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	st := State{Columns: salesColumns, Sorters: []core.Sorter{{ColumnID: "revenue"}}}
	_, err := l.Rebuild(ctx, st)
	require.NoError(t, err)
	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 9}))
	require.Nil(t, l.OptimizeRange(core.Range{Start: 0, End: 9}))

	st.Aggregations = map[string]core.AggregationFn{"revenue": core.AggAvg}
	changed, err := l.Rebuild(ctx, st)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, l.OptimizeRange(core.Range{Start: 0, End: 9}), "cache kept")
	assert.Equal(t, 67.0, l.Summary().Values["revenue"], "summary refreshed")

	st.Sorters[0].Direction = core.Desc
	changed, err = l.Rebuild(ctx, st)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, &core.Range{Start: 0, End: 9}, l.OptimizeRange(core.Range{Start: 0, End: 9}), "cache cleared")
}

func TestLoader_RebuildFailureKeepsPlan(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	good := State{Columns: salesColumns}
	_, err := l.Rebuild(ctx, good)
	require.NoError(t, err)
	prev := l.Plan()

	tests := []struct {
		name string
		st   State
	}{
		{
			name: "unknown filter column",
			st: State{Columns: salesColumns, Filter: filter.Target{Simple: map[string]*filter.ColumnRules{
				"nope": {Conditions: []filter.Condition{{ColumnID: "nope", Operator: filter.OpEq, Value: 1}}},
			}}},
		},
		{
			name: "engine rejects virtual column",
			st: State{Columns: append(append([]core.Column{}, salesColumns...),
				core.Column{ID: "bad", Type: "DOUBLE", Virtual: true, Expr: "no_such_column + 1"})},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := l.Rebuild(ctx, tt.st)
			require.Error(t, err)
			assert.False(t, changed)

			var rerr *RebuildError
			assert.True(t, errors.As(err, &rerr))
			assert.Same(t, prev, l.Plan())
			assert.Equal(t, int64(10), l.RowCount())
			assert.Equal(t, StateIdle, l.Current())
		})
	}
}

func TestLoader_ColorSort(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	red := "#ff0000"
	require.NoError(t, l.meta.EditCellStyle(ctx, 9, "region", &core.Style{BackgroundColor: &red}))
	require.NoError(t, l.meta.EditCellStyle(ctx, 4, "region", &core.Style{BackgroundColor: &red}))

	st := State{
		Columns: salesColumns,
		Sorters: []core.Sorter{{ColumnID: "region", Kind: core.SortCellColor, Color: red, Direction: core.Asc}},
	}
	_, err := l.Rebuild(ctx, st)
	require.NoError(t, err)
	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 2}))

	rows := l.Rows(core.Range{Start: 0, End: 2})
	require.NotNil(t, rows[0].RowID)
	require.NotNil(t, rows[1].RowID)
	assert.Equal(t, int64(4), *rows[0].RowID)
	assert.Equal(t, int64(9), *rows[1].RowID)
	assert.Equal(t, int64(0), *rows[2].RowID)

	require.NotNil(t, rows[0].Meta["region"])
	assert.Equal(t, red, *rows[0].Meta["region"].Style.BackgroundColor)
	assert.Nil(t, rows[2].Meta["region"])
}

func TestLoader_EnqueueSkipsCached(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)
	_, err := l.Rebuild(ctx, State{Columns: salesColumns})
	require.NoError(t, err)

	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 4}))
	token, done := l.Enqueue(ctx, core.Range{Start: 0, End: 4})
	assert.Empty(t, token)
	assert.Nil(t, done)

	// Ranges past the end are clamped.
	require.NoError(t, l.Load(ctx, core.Range{Start: 5, End: 100}))
	assert.Nil(t, l.OptimizeRange(core.Range{Start: 0, End: 9}))
}

func TestLoader_Invalidate(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)
	_, err := l.Rebuild(ctx, State{Columns: salesColumns})
	require.NoError(t, err)
	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 9}))

	l.Invalidate()
	assert.NotNil(t, l.OptimizeRange(core.Range{Start: 0, End: 9}))
}

func TestLoader_UUIDColumn(t *testing.T) {
	ctx := context.Background()
	p := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = p.Close() })

	mgr := conn.NewManager(p, testutil.NewTestLogger(t))
	_, err := mgr.Exec(ctx, "", `CREATE TABLE ids AS SELECT * FROM (VALUES
		('00000000-0000-0000-0000-000000000001'::UUID, 1::BIGINT),
		('00000000-0000-0000-0000-000000000002'::UUID, 2::BIGINT),
		('00000000-0000-0000-0000-000000000001'::UUID, 4::BIGINT),
		('00000000-0000-0000-0000-000000000003'::UUID, 3::BIGINT)
	) v(u, n)`)
	require.NoError(t, err)

	cols := []core.Column{{ID: "u", Name: "u", Type: "UUID"}, {ID: "n", Name: "n", Type: "BIGINT"}}
	meta := metadata.New(mgr, "gs", "ids", testutil.NewTestLogger(t))
	require.NoError(t, meta.Init(ctx, []string{"u", "n"}))
	b := testBuilder()
	b.Base = clause.Table{Name: "ids"}
	b.Meta = meta
	l := New(mgr, meta, b, Config{Schema: "gs", Prefix: "ids"}, testutil.NewTestLogger(t))

	t.Run("sort", func(t *testing.T) {
		_, err := l.Rebuild(ctx, State{Columns: cols, Sorters: []core.Sorter{{ColumnID: "u", Direction: core.Desc}}})
		require.NoError(t, err)
		require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 3}))
		rows := l.Rows(core.Range{Start: 0, End: 3})
		assert.Equal(t, int64(3), rows[0].Data["n"])
		assert.Equal(t, int64(2), rows[1].Data["n"])
		assert.ElementsMatch(t, []any{int64(1), int64(4)}, []any{rows[2].Data["n"], rows[3].Data["n"]})
	})

	t.Run("group", func(t *testing.T) {
		_, err := l.Rebuild(ctx, State{Columns: cols, Groups: []core.Group{{ColumnID: "u", Direction: core.Asc}}})
		require.NoError(t, err)
		// 3 headers and 4 rows.
		require.Equal(t, int64(7), l.RowCount())
		require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 0}))
		head := l.Rows(core.Range{Start: 0, End: 0})[0]
		require.NotNil(t, head)
		assert.Equal(t, core.RowGroup, head.Kind)
		require.NotNil(t, head.Count)
		assert.Equal(t, int64(2), *head.Count)
	})

	t.Run("filter", func(t *testing.T) {
		_, err := l.Rebuild(ctx, State{Columns: cols, Filter: filter.Target{Simple: map[string]*filter.ColumnRules{
			"u": {Conditions: []filter.Condition{{ColumnID: "u", Operator: filter.OpEq, Value: "00000000-0000-0000-0000-000000000001"}}},
		}}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), l.RowCount())
	})
}

func TestLoader_WindowOfReplacedPlanIsDiscarded(t *testing.T) {
	ctx := context.Background()
	l, _ := newSalesLoader(t)

	_, err := l.Rebuild(ctx, State{Columns: salesColumns, Sorters: []core.Sorter{{ColumnID: "revenue"}}})
	require.NoError(t, err)
	plan, gen := l.window()

	changed, err := l.Rebuild(ctx, State{Columns: salesColumns, Sorters: []core.Sorter{{ColumnID: "revenue", Direction: core.Desc}}})
	require.NoError(t, err)
	require.True(t, changed)
	next, nextGen := l.window()
	assert.NotSame(t, plan, next)
	assert.NotEqual(t, gen, nextGen)

	// A window started against the old plan finishes after the rebuild.
	require.NoError(t, l.fetchWindow(ctx, plan, gen, core.Range{Start: 0, End: 4}))
	assert.Equal(t, &core.Range{Start: 0, End: 4}, l.OptimizeRange(core.Range{Start: 0, End: 4}))

	require.NoError(t, l.Load(ctx, core.Range{Start: 0, End: 0}))
	assert.Equal(t, 300.0, l.Rows(core.Range{Start: 0, End: 0})[0].Data["revenue"])
}

func TestLoader_RebuildFailureKeepsSummaryView(t *testing.T) {
	ctx := context.Background()
	l, mgr := newSalesLoader(t)

	_, err := l.Rebuild(ctx, State{Columns: salesColumns})
	require.NoError(t, err)

	// A table squatting on the view name makes materialization fail after
	// the count and summary succeeded.
	view := l.ViewRef()
	_, err = mgr.Exec(ctx, "", "CREATE TABLE "+clause.QualifiedName(view.Schema, view.Name)+" (x INTEGER)")
	require.NoError(t, err)

	_, err = l.Rebuild(ctx, State{
		Columns:      salesColumns,
		Sorters:      []core.Sorter{{ColumnID: "revenue"}},
		Aggregations: map[string]core.AggregationFn{"revenue": core.AggSum},
	})
	var rerr *RebuildError
	require.ErrorAs(t, err, &rerr)
	assert.Empty(t, l.Summary().Values)

	ref := l.summaryRef()
	res, err := mgr.QueryAll(ctx, "", clause.Render(clause.From(ref)), 1)
	require.NoError(t, err)
	assert.Equal(t, -1, res.ColumnIndex(SummaryFieldName("revenue")), "summary view still describes the previous plan")
	assert.Equal(t, int64(10), res.Rows[0][res.ColumnIndex(CountColumn)])
}
