package metadata

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsource/internal/conn"
	"github.com/leapstack-labs/gridsource/internal/testutil"
	"github.com/leapstack-labs/gridsource/pkg/adapters/duckdb"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

func newDuckDBStore(t *testing.T, columns ...string) *Store {
	t.Helper()
	ctx := context.Background()
	p := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = p.Close() })

	s := New(conn.NewManager(p, nil), "gs", "src", testutil.NewTestLogger(t))
	require.NoError(t, s.Init(ctx, columns))
	return s
}

func bold() *core.Style { return &core.Style{IsBold: core.Ptr(true)} }

func TestStore_EditScenario(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "price", "qty")

	require.NoError(t, s.EditCellStyle(ctx, 5, "price", bold()))
	require.NoError(t, s.EditCellStyle(ctx, 7, "qty", bold()))

	refs, err := s.ColumnRefs(ctx, "price")
	require.NoError(t, err)
	qtyRefs, err := s.ColumnRefs(ctx, "qty")
	require.NoError(t, err)
	require.Contains(t, refs, int64(5))
	require.Contains(t, qtyRefs, int64(7))
	assert.Equal(t, refs[5], qtyRefs[7])

	for _, cell := range []Cell{{5, "price"}, {7, "qty"}} {
		b, err := s.GetMetadata(ctx, cell.RowID, cell.ColumnID)
		require.NoError(t, err)
		require.NotNil(t, b)
		require.NotNil(t, b.Style)
		assert.Equal(t, &core.Style{IsBold: core.Ptr(true)}, b.Style)
		assert.Nil(t, b.Link)
	}

	missing, err := s.GetMetadata(ctx, 6, "price")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_DedupIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "a")

	blob := &core.Blob{Style: &core.Style{TextColor: core.Ptr("#ff0000")}}
	first, err := s.RefFor(ctx, blob)
	require.NoError(t, err)
	second, err := s.RefFor(ctx, blob.Clone())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, *first, *second)

	empty, err := s.RefFor(ctx, &core.Blob{Style: &core.Style{}})
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestStore_RefCounterRecovered(t *testing.T) {
	ctx := context.Background()
	p := duckdb.New(nil)
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	defer func() { _ = p.Close() }()
	m := conn.NewManager(p, nil)

	s1 := New(m, "gs", "src", nil)
	require.NoError(t, s1.Init(ctx, []string{"a"}))
	r1, err := s1.RefFor(ctx, &core.Blob{Style: bold()})
	require.NoError(t, err)
	r2, err := s1.RefFor(ctx, &core.Blob{Link: &core.Link{URL: "https://example.com"}})
	require.NoError(t, err)

	s2 := New(m, "gs", "src", nil)
	require.NoError(t, s2.Init(ctx, []string{"a"}))
	r3, err := s2.RefFor(ctx, &core.Blob{Style: &core.Style{IsItalic: core.Ptr(true)}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *r1)
	assert.Equal(t, int64(2), *r2)
	assert.Equal(t, int64(3), *r3)

	again, err := s2.RefFor(ctx, &core.Blob{Style: bold()})
	require.NoError(t, err)
	assert.Equal(t, *r1, *again)
}

func TestStore_EditMergesStyle(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "a")

	require.NoError(t, s.EditCellStyle(ctx, 1, "a", bold()))
	require.NoError(t, s.EditCellStyle(ctx, 1, "a", &core.Style{BackgroundColor: core.Ptr("#00ff00")}))
	require.NoError(t, s.EditCellLink(ctx, 1, "a", &core.Link{URL: "https://example.com", Text: "ex"}))

	b, err := s.GetMetadata(ctx, 1, "a")
	require.NoError(t, err)
	assert.Equal(t, true, *b.Style.IsBold)
	assert.Equal(t, "#00ff00", *b.Style.BackgroundColor)
	assert.Equal(t, "https://example.com", b.Link.URL)

	require.NoError(t, s.EditCellLink(ctx, 1, "a", nil))
	b, err = s.GetMetadata(ctx, 1, "a")
	require.NoError(t, err)
	assert.Nil(t, b.Link)

	_, err = s.GetMetadata(ctx, 1, "nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestStore_LoadRows(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "a", "b")

	require.NoError(t, s.EditCellStyle(ctx, 1, "a", bold()))
	require.NoError(t, s.EditCellStyle(ctx, 2, "b", &core.Style{Format: core.Ptr("0.00")}))
	require.NoError(t, s.EditCellStyle(ctx, 2, RowKey, &core.Style{IsItalic: core.Ptr(true)}))
	require.NoError(t, s.EditCellStyle(ctx, 9, "a", bold()))

	rows, err := s.LoadRows(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, *rows[1]["a"].Style.IsBold)
	assert.Nil(t, rows[1]["b"])
	assert.Equal(t, "0.00", *rows[2]["b"].Style.Format)
	assert.True(t, *rows[2][RowKey].Style.IsItalic)
}

func TestStore_ClearColumnStyleAndRestore(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "a")

	full := &core.Style{IsBold: core.Ptr(true), TextColor: core.Ptr("#111111")}
	require.NoError(t, s.EditCellStyle(ctx, 1, "a", full))
	require.NoError(t, s.EditCellStyle(ctx, 2, "a", full))
	require.NoError(t, s.EditCellStyle(ctx, 3, "a", &core.Style{TextColor: core.Ptr("#111111")}))
	before, err := s.ColumnRefs(ctx, "a")
	require.NoError(t, err)

	old, err := s.ClearColumnStyle(ctx, "a", []core.StyleKey{core.KeyTextColor}, false)
	require.NoError(t, err)
	require.Len(t, old, 3)
	assert.Equal(t, before[1], *old[1])

	after, err := s.ColumnRefs(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, after, 2, "row 3 lost its only key")
	assert.Equal(t, after[1], after[2])

	b, err := s.GetMetadata(ctx, 1, "a")
	require.NoError(t, err)
	assert.Nil(t, b.Style.TextColor)
	assert.True(t, *b.Style.IsBold)

	require.NoError(t, s.RestoreRefs(ctx, "a", old))
	restored, err := s.ColumnRefs(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, before, restored)
}

func TestStore_ClearColumnBorders(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "a")

	thin := &core.Border{Style: "thin", Color: "#000000"}
	rows := []int64{10, 11, 12}
	require.NoError(t, s.EditBorders(ctx, rows, []string{"a"},
		[]core.BorderPosition{core.BorderTop, core.BorderBottom, core.BorderLeft, core.BorderRight, core.BorderHorizontal}, thin))

	b, err := s.GetMetadata(ctx, 11, "a")
	require.NoError(t, err)
	require.NotNil(t, b.Style.Borders)
	assert.Equal(t, thin, b.Style.Borders.Top)
	assert.Equal(t, thin, b.Style.Borders.Bottom)

	_, err = s.ClearColumnBorders(ctx, "a", []core.BorderPosition{core.BorderHorizontal, core.BorderLeft}, 10, 12)
	require.NoError(t, err)

	top, err := s.GetMetadata(ctx, 10, "a")
	require.NoError(t, err)
	assert.Equal(t, thin, top.Style.Borders.Top, "outer top edge kept")
	assert.Nil(t, top.Style.Borders.Bottom)
	assert.Nil(t, top.Style.Borders.Left)
	assert.Equal(t, thin, top.Style.Borders.Right)

	middle, err := s.GetMetadata(ctx, 11, "a")
	require.NoError(t, err)
	assert.Nil(t, middle.Style.Borders.Top)
	assert.Nil(t, middle.Style.Borders.Bottom)

	bottom, err := s.GetMetadata(ctx, 12, "a")
	require.NoError(t, err)
	assert.Equal(t, thin, bottom.Style.Borders.Bottom, "outer bottom edge kept")

	_, err = s.ClearColumnBorders(ctx, "a", []core.BorderPosition{core.BorderTop, core.BorderBottom, core.BorderRight}, 10, 12)
	require.NoError(t, err)
	refs, err := s.ColumnRefs(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestStore_AddColumns(t *testing.T) {
	ctx := context.Background()
	s := newDuckDBStore(t, "a")

	assert.False(t, s.HasColumn("v"))
	require.NoError(t, s.AddColumns(ctx, []string{"v"}))
	assert.True(t, s.HasColumn("v"))
	require.NoError(t, s.EditCellStyle(ctx, 1, "v", bold()))

	assert.Error(t, s.AddColumns(ctx, []string{RowIDColumn}))
}

func TestStore_ColorJoins(t *testing.T) {
	s := New(nil, "gs", "src", nil)
	joins := s.ColorJoins("__m", clause.Col("b", "__rowid"), []string{"a"}, func(id string) string { return "__c_" + id })
	require.Len(t, joins, 2)

	q := &clause.Select{
		Columns: []clause.Projection{{Expr: clause.Star{}}},
		From:    clause.Table{Name: "base", Alias: "b"},
		Joins:   joins,
	}
	assert.Equal(t,
		`SELECT * FROM "base" AS "b" LEFT JOIN "gs"."src_meta" AS "__m" ON ("__m"."__row_id" = "b"."__rowid") LEFT JOIN "gs"."src_ref" AS "__c_a" ON ("__c_a"."ref_id" = "__m"."a")`,
		clause.Render(q))

	assert.Nil(t, s.ColorJoins("__m", clause.Col("b", "__rowid"), nil, nil))
}

type mockProvider struct {
	provider.BaseSQLProvider
}

func (m *mockProvider) Connect(context.Context, provider.Config) error { return nil }

func TestStore_InitStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	p := &mockProvider{}
	p.DB = db

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "gs"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "gs"\."src_meta" \("__row_id" BIGINT PRIMARY KEY, "__row" INTEGER\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "gs"\."src_ref" \("ref_id" INTEGER PRIMARY KEY, "meta" VARCHAR NOT NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "gs"\."src_meta" ADD COLUMN IF NOT EXISTS "price" INTEGER`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT coalesce\(max\("ref_id"\), 0\) \+ 1 FROM "gs"\."src_ref"`).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(42)))
	mock.ExpectQuery(`SELECT "ref_id" FROM "gs"\."src_ref" WHERE "meta" = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"ref_id"}))
	mock.ExpectExec(`INSERT INTO "gs"\."src_ref" \("ref_id","meta"\) VALUES \(\?,\?\)`).
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(conn.NewManager(p, nil), "gs", "src", nil)
	require.NoError(t, s.Init(context.Background(), []string{"price"}))

	ref, err := s.RefFor(context.Background(), &core.Blob{Style: bold()})
	require.NoError(t, err)
	assert.Equal(t, int64(42), *ref)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEncode_Canonical(t *testing.T) {
	a, err := Encode(&core.Blob{Style: &core.Style{IsBold: core.Ptr(true), Borders: &core.Borders{}}})
	require.NoError(t, err)
	b, err := Encode(&core.Blob{Style: &core.Style{IsBold: core.Ptr(true)}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, `"isBold":true`)
	assert.Contains(t, a, `"isItalic":null`)

	decoded, err := Decode(a)
	require.NoError(t, err)
	assert.Equal(t, &core.Blob{Style: &core.Style{IsBold: core.Ptr(true)}}, decoded)
}
