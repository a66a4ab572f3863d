package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptor(t *testing.T) {
	tests := []struct {
		name         string
		sql          string
		kind         OptimizationKind
		wantReadOnly bool
		wantKind     OptimizationKind
		wantEditable bool
	}{
		{name: "select", sql: "SELECT 1", kind: None, wantReadOnly: true, wantKind: None},
		{name: "with", sql: "with t as (select 1) select * from t", kind: CreateView, wantReadOnly: true, wantKind: CreateView},
		{name: "from first", sql: "FROM tbl", kind: CreateTable, wantReadOnly: true, wantKind: CreateTable, wantEditable: true},
		{name: "parenthesized", sql: "(SELECT 1) UNION ALL (SELECT 2)", kind: None, wantReadOnly: true, wantKind: None},
		{name: "trailing terminator and comment", sql: "SELECT 1; -- done", kind: None, wantReadOnly: true, wantKind: None},
		{name: "leading comment", sql: "/* hi */ SELECT 1", kind: None, wantReadOnly: true, wantKind: None},
		{name: "show is copied", sql: "SHOW TABLES", kind: None, wantKind: CreateTable, wantEditable: true},
		{name: "view request coerced", sql: "PRAGMA version", kind: CreateView, wantKind: CreateTable, wantEditable: true},
		{name: "multiple statements", sql: "CREATE TEMP TABLE x AS SELECT 1; SELECT * FROM x", kind: CreateView, wantKind: CreateTable, wantEditable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDescriptor(tt.sql, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReadOnly, d.IsReadOnly())
			assert.Equal(t, tt.wantKind, d.Kind())
			assert.Equal(t, tt.wantEditable, d.Editable())
			assert.Equal(t, !tt.wantReadOnly, d.CopyMode())
			assert.Equal(t, tt.sql, d.SQL())
		})
	}
}

func TestNewDescriptor_Empty(t *testing.T) {
	for _, sql := range []string{"", "   ", "-- only a comment", ";;", "/* x */ ;"} {
		_, err := NewDescriptor(sql, None)
		assert.ErrorIs(t, err, ErrEmptyQuery, "sql %q", sql)
	}
}

func TestParseOptimizationKind(t *testing.T) {
	for in, want := range map[string]OptimizationKind{"": None, "none": None, "VIEW": CreateView, "table": CreateTable} {
		got, err := ParseOptimizationKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, want.String(), got.String())
		}
	}
	_, err := ParseOptimizationKind("materialized")
	assert.Error(t, err)
}

func TestFingerprint_Stability(t *testing.T) {
	equal := [][2]string{
		{"SELECT a FROM t", "select   a\n from T"},
		{"SELECT a AS b FROM t", "SELECT a b FROM t"},
		{"SELECT 1 -- first", "SELECT 1 /* second */"},
		{"SELECT 1;", "SELECT 1"},
		{"", "-- comment"},
		{"", "   \n\t"},
	}
	for _, pair := range equal {
		assert.Equal(t, Fingerprint(pair[0], ""), Fingerprint(pair[1], ""), "%q vs %q", pair[0], pair[1])
	}

	different := [][2]string{
		{"SELECT 'Abc'", "SELECT 'abc'"},
		{"SELECT a FROM t", "SELECT b FROM t"},
		{"SELECT '--x'", "SELECT ''"},
	}
	for _, pair := range different {
		assert.NotEqual(t, Fingerprint(pair[0], ""), Fingerprint(pair[1], ""), "%q vs %q", pair[0], pair[1])
	}
}

func TestFingerprint_Salt(t *testing.T) {
	assert.NotEqual(t, Fingerprint("SELECT 1", "a"), Fingerprint("SELECT 1", "b"))
	id := Fingerprint("SELECT 1", "")
	assert.Len(t, string(id), 64)
	assert.Len(t, id.Short(), 16)
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "select x x from t where y = 'Keep Case'",
		Canonical("SELECT X AS x\nFROM T -- note\nWHERE Y = 'Keep Case';"))
	assert.Equal(t, "", Canonical("-- nothing"))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "SELECT 1", want: "SELECT 1"},
		{in: "SELECT 1;", want: "SELECT 1"},
		{in: "SELECT 1 ; ; -- trailing\n", want: "SELECT 1"},
		{in: "SELECT 1 /* c */", want: "SELECT 1"},
		{in: "SELECT ';' -- x", want: "SELECT ';'"},
		{in: "-- only", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "input %q", tt.in)
	}
}

func TestWrapStatement(t *testing.T) {
	assert.Equal(t, "CREATE OR REPLACE VIEW \"s\".\"v\" AS (\nSELECT 1\n)",
		WrapStatement(CreateView, `"s"."v"`, "SELECT 1; -- x"))
	assert.Equal(t, "CREATE OR REPLACE TABLE t AS (\nSELECT 1\n)",
		WrapStatement(CreateTable, "t", "SELECT 1"))
}
