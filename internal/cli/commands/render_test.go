package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsource/internal/cli/config"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/datasource"
)

func ptr[T any](v T) *T { return &v }

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"bytes", []byte("raw"), "raw"},
		{"date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{"datetime", time.Date(2024, 3, 1, 13, 5, 0, 0, time.UTC), "2024-03-01 13:05:00"},
		{"float", 2.5, "2.5"},
		{"whole float", 300.0, "300"},
		{"int", int64(7), "7"},
		{"string", "north", "north"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}

func TestEscapeCSV(t *testing.T) {
	assert.Equal(t, "plain", escapeCSV("plain"))
	assert.Equal(t, `"a,b"`, escapeCSV("a,b"))
	assert.Equal(t, `"say ""hi"""`, escapeCSV(`say "hi"`))
	assert.Equal(t, "\"two\nlines\"", escapeCSV("two\nlines"))
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, config.OutputMarkdown, resolveFormat(config.OutputAuto, &buf))
	assert.Equal(t, config.OutputMarkdown, resolveFormat("", &buf))
	assert.Equal(t, config.OutputCSV, resolveFormat(config.OutputCSV, &buf))
}

// groupedFrame is a frame of one group with a data row and a subtotal.
func groupedFrame() *datasource.DataFrame {
	return &datasource.DataFrame{
		Range: core.Range{Start: 0, End: 3},
		Columns: []core.Column{
			{ID: "region", Name: "region", Type: "VARCHAR"},
			{ID: "revenue", Name: "revenue", Type: "DOUBLE"},
		},
		RowCount: 4,
		Rows: []datasource.FrameRow{
			{Index: 0, Kind: core.RowGroup, Groups: map[string]any{"region": "a"}, Count: ptr(int64(2)), Summary: map[string]any{"revenue": 3.0}},
			{Index: 1, Kind: core.RowData, Level: 1, RowID: ptr(int64(1)), Cells: []datasource.FrameCell{
				{Value: "a"}, {Value: 1.0, Style: &core.Style{BackgroundColor: ptr("#ff0000")}},
			}},
			{Index: 2, Kind: core.RowSubtotal, Groups: map[string]any{"region": "a"}, Summary: map[string]any{"revenue": 3.0}},
			{Index: 3},
		},
	}
}

func TestFlattenFrame(t *testing.T) {
	ft := flattenFrame(groupedFrame(), &datasource.Summary{Count: 2, Values: map[string]any{"revenue": 3.0}})

	assert.Equal(t, []string{"#", "region", "revenue"}, ft.header)
	require.Len(t, ft.rows, 4)
	assert.Equal(t, []string{"group (2)", "a", "3"}, ft.rows[0])
	assert.Equal(t, []string{"  2", "a", "1"}, ft.rows[1])
	assert.Equal(t, []string{"subtotal", "a", "3"}, ft.rows[2])
	assert.Equal(t, []string{"…", "", ""}, ft.rows[3])
	assert.Equal(t, []string{"total", "", "3"}, ft.footer)

	ft = flattenFrame(groupedFrame(), nil)
	assert.Nil(t, ft.footer)
}

func TestRenderFrame(t *testing.T) {
	total := &datasource.Summary{Count: 2, Values: map[string]any{"revenue": 3.0}}

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderFrame(&buf, groupedFrame(), total, config.OutputCSV))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 5, "csv has no footer")
		assert.Equal(t, "#,region,revenue", lines[0])
		assert.Equal(t, "  2,a,1", lines[2])
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderFrame(&buf, groupedFrame(), total, config.OutputMarkdown))
		out := buf.String()
		assert.Contains(t, out, "| # | region | revenue |")
		assert.Contains(t, out, "| --- | --- | --- |")
		assert.Contains(t, out, "| total |  | 3 |")
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderFrame(&buf, groupedFrame(), total, config.OutputTable))
		out := buf.String()
		assert.Contains(t, out, "REGION")
		assert.Contains(t, out, "TOTAL")
		assert.Contains(t, out, "(4 of 4 rows)")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderFrame(&buf, groupedFrame(), total, config.OutputJSON))
		out := buf.String()
		assert.Contains(t, out, `"rowCount": 4`)
		assert.Contains(t, out, `"kind": "group"`)
		assert.Contains(t, out, `"styles"`)
	})

	t.Run("empty table", func(t *testing.T) {
		var buf bytes.Buffer
		empty := &datasource.DataFrame{RowCount: 9}
		require.NoError(t, renderFrame(&buf, empty, nil, config.OutputTable))
		assert.Equal(t, "(0 of 9 rows)\n", buf.String())
	})
}

func TestRenderMarkdown_EscapesPipes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderMarkdown(&buf, []string{"v"}, [][]string{{"a|b"}}, 1))
	assert.Contains(t, buf.String(), `| a\|b |`)
}

func TestRenderValues(t *testing.T) {
	v := &datasource.Values{Values: []any{"a", "b"}, Limited: true}

	var buf bytes.Buffer
	require.NoError(t, renderValues(&buf, "region", v, config.OutputCSV))
	assert.Equal(t, "region\na\nb\n", buf.String())

	buf.Reset()
	require.NoError(t, renderValues(&buf, "region", v, config.OutputMarkdown))
	assert.Contains(t, buf.String(), "| a |")
	assert.Contains(t, buf.String(), "list is limited")

	buf.Reset()
	require.NoError(t, renderValues(&buf, "region", v, config.OutputJSON))
	assert.Contains(t, buf.String(), `"limited": true`)
}

func TestRenderSummary(t *testing.T) {
	root := &datasource.SummaryNode{
		ColumnID: "revenue",
		Value:    6.0,
		Count:    3,
		Children: []*datasource.SummaryNode{
			{ColumnID: "revenue", Group: "a", Value: 1.0, Count: 1},
			{ColumnID: "revenue", Group: "b", Value: 5.0, Count: 2},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, root, core.AggSum, config.OutputTable))
	out := buf.String()
	assert.Contains(t, out, "total: sum=6 (3 rows)")
	assert.Contains(t, out, "a: sum=1 (1 rows)")
	assert.Contains(t, out, "b: sum=5 (2 rows)")

	assert.Equal(t, "total: 3", summaryLabel(root, ""))

	js := summaryJSON(root, core.AggSum)
	assert.Equal(t, "sum", js.Fn)
	require.Len(t, js.Children, 2)
	assert.Empty(t, js.Children[0].Fn)
}
