package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/leapstack-labs/gridsource/internal/cli/config"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/datasource"
)

// resolveFormat turns "auto" into table on a terminal and markdown
// otherwise.
func resolveFormat(format string, w io.Writer) string {
	if format != "" && format != config.OutputAuto {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return config.OutputTable
	}
	return config.OutputMarkdown
}

// frameTable is a data frame flattened to display strings.
type frameTable struct {
	header []string
	rows   [][]string
	footer []string
}

// flattenFrame lays out a frame with a leading marker column: the row
// number for data rows, the kind and count for group and subtotal rows.
func flattenFrame(f *datasource.DataFrame, total *datasource.Summary) frameTable {
	ft := frameTable{header: []string{"#"}}
	for _, c := range f.Columns {
		ft.header = append(ft.header, c.Name)
	}
	for _, r := range f.Rows {
		row := make([]string, 0, len(f.Columns)+1)
		row = append(row, rowMarker(r))
		for j, c := range f.Columns {
			switch {
			case r.Kind == core.RowData && j < len(r.Cells):
				row = append(row, formatValue(r.Cells[j].Value))
			case r.Groups != nil && hasKey(r.Groups, c.ID):
				row = append(row, formatValue(r.Groups[c.ID]))
			case r.Summary != nil && hasKey(r.Summary, c.ID):
				row = append(row, formatValue(r.Summary[c.ID]))
			default:
				row = append(row, "")
			}
		}
		ft.rows = append(ft.rows, row)
	}
	if total != nil && len(total.Values) > 0 {
		ft.footer = []string{"total"}
		for _, c := range f.Columns {
			if v, ok := total.Values[c.ID]; ok {
				ft.footer = append(ft.footer, formatValue(v))
			} else {
				ft.footer = append(ft.footer, "")
			}
		}
	}
	return ft
}

func rowMarker(r datasource.FrameRow) string {
	indent := strings.Repeat("  ", r.Level)
	switch r.Kind {
	case core.RowData:
		return fmt.Sprintf("%s%d", indent, r.Index+1)
	case "":
		return "…"
	}
	if r.Count != nil {
		return fmt.Sprintf("%s%s (%d)", indent, r.Kind, *r.Count)
	}
	return indent + string(r.Kind)
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

func renderFrame(w io.Writer, f *datasource.DataFrame, total *datasource.Summary, format string) error {
	switch resolveFormat(format, w) {
	case config.OutputJSON:
		return renderJSON(w, frameJSON(f, total))
	case config.OutputCSV:
		ft := flattenFrame(f, nil)
		return renderCSV(w, ft.header, ft.rows)
	case config.OutputMarkdown:
		ft := flattenFrame(f, total)
		return renderMarkdown(w, ft.header, append(ft.rows, nonEmpty(ft.footer)...), f.RowCount)
	default:
		return renderTable(w, flattenFrame(f, total), f.RowCount)
	}
}

func nonEmpty(row []string) [][]string {
	if row == nil {
		return nil
	}
	return [][]string{row}
}

func renderTable(w io.Writer, ft frameTable, total int64) error {
	if len(ft.rows) == 0 {
		_, _ = fmt.Fprintf(w, "(0 of %d rows)\n", total)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(toRow(ft.header))
	for _, r := range ft.rows {
		t.AppendRow(toRow(r))
	}
	if ft.footer != nil {
		t.AppendFooter(toRow(ft.footer))
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d of %d rows)\n", len(ft.rows), total)
	return nil
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderCSV(w io.Writer, header []string, rows [][]string) error {
	line := make([]string, len(header))
	for i, h := range header {
		line[i] = escapeCSV(h)
	}
	_, _ = fmt.Fprintln(w, strings.Join(line, ","))

	for _, r := range rows {
		line = line[:0]
		for _, v := range r {
			line = append(line, escapeCSV(v))
		}
		_, _ = fmt.Fprintln(w, strings.Join(line, ","))
	}
	return nil
}

func renderMarkdown(w io.Writer, header []string, rows [][]string, total int64) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintf(w, "(0 of %d rows)\n", total)
		return nil
	}

	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(header, " | "))
	seps := make([]string, len(header))
	for i := range seps {
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, r := range rows {
		cells := make([]string, len(r))
		for i, v := range r {
			cells[i] = strings.ReplaceAll(v, "|", `\|`)
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case float64:
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v", v)
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

type jsonFrame struct {
	Start    int64          `json:"start"`
	End      int64          `json:"end"`
	RowCount int64          `json:"rowCount"`
	Columns  []jsonColumn   `json:"columns"`
	Rows     []jsonRow      `json:"rows"`
	Total    map[string]any `json:"total,omitempty"`
}

type jsonColumn struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Virtual bool   `json:"virtual,omitempty"`
}

type jsonRow struct {
	Index   int64                  `json:"index"`
	Kind    core.RowKind           `json:"kind"`
	Level   int                    `json:"level,omitempty"`
	RowID   *int64                 `json:"rowId,omitempty"`
	Values  map[string]any         `json:"values,omitempty"`
	Styles  map[string]*core.Style `json:"styles,omitempty"`
	Links   map[string]*core.Link  `json:"links,omitempty"`
	Groups  map[string]any         `json:"groups,omitempty"`
	Count   *int64                 `json:"count,omitempty"`
	Summary map[string]any         `json:"summary,omitempty"`
}

func frameJSON(f *datasource.DataFrame, total *datasource.Summary) jsonFrame {
	out := jsonFrame{Start: f.Range.Start, End: f.Range.End, RowCount: f.RowCount, Rows: []jsonRow{}}
	for _, c := range f.Columns {
		out.Columns = append(out.Columns, jsonColumn{ID: c.ID, Type: c.Type, Virtual: c.Virtual})
	}
	for _, r := range f.Rows {
		jr := jsonRow{Index: r.Index, Kind: r.Kind, Level: r.Level, RowID: r.RowID,
			Groups: r.Groups, Count: r.Count, Summary: r.Summary}
		if r.Kind == core.RowData {
			jr.Values = make(map[string]any, len(r.Cells))
			for j, cell := range r.Cells {
				id := f.Columns[j].ID
				jr.Values[id] = cell.Value
				if cell.Style != nil {
					if jr.Styles == nil {
						jr.Styles = map[string]*core.Style{}
					}
					jr.Styles[id] = cell.Style
				}
				if cell.Link != nil {
					if jr.Links == nil {
						jr.Links = map[string]*core.Link{}
					}
					jr.Links[id] = cell.Link
				}
			}
		}
		out.Rows = append(out.Rows, jr)
	}
	if total != nil {
		out.Total = total.Values
	}
	return out
}

func renderValues(w io.Writer, columnID string, v *datasource.Values, format string) error {
	rows := make([][]string, len(v.Values))
	for i, x := range v.Values {
		rows[i] = []string{formatValue(x)}
	}

	switch resolveFormat(format, w) {
	case config.OutputJSON:
		return renderJSON(w, struct {
			Column  string `json:"column"`
			Values  []any  `json:"values"`
			Limited bool   `json:"limited,omitempty"`
		}{columnID, v.Values, v.Limited})
	case config.OutputCSV:
		return renderCSV(w, []string{columnID}, rows)
	case config.OutputMarkdown:
		if err := renderMarkdown(w, []string{columnID}, rows, int64(len(rows))); err != nil {
			return err
		}
	default:
		if err := renderTable(w, frameTable{header: []string{columnID}, rows: rows}, int64(len(rows))); err != nil {
			return err
		}
	}
	// Only table and markdown output get the note.
	if v.Limited {
		_, _ = fmt.Fprintln(w, "(more values exist; list is limited)")
	}
	return nil
}

// summaryLabel describes one node of a summary tree.
func summaryLabel(n *datasource.SummaryNode, fn core.AggregationFn) string {
	name := "total"
	if n.Group != nil {
		name = formatValue(n.Group)
	}
	if fn == "" {
		return fmt.Sprintf("%s: %d", name, n.Count)
	}
	return fmt.Sprintf("%s: %s=%s (%d rows)", name, fn, formatValue(n.Value), n.Count)
}

func renderSummary(w io.Writer, root *datasource.SummaryNode, fn core.AggregationFn, format string) error {
	if resolveFormat(format, w) == config.OutputJSON {
		return renderJSON(w, summaryJSON(root, fn))
	}

	l := list.NewWriter()
	l.SetOutputMirror(w)
	l.SetStyle(list.StyleConnectedLight)
	var walk func(n *datasource.SummaryNode)
	walk = func(n *datasource.SummaryNode) {
		l.AppendItem(summaryLabel(n, fn))
		if len(n.Children) == 0 {
			return
		}
		l.Indent()
		for _, c := range n.Children {
			walk(c)
		}
		l.UnIndent()
	}
	walk(root)
	l.Render()
	return nil
}

type jsonSummary struct {
	Group    any           `json:"group,omitempty"`
	Fn       string        `json:"fn,omitempty"`
	Value    any           `json:"value,omitempty"`
	Count    int64         `json:"count"`
	Children []jsonSummary `json:"children,omitempty"`
}

func summaryJSON(n *datasource.SummaryNode, fn core.AggregationFn) jsonSummary {
	out := jsonSummary{Group: n.Group, Fn: string(fn), Value: n.Value, Count: n.Count}
	for _, c := range n.Children {
		child := summaryJSON(c, fn)
		child.Fn = ""
		out.Children = append(out.Children, child)
	}
	return out
}
