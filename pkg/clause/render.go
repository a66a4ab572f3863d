package clause

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// writer accumulates rendered SQL.
type writer struct {
	sb strings.Builder
}

func (w *writer) write(s string) { w.sb.WriteString(s) }

// Render renders a query to SQL text.
func Render(q Query) string {
	w := &writer{}
	q.writeQuery(w)
	return w.sb.String()
}

// RenderExpr renders an expression to SQL text.
func RenderExpr(e Expr) string {
	w := &writer{}
	e.writeExpr(w)
	return w.sb.String()
}

// QuoteIdent quotes an identifier, doubling embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString quotes a string literal, doubling embedded single quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QualifiedName renders schema.name with both parts quoted; an empty schema
// renders the bare quoted name.
func QualifiedName(schema, name string) string {
	if schema == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// ---------- Expressions ----------

func (c Column) writeExpr(w *writer) {
	if c.Table != "" {
		w.write(QuoteIdent(c.Table))
		w.write(".")
	}
	w.write(QuoteIdent(c.Name))
}

func (l Literal) writeExpr(w *writer) {
	w.write(FormatLiteral(l.Value))
}

func (r Raw) writeExpr(w *writer) {
	w.write(string(r))
}

func (s Star) writeExpr(w *writer) {
	if s.Table != "" {
		w.write(QuoteIdent(s.Table))
		w.write(".")
	}
	w.write("*")
}

func (f FuncCall) writeExpr(w *writer) {
	w.write(f.Name)
	w.write("(")
	if f.Distinct {
		w.write("DISTINCT ")
	}
	writeExprList(w, f.Args)
	w.write(")")
	if f.Over != nil {
		w.write(" OVER (")
		sep := ""
		if len(f.Over.PartitionBy) > 0 {
			w.write("PARTITION BY ")
			writeExprList(w, f.Over.PartitionBy)
			sep = " "
		}
		if len(f.Over.OrderBy) > 0 {
			w.write(sep)
			w.write("ORDER BY ")
			writeOrderKeys(w, f.Over.OrderBy)
		}
		w.write(")")
	}
}

func (b Binary) writeExpr(w *writer) {
	w.write("(")
	b.Left.writeExpr(w)
	w.write(" ")
	w.write(b.Op)
	w.write(" ")
	b.Right.writeExpr(w)
	w.write(")")
}

func (l Logical) writeExpr(w *writer) {
	terms := l.nonNil()
	switch len(terms) {
	case 0:
		w.write("TRUE")
		return
	case 1:
		terms[0].writeExpr(w)
		return
	}
	w.write("(")
	for i, t := range terms {
		if i > 0 {
			w.write(" ")
			w.write(l.Op)
			w.write(" ")
		}
		t.writeExpr(w)
	}
	w.write(")")
}

func (n NotExpr) writeExpr(w *writer) {
	w.write("(NOT ")
	n.X.writeExpr(w)
	w.write(")")
}

func (n IsNullExpr) writeExpr(w *writer) {
	w.write("(")
	n.X.writeExpr(w)
	if n.Not {
		w.write(" IS NOT NULL)")
	} else {
		w.write(" IS NULL)")
	}
}

func (in InExpr) writeExpr(w *writer) {
	if len(in.List) == 0 {
		// x IN () is not valid SQL; an empty set matches nothing.
		if in.Not {
			w.write("TRUE")
		} else {
			w.write("FALSE")
		}
		return
	}
	w.write("(")
	in.X.writeExpr(w)
	if in.Not {
		w.write(" NOT IN (")
	} else {
		w.write(" IN (")
	}
	writeExprList(w, in.List)
	w.write("))")
}

func (b BetweenExpr) writeExpr(w *writer) {
	w.write("(")
	b.X.writeExpr(w)
	if b.Not {
		w.write(" NOT")
	}
	w.write(" BETWEEN ")
	b.Lo.writeExpr(w)
	w.write(" AND ")
	b.Hi.writeExpr(w)
	w.write(")")
}

func (c CastExpr) writeExpr(w *writer) {
	w.write("CAST(")
	c.X.writeExpr(w)
	w.write(" AS ")
	w.write(c.Type)
	w.write(")")
}

func (c CaseExpr) writeExpr(w *writer) {
	w.write("CASE")
	for _, when := range c.Whens {
		w.write(" WHEN ")
		when.Cond.writeExpr(w)
		w.write(" THEN ")
		when.Then.writeExpr(w)
	}
	if c.Else != nil {
		w.write(" ELSE ")
		c.Else.writeExpr(w)
	}
	w.write(" END")
}

func (f FieldExpr) writeExpr(w *writer) {
	w.write("struct_extract(")
	f.X.writeExpr(w)
	w.write(", ")
	w.write(QuoteString(f.Field))
	w.write(")")
}

func (ix IndexExpr) writeExpr(w *writer) {
	// list_extract is 1-based.
	w.write("list_extract(")
	ix.X.writeExpr(w)
	w.write(", ")
	w.write(strconv.Itoa(ix.Index + 1))
	w.write(")")
}

func (s SubqueryExpr) writeExpr(w *writer) {
	w.write("(")
	s.Query.writeQuery(w)
	w.write(")")
}

func writeExprList(w *writer, exprs []Expr) {
	for i, e := range exprs {
		if i > 0 {
			w.write(", ")
		}
		e.writeExpr(w)
	}
}

func writeOrderKeys(w *writer, keys []OrderKey) {
	for i, k := range keys {
		if i > 0 {
			w.write(", ")
		}
		k.Expr.writeExpr(w)
		if k.Desc {
			w.write(" DESC")
		} else {
			w.write(" ASC")
		}
		if k.NullsFirst {
			w.write(" NULLS FIRST")
		} else {
			w.write(" NULLS LAST")
		}
	}
}

// FormatLiteral renders a Go value as a DuckDB literal.
func FormatLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(x)
	case []byte:
		return QuoteString(string(x))
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case time.Time:
		return "TIMESTAMP " + QuoteString(x.Format("2006-01-02 15:04:05.999999"))
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = QuoteString(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return QuoteString(x.String())
	default:
		return QuoteString(fmt.Sprint(x))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "CAST('NaN' AS DOUBLE)"
	case math.IsInf(f, 1):
		return "CAST('Infinity' AS DOUBLE)"
	case math.IsInf(f, -1):
		return "CAST('-Infinity' AS DOUBLE)"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		// keep DOUBLE semantics for integral values
		s += ".0"
	}
	return s
}

// ---------- Tables ----------

func (t Table) writeTable(w *writer) {
	w.write(QualifiedName(t.Schema, t.Name))
	writeAlias(w, t.Alias)
}

func (d Derived) writeTable(w *writer) {
	w.write("(")
	d.Query.writeQuery(w)
	w.write(")")
	writeAlias(w, d.Alias)
}

func (r RawQuery) writeTable(w *writer) {
	w.write("(")
	w.write(r.SQL)
	w.write(")")
	writeAlias(w, r.Alias)
}

func (r RawQuery) writeQuery(w *writer) {
	w.write(r.SQL)
}

func writeAlias(w *writer, alias string) {
	if alias != "" {
		w.write(" AS ")
		w.write(QuoteIdent(alias))
	}
}

// ---------- Statements ----------

func writeWith(w *writer, ctes []CTE) {
	if len(ctes) == 0 {
		return
	}
	w.write("WITH ")
	for i, cte := range ctes {
		if i > 0 {
			w.write(", ")
		}
		w.write(QuoteIdent(cte.Name))
		w.write(" AS (")
		cte.Query.writeQuery(w)
		w.write(")")
	}
	w.write(" ")
}

func (s *Select) writeQuery(w *writer) {
	writeWith(w, s.With)
	w.write("SELECT ")
	if s.Distinct {
		w.write("DISTINCT ")
	}
	if len(s.Columns) == 0 {
		w.write("*")
	}
	for i, p := range s.Columns {
		if i > 0 {
			w.write(", ")
		}
		p.Expr.writeExpr(w)
		writeAlias(w, p.Alias)
	}
	if s.From != nil {
		w.write(" FROM ")
		s.From.writeTable(w)
	}
	for _, j := range s.Joins {
		w.write(" ")
		w.write(string(j.Kind))
		w.write(" ")
		j.Table.writeTable(w)
		if j.On != nil {
			w.write(" ON ")
			j.On.writeExpr(w)
		}
	}
	if s.Where != nil {
		if l, ok := s.Where.(Logical); !ok || !l.IsEmpty() {
			w.write(" WHERE ")
			s.Where.writeExpr(w)
		}
	}
	if s.GroupBy != nil && len(s.GroupBy.Exprs) > 0 {
		w.write(" GROUP BY ")
		if s.GroupBy.Rollup {
			w.write("ROLLUP (")
			writeExprList(w, s.GroupBy.Exprs)
			w.write(")")
		} else {
			writeExprList(w, s.GroupBy.Exprs)
		}
	}
	if s.Having != nil {
		w.write(" HAVING ")
		s.Having.writeExpr(w)
	}
	if len(s.OrderBy) > 0 {
		w.write(" ORDER BY ")
		writeOrderKeys(w, s.OrderBy)
	}
	writeLimitOffset(w, s.Limit, s.Offset)
}

func (u *Union) writeQuery(w *writer) {
	writeWith(w, u.With)
	op := " UNION ALL "
	if u.ByName {
		op = " UNION ALL BY NAME "
	}
	for i, part := range u.Parts {
		if i > 0 {
			w.write(op)
		}
		w.write("(")
		part.writeQuery(w)
		w.write(")")
	}
	if len(u.OrderBy) > 0 {
		w.write(" ORDER BY ")
		writeOrderKeys(w, u.OrderBy)
	}
	writeLimitOffset(w, u.Limit, u.Offset)
}

func writeLimitOffset(w *writer, limit, offset *int64) {
	if limit != nil {
		w.write(" LIMIT ")
		w.write(strconv.FormatInt(*limit, 10))
	}
	if offset != nil {
		w.write(" OFFSET ")
		w.write(strconv.FormatInt(*offset, 10))
	}
}

// Paginate returns a copy of q restricted to count rows starting at offset.
// The query is wrapped so its own ORDER BY is preserved.
func Paginate(q Query, offset, count int64) *Select {
	return &Select{
		Columns: []Projection{{Expr: Star{}}},
		From:    Derived{Query: q, Alias: "__window"},
		Limit:   Int64(count),
		Offset:  Int64(offset),
	}
}

// Limited returns a shallow copy of q with LIMIT count OFFSET offset applied
// to the statement itself, so its ORDER BY governs the window. Queries that
// carry no limit clause are wrapped with Paginate.
func Limited(q Query, offset, count int64) Query {
	switch x := q.(type) {
	case *Select:
		c := *x
		c.Limit, c.Offset = Int64(count), Int64(offset)
		return &c
	case *Union:
		c := *x
		c.Limit, c.Offset = Int64(count), Int64(offset)
		return &c
	}
	return Paginate(q, offset, count)
}
