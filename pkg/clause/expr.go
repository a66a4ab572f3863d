// Package clause is a small SQL clause builder: expressions and SELECT
// statements are assembled as values and rendered to the DuckDB dialect.
//
// Literals are always inlined and escaped by the renderer, so the output can
// be used where bind parameters are not allowed (view definitions,
// text-equality comparison of generated queries).
package clause

// Expr is a SQL scalar expression.
type Expr interface {
	writeExpr(w *writer)
}

// Column is a (possibly qualified) column reference.
type Column struct {
	Table string
	Name  string
}

// Literal is a constant value rendered inline.
type Literal struct {
	Value any
}

// Raw is a trusted SQL fragment rendered verbatim.
type Raw string

// Star is `*` or `table.*`.
type Star struct {
	Table string
}

// FuncCall is a function or aggregate call.
type FuncCall struct {
	Name     string
	Args     []Expr
	Distinct bool
	Over     *Window
}

// Window is an OVER clause.
type Window struct {
	PartitionBy []Expr
	OrderBy     []OrderKey
}

// Binary is a binary operation such as `a = b` or `a || b`.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Logical joins terms with AND or OR. Nil terms and empty nested Logicals
// are skipped; a Logical with no remaining terms places no constraint and
// renders TRUE.
type Logical struct {
	Op    string
	Terms []Expr
}

// NotExpr negates an expression.
type NotExpr struct {
	X Expr
}

// IsNullExpr is `x IS [NOT] NULL`.
type IsNullExpr struct {
	X   Expr
	Not bool
}

// InExpr is `x [NOT] IN (...)`.
type InExpr struct {
	X    Expr
	List []Expr
	Not  bool
}

// BetweenExpr is `x [NOT] BETWEEN lo AND hi`.
type BetweenExpr struct {
	X, Lo, Hi Expr
	Not       bool
}

// CastExpr is `CAST(x AS type)`.
type CastExpr struct {
	X    Expr
	Type string
}

// When is one branch of a CASE expression.
type When struct {
	Cond Expr
	Then Expr
}

// CaseExpr is a searched CASE expression.
type CaseExpr struct {
	Whens []When
	Else  Expr
}

// FieldExpr extracts a struct field.
type FieldExpr struct {
	X     Expr
	Field string
}

// IndexExpr extracts a 0-based list element.
type IndexExpr struct {
	X     Expr
	Index int
}

// SubqueryExpr is a parenthesized scalar subquery.
type SubqueryExpr struct {
	Query Query
}

// Col returns a column reference. An empty table renders unqualified.
func Col(table, name string) Column { return Column{Table: table, Name: name} }

// Lit returns a literal.
func Lit(v any) Literal { return Literal{Value: v} }

// Null is the NULL literal.
var Null = Literal{}

// Func returns a function call.
func Func(name string, args ...Expr) FuncCall { return FuncCall{Name: name, Args: args} }

// Eq returns `l = r`.
func Eq(l, r Expr) Binary { return Binary{Op: "=", Left: l, Right: r} }

// Neq returns `l <> r`.
func Neq(l, r Expr) Binary { return Binary{Op: "<>", Left: l, Right: r} }

// Lt returns `l < r`.
func Lt(l, r Expr) Binary { return Binary{Op: "<", Left: l, Right: r} }

// Lte returns `l <= r`.
func Lte(l, r Expr) Binary { return Binary{Op: "<=", Left: l, Right: r} }

// Gt returns `l > r`.
func Gt(l, r Expr) Binary { return Binary{Op: ">", Left: l, Right: r} }

// Gte returns `l >= r`.
func Gte(l, r Expr) Binary { return Binary{Op: ">=", Left: l, Right: r} }

// Minus returns `l - r`.
func Minus(l, r Expr) Binary { return Binary{Op: "-", Left: l, Right: r} }

// NotDistinct returns `l IS NOT DISTINCT FROM r`, a null-safe equality.
func NotDistinct(l, r Expr) Binary { return Binary{Op: "IS NOT DISTINCT FROM", Left: l, Right: r} }

// And returns the conjunction of the non-nil terms.
func And(terms ...Expr) Logical { return Logical{Op: "AND", Terms: terms} }

// Or returns the disjunction of the non-nil terms.
func Or(terms ...Expr) Logical { return Logical{Op: "OR", Terms: terms} }

// Not returns `NOT (x)`.
func Not(x Expr) NotExpr { return NotExpr{X: x} }

// IsNull returns `x IS NULL`.
func IsNull(x Expr) IsNullExpr { return IsNullExpr{X: x} }

// IsNotNull returns `x IS NOT NULL`.
func IsNotNull(x Expr) IsNullExpr { return IsNullExpr{X: x, Not: true} }

// In returns `x IN (list...)`.
func In(x Expr, list ...Expr) InExpr { return InExpr{X: x, List: list} }

// Cast returns `CAST(x AS typ)`.
func Cast(x Expr, typ string) CastExpr { return CastExpr{X: x, Type: typ} }

// Coalesce returns `coalesce(args...)`.
func Coalesce(args ...Expr) FuncCall { return Func("coalesce", args...) }

// Lower returns `lower(x)`.
func Lower(x Expr) FuncCall { return Func("lower", x) }

// Text casts x to VARCHAR.
func Text(x Expr) CastExpr { return Cast(x, "VARCHAR") }

// Field returns `struct_extract(x, 'field')`.
func Field(x Expr, field string) FieldExpr { return FieldExpr{X: x, Field: field} }

// Index returns the 0-based list element of x.
func Index(x Expr, i int) IndexExpr { return IndexExpr{X: x, Index: i} }

// nonNil returns the effective terms of a logical expression.
func (l Logical) nonNil() []Expr {
	out := make([]Expr, 0, len(l.Terms))
	for _, t := range l.Terms {
		if t == nil {
			continue
		}
		if inner, ok := t.(Logical); ok && len(inner.nonNil()) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsEmpty reports whether the logical expression has no effective terms.
func (l Logical) IsEmpty() bool { return len(l.nonNil()) == 0 }
