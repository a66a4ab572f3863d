package clause

// Query is a renderable statement that produces rows.
type Query interface {
	writeQuery(w *writer)
}

// CTE is a named common table expression.
type CTE struct {
	Name  string
	Query Query
}

// Projection is one select-list item.
type Projection struct {
	Expr  Expr
	Alias string
}

// TableRef is something that can appear in FROM or JOIN.
type TableRef interface {
	writeTable(w *writer)
}

// Table is a (possibly schema-qualified) table or view.
type Table struct {
	Schema string
	Name   string
	Alias  string
}

// Derived is a parenthesized subquery in FROM.
type Derived struct {
	Query Query
	Alias string
}

// RawQuery wraps trusted SQL text so it can be used as a Query or, with an
// alias, as a derived table.
type RawQuery struct {
	SQL   string
	Alias string
}

// JoinKind selects the join type.
type JoinKind string

// Join kinds.
const (
	InnerJoin JoinKind = "JOIN"
	LeftJoin  JoinKind = "LEFT JOIN"
	CrossJoin JoinKind = "CROSS JOIN"
)

// Join is one JOIN clause.
type Join struct {
	Kind  JoinKind
	Table TableRef
	On    Expr
}

// GroupBy is a GROUP BY clause; with Rollup set it renders
// GROUP BY ROLLUP (exprs...).
type GroupBy struct {
	Rollup bool
	Exprs  []Expr
}

// OrderKey is one ORDER BY key. Nulls sort last unless NullsFirst is set.
type OrderKey struct {
	Expr       Expr
	Desc       bool
	NullsFirst bool
}

// Select is a SELECT statement.
type Select struct {
	With     []CTE
	Distinct bool
	Columns  []Projection
	From     TableRef
	Joins    []Join
	Where    Expr
	GroupBy  *GroupBy
	Having   Expr
	OrderBy  []OrderKey
	Limit    *int64
	Offset   *int64
}

// Union combines queries with UNION ALL. ByName matches columns by name and
// fills missing ones with NULL.
type Union struct {
	With    []CTE
	Parts   []Query
	ByName  bool
	OrderBy []OrderKey
	Limit   *int64
	Offset  *int64
}

// As returns a projection with an alias.
func As(e Expr, alias string) Projection { return Projection{Expr: e, Alias: alias} }

// Asc returns an ascending order key.
func Asc(e Expr) OrderKey { return OrderKey{Expr: e} }

// Desc returns a descending order key.
func Desc(e Expr) OrderKey { return OrderKey{Expr: e, Desc: true} }

// Int64 returns a pointer to n, for Limit and Offset.
func Int64(n int64) *int64 { return &n }

// From returns a `SELECT * FROM ref` statement.
func From(ref TableRef) *Select {
	return &Select{Columns: []Projection{{Expr: Star{}}}, From: ref}
}
