package filter

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/dbtype"
)

// Compiler turns filter targets into SQL predicates over one relation.
type Compiler struct {
	Columns []core.Column
	// ColorRef returns the alias of the metadata ref table joined for a
	// column. Required when the target has color conditions.
	ColorRef func(columnID string) string
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Compile returns the predicate for t over the relation alias, or nil when
// t filters nothing.
func (c *Compiler) Compile(alias string, t Target) (clause.Expr, error) {
	if t.IsEmpty() {
		return nil, nil
	}
	order := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		order[i] = col.ID
	}
	e, err := c.group(alias, t.Tree(order))
	if err != nil {
		return nil, err
	}
	if l, ok := e.(clause.Logical); ok && l.IsEmpty() {
		return nil, nil
	}
	return e, nil
}

// WhereClause renders the predicate for t, or "" when t filters nothing.
func (c *Compiler) WhereClause(alias string, t Target) (string, error) {
	e, err := c.Compile(alias, t)
	if err != nil || e == nil {
		return "", err
	}
	return clause.RenderExpr(e), nil
}

func (c *Compiler) group(alias string, g *Group) (clause.Expr, error) {
	terms := make([]clause.Expr, 0, len(g.Rules))
	for _, r := range g.Rules {
		var (
			e   clause.Expr
			err error
		)
		switch {
		case r.Condition != nil:
			e, err = c.condition(alias, *r.Condition)
		case r.Group != nil:
			e, err = c.group(alias, r.Group)
		}
		if err != nil {
			return nil, err
		}
		if e != nil {
			terms = append(terms, e)
		}
	}
	if g.Conjunction.normalized() == Or {
		return clause.Or(terms...), nil
	}
	return clause.And(terms...), nil
}

func (c *Compiler) condition(alias string, cond Condition) (clause.Expr, error) {
	col, _, ok := core.FindColumn(c.Columns, cond.ColumnID)
	if !ok {
		return nil, fmt.Errorf("filter on unknown column %q", cond.ColumnID)
	}

	if cond.Operator.IsColor() {
		return c.color(col, cond)
	}

	steps, err := dbtype.ParsePath(cond.Path)
	if err != nil {
		return nil, err
	}
	typ, err := dbtype.Resolve(col.Type, steps)
	if err != nil {
		return nil, err
	}
	x := dbtype.PathExpr(clause.Col(alias, col.ID), steps)
	fold := dbtype.IsString(typ) && !cond.CaseSensitive

	text := func() clause.Expr {
		if !cond.CaseSensitive {
			return dbtype.FoldCase(x, typ)
		}
		if !dbtype.IsVarchar(typ) {
			return clause.Text(x)
		}
		return x
	}
	textLit := func(v any) clause.Expr {
		s := fmt.Sprint(v)
		if !cond.CaseSensitive {
			s = strings.ToLower(s)
		}
		return clause.Lit(s)
	}
	cmpX := func() clause.Expr {
		if fold {
			return dbtype.FoldCase(x, typ)
		}
		return x
	}
	cmpLit := func(v any) clause.Expr {
		if fold {
			return textLit(v)
		}
		return clause.Lit(v)
	}
	empty := func() clause.Expr {
		return clause.Or(clause.IsNull(x), clause.Eq(clause.Text(x), clause.Lit("")))
	}

	switch cond.Operator {
	case OpEq:
		if cond.Value == nil {
			return clause.IsNull(x), nil
		}
		return clause.Eq(cmpX(), cmpLit(cond.Value)), nil
	case OpNeq:
		if cond.Value == nil {
			return clause.IsNotNull(x), nil
		}
		return clause.Or(clause.IsNull(x), clause.Neq(cmpX(), cmpLit(cond.Value))), nil
	case OpLt:
		return clause.Lt(cmpX(), cmpLit(cond.Value)), nil
	case OpLte:
		return clause.Lte(cmpX(), cmpLit(cond.Value)), nil
	case OpGt:
		return clause.Gt(cmpX(), cmpLit(cond.Value)), nil
	case OpGte:
		return clause.Gte(cmpX(), cmpLit(cond.Value)), nil
	case OpContains:
		return clause.Func("contains", text(), textLit(cond.Value)), nil
	case OpNotContains:
		return clause.Or(clause.IsNull(x), clause.Not(clause.Func("contains", text(), textLit(cond.Value)))), nil
	case OpStartsWith:
		return clause.Func("starts_with", text(), textLit(cond.Value)), nil
	case OpEndsWith:
		return clause.Func("ends_with", text(), textLit(cond.Value)), nil
	case OpIsEmpty:
		return empty(), nil
	case OpIsNotEmpty:
		return clause.Not(empty()), nil
	case OpIn, OpNotIn:
		list := make([]clause.Expr, 0, len(cond.Values))
		hasNull := false
		for _, v := range cond.Values {
			if v == nil {
				hasNull = true
				continue
			}
			list = append(list, cmpLit(v))
		}
		in := clause.InExpr{X: cmpX(), List: list}
		if cond.Operator == OpIn {
			if hasNull {
				return clause.Or(clause.IsNull(x), in), nil
			}
			return in, nil
		}
		in.Not = true
		if hasNull {
			return clause.And(clause.IsNotNull(x), in), nil
		}
		return clause.Or(clause.IsNull(x), in), nil
	case OpBetween:
		if len(cond.Values) != 2 {
			return nil, fmt.Errorf("between on %s needs two values", cond.ColumnID)
		}
		return clause.BetweenExpr{X: cmpX(), Lo: cmpLit(cond.Values[0]), Hi: cmpLit(cond.Values[1])}, nil
	case OpDatePreset:
		return c.datePreset(x, typ, cond), nil
	}
	return nil, fmt.Errorf("unknown operator %q on %s", cond.Operator, cond.ColumnID)
}

// color matches the effective color of a cell: its override when present,
// else the column default.
func (c *Compiler) color(col core.Column, cond Condition) (clause.Expr, error) {
	if c.ColorRef == nil {
		return nil, fmt.Errorf("color filter on %s needs a metadata join", col.ID)
	}
	kind := core.ColorCell
	if cond.Operator == OpTextColor {
		kind = core.ColorText
	}
	return clause.Eq(EffectiveColor(c.ColorRef(col.ID), kind, col.DefaultColor(kind)), clause.Lit(fmt.Sprint(cond.Value))), nil
}

// EffectiveColor is the color of a cell given the alias of its joined ref
// row.
func EffectiveColor(refAlias string, kind core.ColorKind, fallback string) clause.Expr {
	return clause.Coalesce(
		clause.Func("json_extract_string", clause.Col(refAlias, "meta"), clause.Lit(kind.JSONPath())),
		clause.Lit(fallback),
	)
}

// datePreset returns nil, skipping the branch, when the zone or preset
// cannot be resolved.
func (c *Compiler) datePreset(x clause.Expr, typ string, cond Condition) clause.Expr {
	loc, err := time.LoadLocation(cond.Timezone)
	if err != nil {
		c.logger().Warn("skipping date filter with unknown timezone",
			slog.String("column", cond.ColumnID), slog.String("timezone", cond.Timezone))
		return nil
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	lo, hi, err := PresetRange(fmt.Sprint(cond.Value), now(), loc)
	if err != nil {
		c.logger().Warn("skipping date filter", slog.String("column", cond.ColumnID), slog.String("error", err.Error()))
		return nil
	}
	return clause.And(clause.Gte(x, dateBound(lo, typ)), clause.Lt(x, dateBound(hi, typ)))
}

func dateBound(t time.Time, typ string) clause.Expr {
	upper := strings.ToUpper(typ)
	switch {
	case upper == "DATE":
		return clause.Cast(clause.Lit(t.Format("2006-01-02")), "DATE")
	case strings.Contains(upper, "TIME ZONE") || upper == "TIMESTAMPTZ":
		return clause.Cast(clause.Lit(t.Format("2006-01-02 15:04:05-07:00")), "TIMESTAMPTZ")
	default:
		return clause.Lit(t)
	}
}

func (c *Compiler) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}
