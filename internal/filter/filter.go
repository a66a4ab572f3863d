// Package filter models grid filters and compiles them to SQL predicates.
//
// A filter comes in two shapes: simple, an independent rule set per column
// with all columns ANDed together, and advanced, an arbitrary tree of
// groups and conditions. TrySimplify folds an advanced tree into the simple
// shape when that is possible without changing which rows match.
package filter

import (
	"fmt"
	"sort"
	"strings"
)

// Conjunction joins the rules of a group.
type Conjunction string

// Conjunctions.
const (
	And Conjunction = "and"
	Or  Conjunction = "or"
)

func (c Conjunction) normalized() Conjunction {
	if strings.EqualFold(string(c), string(Or)) {
		return Or
	}
	return And
}

// Operator is a condition operator.
type Operator string

// Operators.
const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpIsEmpty     Operator = "isEmpty"
	OpIsNotEmpty  Operator = "isNotEmpty"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpBetween     Operator = "between"
	OpCellColor   Operator = "cellColor"
	OpTextColor   Operator = "textColor"
	OpDatePreset  Operator = "datePreset"
)

// IsColor reports whether the operator matches on cell metadata.
func (o Operator) IsColor() bool { return o == OpCellColor || o == OpTextColor }

// Condition is a leaf predicate on one column.
type Condition struct {
	ColumnID string   `json:"columnId" yaml:"column"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
	// Values holds the list for in/notIn and the bounds for between.
	Values        []any  `json:"values,omitempty" yaml:"values,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" yaml:"case_sensitive,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
	// Timezone is the IANA zone relative dates are resolved in.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Rule is either a condition or a nested group.
type Rule struct {
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Group     *Group     `json:"group,omitempty" yaml:"group,omitempty"`
}

// Group joins rules with a conjunction.
type Group struct {
	Conjunction Conjunction `json:"conjunction" yaml:"conjunction"`
	Rules       []Rule      `json:"rules" yaml:"rules"`
}

// IsEmpty reports whether the group contains no condition at any depth.
func (g *Group) IsEmpty() bool {
	if g == nil {
		return true
	}
	for _, r := range g.Rules {
		if r.Condition != nil {
			return false
		}
		if !r.Group.IsEmpty() {
			return false
		}
	}
	return true
}

// Cond wraps a condition as a rule.
func Cond(c Condition) Rule { return Rule{Condition: &c} }

// Sub wraps a group as a rule.
func Sub(conj Conjunction, rules ...Rule) Rule {
	return Rule{Group: &Group{Conjunction: conj, Rules: rules}}
}

// ColumnRules is the simple-filter rule set of one column.
type ColumnRules struct {
	Conjunction Conjunction `json:"conjunction" yaml:"conjunction"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
}

// Target is the filter of a data source. At most one of Simple and
// Advanced is in effect; Advanced wins when both are set.
type Target struct {
	Simple   map[string]*ColumnRules `json:"simple,omitempty" yaml:"simple,omitempty"`
	Advanced *Group                  `json:"advanced,omitempty" yaml:"advanced,omitempty"`
}

// IsEmpty reports whether the target filters nothing.
func (t Target) IsEmpty() bool {
	if t.Advanced != nil {
		return t.Advanced.IsEmpty()
	}
	for _, rules := range t.Simple {
		if rules != nil && len(rules.Conditions) > 0 {
			return false
		}
	}
	return true
}

// IsAdvanced reports whether the advanced tree is in effect.
func (t Target) IsAdvanced() bool { return t.Advanced != nil }

// Tree returns the target as a single tree. Simple column rule sets are
// ANDed in the order of columnOrder; columns not listed follow sorted by id.
func (t Target) Tree(columnOrder []string) *Group {
	if t.Advanced != nil {
		return t.Advanced
	}
	root := &Group{Conjunction: And}
	for _, id := range orderedKeys(t.Simple, columnOrder) {
		rules := t.Simple[id]
		if rules == nil || len(rules.Conditions) == 0 {
			continue
		}
		sub := &Group{Conjunction: rules.Conjunction.normalized()}
		for _, c := range rules.Conditions {
			c.ColumnID = id
			sub.Rules = append(sub.Rules, Cond(c))
		}
		root.Rules = append(root.Rules, Rule{Group: sub})
	}
	return root
}

// Without returns the target with the simple rules of columnID removed.
// Advanced trees are returned unchanged.
func (t Target) Without(columnID string) Target {
	if t.Advanced != nil || t.Simple[columnID] == nil {
		return t
	}
	out := Target{Simple: make(map[string]*ColumnRules, len(t.Simple))}
	for id, r := range t.Simple {
		if id != columnID {
			out.Simple[id] = r
		}
	}
	return out
}

// Normalize prefers the simple shape: an advanced tree that simplifies is
// replaced by its simple form.
func Normalize(t Target, limit int) Target {
	if t.Advanced == nil {
		return t
	}
	if simple, ok := TrySimplify(t.Advanced, limit); ok {
		return Target{Simple: simple}
	}
	return t
}

// Conditions returns every condition of the target in tree order.
func (t Target) Conditions() []Condition {
	var out []Condition
	var walk func(g *Group)
	walk = func(g *Group) {
		if g == nil {
			return
		}
		for _, r := range g.Rules {
			if r.Condition != nil {
				out = append(out, *r.Condition)
			}
			walk(r.Group)
		}
	}
	walk(t.Tree(nil))
	return out
}

// ColorColumns returns the ids of columns with color conditions, in order of
// first use.
func (t Target) ColorColumns() []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range t.Conditions() {
		if c.Operator.IsColor() && !seen[c.ColumnID] {
			seen[c.ColumnID] = true
			out = append(out, c.ColumnID)
		}
	}
	return out
}

// Validate checks that every condition names a known operator and carries
// the values the operator needs.
func (t Target) Validate() error {
	for _, c := range t.Conditions() {
		if c.ColumnID == "" {
			return fmt.Errorf("condition %s has no column", c.Operator)
		}
		switch c.Operator {
		case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpContains, OpNotContains,
			OpStartsWith, OpEndsWith, OpCellColor, OpTextColor, OpDatePreset:
		case OpIsEmpty, OpIsNotEmpty, OpIn, OpNotIn:
		case OpBetween:
			if len(c.Values) != 2 {
				return fmt.Errorf("between on %s needs two values, got %d", c.ColumnID, len(c.Values))
			}
		default:
			return fmt.Errorf("unknown operator %q on %s", c.Operator, c.ColumnID)
		}
	}
	return nil
}

func orderedKeys(m map[string]*ColumnRules, order []string) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, id := range order {
		if _, ok := m[id]; ok && !seen[id] {
			keys = append(keys, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range m {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
