package filter

// DefaultMaxRules is the largest rule set the simple filter shows per
// column.
const DefaultMaxRules = 2

// TrySimplify folds an advanced tree into per-column rule sets. It returns
// false when the tree has no equivalent simple form: nested groups mixing
// columns, groups deeper than one level, rule sets over limit, pieces of a
// column that cannot be joined under one conjunction, or a top-level "or"
// across more than one column. Empty groups are ignored.
func TrySimplify(root *Group, limit int) (map[string]*ColumnRules, bool) {
	if limit <= 0 {
		limit = DefaultMaxRules
	}
	out := make(map[string]*ColumnRules)
	if root.IsEmpty() {
		return out, true
	}

	g := root
	for {
		rules := effectiveRules(g)
		if len(rules) == 1 && rules[0].Group != nil {
			g = rules[0].Group
			continue
		}
		break
	}
	conj := g.Conjunction.normalized()

	add := func(col string, pieceConj Conjunction, conds []Condition) bool {
		existing := out[col]
		if existing == nil {
			if len(conds) > limit {
				return false
			}
			out[col] = &ColumnRules{Conjunction: pieceConj, Conditions: conds}
			return true
		}
		// Two pieces of one column are joined by the parent conjunction, so
		// they flatten only when everything agrees with it.
		if existing.Conjunction != pieceConj || pieceConj != conj {
			return false
		}
		if len(existing.Conditions)+len(conds) > limit {
			return false
		}
		existing.Conditions = append(existing.Conditions, conds...)
		return true
	}

	for _, r := range effectiveRules(g) {
		if r.Condition != nil {
			if !add(r.Condition.ColumnID, conj, []Condition{*r.Condition}) {
				return nil, false
			}
			continue
		}

		col, conds, ok := singleColumnConditions(r.Group)
		if !ok {
			return nil, false
		}
		pieceConj := r.Group.Conjunction.normalized()
		if len(conds) == 1 {
			pieceConj = conj
		}
		if !add(col, pieceConj, conds) {
			return nil, false
		}
	}

	if conj == Or && len(out) > 1 {
		return nil, false
	}
	return out, true
}

// effectiveRules drops empty nested groups.
func effectiveRules(g *Group) []Rule {
	out := make([]Rule, 0, len(g.Rules))
	for _, r := range g.Rules {
		if r.Condition == nil && r.Group.IsEmpty() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// singleColumnConditions returns the conditions of a group that holds only
// conditions on one column.
func singleColumnConditions(g *Group) (string, []Condition, bool) {
	var col string
	var conds []Condition
	for _, r := range effectiveRules(g) {
		if r.Condition == nil {
			return "", nil, false
		}
		if col == "" {
			col = r.Condition.ColumnID
		} else if r.Condition.ColumnID != col {
			return "", nil, false
		}
		conds = append(conds, *r.Condition)
	}
	return col, conds, len(conds) > 0
}
