package loader

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// SummaryNode is one level of a group summary tree. The root is the grand
// total and has no group value.
type SummaryNode struct {
	ColumnID string
	// Group is the grouped value at this level; nil at the root.
	Group    any
	Value    any
	Count    int64
	Children []*SummaryNode
}

// GroupSummary rebuilds the summary tree of one column over the groups of
// the current plan.
func (l *Loader) GroupSummary(ctx context.Context, columnID string) (*SummaryNode, core.AggregationFn, error) {
	plan := l.Plan()
	if plan == nil {
		return nil, "", fmt.Errorf("effective query not built")
	}
	q, fn, err := l.builder.GroupSummaryQuery(plan, columnID)
	if err != nil {
		return nil, "", err
	}
	res, err := l.mgr.QueryAll(ctx, "", clause.Render(q), 0)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query group summary: %w", err)
	}

	fields := plan.Groups.Fields
	levelIdx := res.ColumnIndex(LevelColumn)
	countIdx := res.ColumnIndex(CountColumn)
	valueIdx := res.ColumnIndex(summaryValue)
	if levelIdx < 0 || valueIdx < 0 {
		return nil, "", fmt.Errorf("group summary is missing %s or %s", LevelColumn, summaryValue)
	}

	var (
		root  *SummaryNode
		stack []*SummaryNode
	)
	for _, row := range res.Rows {
		level, ok := toInt64(row[levelIdx])
		if !ok {
			return nil, "", fmt.Errorf("unexpected level %v", row[levelIdx])
		}
		node := &SummaryNode{ColumnID: columnID, Value: row[valueIdx]}
		if countIdx >= 0 {
			node.Count, _ = toInt64(row[countIdx])
		}
		if level < 0 {
			root = node
			stack = stack[:0]
			continue
		}
		if i := res.ColumnIndex(fields[level].Value); i >= 0 {
			node.Group = row[i]
		}
		// Rows arrive in pre-order: the parent of a node at level n is the
		// last node seen at level n-1.
		for int64(len(stack)) > level {
			stack = stack[:len(stack)-1]
		}
		parent := root
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		if parent == nil {
			return nil, "", fmt.Errorf("group summary row at level %d has no parent", level)
		}
		parent.Children = append(parent.Children, node)
		stack = append(stack, node)
	}
	if root == nil {
		root = &SummaryNode{ColumnID: columnID}
	}
	return root, fn, nil
}
