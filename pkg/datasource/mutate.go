package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tiendc/go-deepcopy"

	"github.com/leapstack-labs/gridsource/internal/events"
	"github.com/leapstack-labs/gridsource/internal/filter"
	"github.com/leapstack-labs/gridsource/internal/loader"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/internal/query"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// update applies mutate to a copy of the settings and rebuilds the
// effective query. The settings are only replaced when the rebuild
// succeeds; on failure the data source keeps its previous state.
func (ds *DataSource) update(ctx context.Context, kind events.Kind, columnIDs []string, mutate func(*Settings) error) error {
	ds.mu.Lock()
	if !ds.initialized {
		ds.mu.Unlock()
		return ErrNotInitialized
	}
	if err := ds.acquire(ctx); err != nil {
		ds.mu.Unlock()
		return err
	}

	var next Settings
	if err := deepcopy.Copy(&next, &ds.settings); err != nil {
		ds.mu.Unlock()
		return fmt.Errorf("failed to snapshot settings: %w", err)
	}
	if err := mutate(&next); err != nil {
		ds.mu.Unlock()
		return err
	}
	if _, err := ds.loader.Rebuild(ctx, ds.loaderState(next)); err != nil {
		ds.mu.Unlock()
		ds.logger.Error("state change rolled back",
			slog.String("event", string(kind)), slog.String("error", err.Error()))
		return err
	}
	ds.settings = next
	count := ds.loader.RowCount()
	ds.mu.Unlock()

	ds.persist(ctx, next)
	ds.bus.Emit(events.Event{Kind: kind, ColumnIDs: columnIDs, RowCount: count})
	return nil
}

func (ds *DataSource) persist(ctx context.Context, s Settings) {
	if ds.opts.State == nil {
		return
	}
	if err := ds.opts.State.Save(ctx, ds.opts.ID, string(ds.contextID), s); err != nil {
		ds.logger.Warn("failed to save settings", slog.String("error", err.Error()))
	}
}

// Settings returns a copy of the current settings.
func (ds *DataSource) Settings() Settings {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out Settings
	if err := deepcopy.Copy(&out, &ds.settings); err != nil {
		ds.logger.Warn("failed to copy settings", slog.String("error", err.Error()))
	}
	return out
}

func (ds *DataSource) hasColumn(s *Settings, id string) (core.Column, bool) {
	col, _, ok := core.FindColumn(columnsOf(ds.baseColumns, *s), id)
	return col, ok
}

// SetSorter sorts by s. A sorter on the same column is replaced in place;
// otherwise s is added as the last sort key.
func (ds *DataSource) SetSorter(ctx context.Context, s core.Sorter) error {
	return ds.update(ctx, events.Sort, []string{s.ColumnID}, func(st *Settings) error {
		if _, ok := ds.hasColumn(st, s.ColumnID); !ok {
			return fmt.Errorf("sort on unknown column %q", s.ColumnID)
		}
		if s.Direction == "" {
			s.Direction = core.Asc
		}
		for i := range st.Sorters {
			if st.Sorters[i].ColumnID == s.ColumnID {
				st.Sorters[i] = s
				return nil
			}
		}
		st.Sorters = append(st.Sorters, s)
		return nil
	})
}

// RemoveSorter drops the sorter of a column.
func (ds *DataSource) RemoveSorter(ctx context.Context, columnID string) error {
	return ds.update(ctx, events.Sort, []string{columnID}, func(st *Settings) error {
		st.Sorters = slices.DeleteFunc(st.Sorters, func(s core.Sorter) bool { return s.ColumnID == columnID })
		return nil
	})
}

// SetGroups replaces the grouping levels, outermost first.
func (ds *DataSource) SetGroups(ctx context.Context, groups []core.Group) error {
	groups = slices.Clone(groups)
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ColumnID
	}
	return ds.update(ctx, events.DataGroup, ids, func(st *Settings) error {
		seen := map[string]bool{}
		for i, g := range groups {
			if _, ok := ds.hasColumn(st, g.ColumnID); !ok {
				return fmt.Errorf("group on unknown column %q", g.ColumnID)
			}
			if seen[g.ColumnID] {
				return fmt.Errorf("column %q is grouped twice", g.ColumnID)
			}
			seen[g.ColumnID] = true
			if g.Direction == "" {
				groups[i].Direction = core.Asc
			}
		}
		st.Groups = groups
		return nil
	})
}

// SetSubtotals shows or hides a subtotal row after each group.
func (ds *DataSource) SetSubtotals(ctx context.Context, on bool) error {
	return ds.update(ctx, events.DataGroup, nil, func(st *Settings) error {
		st.Subtotals = on
		return nil
	})
}

// SetFilterNg replaces the filter. An advanced filter that has a simple
// form is stored in its simple form.
func (ds *DataSource) SetFilterNg(ctx context.Context, f Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f = filter.Normalize(f, ds.opts.MaxSimpleRules)
	var ids []string
	for _, c := range f.Conditions() {
		if !slices.Contains(ids, c.ColumnID) {
			ids = append(ids, c.ColumnID)
		}
	}
	return ds.update(ctx, events.Filter, ids, func(st *Settings) error {
		st.Filter = f
		return nil
	})
}

// SetAggregationFn sets the summary function of a column; an empty fn
// removes it.
func (ds *DataSource) SetAggregationFn(ctx context.Context, columnID string, fn core.AggregationFn) error {
	if fn != "" {
		if _, _, err := fn.SQLFunc(); err != nil {
			return err
		}
	}
	return ds.update(ctx, events.Settings, []string{columnID}, func(st *Settings) error {
		if _, ok := ds.hasColumn(st, columnID); !ok {
			return fmt.Errorf("aggregation on unknown column %q", columnID)
		}
		if fn == "" {
			delete(st.Aggregations, columnID)
			return nil
		}
		if st.Aggregations == nil {
			st.Aggregations = map[string]core.AggregationFn{}
		}
		st.Aggregations[columnID] = fn
		return nil
	})
}

// SettingsPatch changes presentation settings. Nil fields are left alone.
type SettingsPatch struct {
	Subtotals    *bool
	ColumnWidths map[string]int
	// DefaultStyles replace the column-level styles of the given columns;
	// a nil style removes it.
	DefaultStyles map[string]*core.Style
}

// UpdateSettings applies p.
func (ds *DataSource) UpdateSettings(ctx context.Context, p SettingsPatch) error {
	var ids []string
	for id := range p.ColumnWidths {
		ids = append(ids, id)
	}
	for id := range p.DefaultStyles {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ds.update(ctx, events.Settings, ids, func(st *Settings) error {
		if p.Subtotals != nil {
			st.Subtotals = *p.Subtotals
		}
		for id, w := range p.ColumnWidths {
			if _, ok := ds.hasColumn(st, id); !ok {
				return fmt.Errorf("width of unknown column %q", id)
			}
			if st.ColumnWidths == nil {
				st.ColumnWidths = map[string]int{}
			}
			st.ColumnWidths[id] = w
		}
		for id, style := range p.DefaultStyles {
			if _, ok := ds.hasColumn(st, id); !ok {
				return fmt.Errorf("style of unknown column %q", id)
			}
			if style.IsEmpty() {
				delete(st.DefaultStyles, id)
				continue
			}
			if st.DefaultStyles == nil {
				st.DefaultStyles = map[string]*core.Style{}
			}
			st.DefaultStyles[id] = style.Clone()
		}
		return nil
	})
}

// SetVirtualColumn adds a computed column, or replaces the expression of an
// existing one. expr is evaluated against the base query's columns.
func (ds *DataSource) SetVirtualColumn(ctx context.Context, name, expr string) error {
	if name == "" || loader.IsInternal(name) || name == metadata.RowIDColumn || name == metadata.RowKey {
		return fmt.Errorf("invalid virtual column name %q", name)
	}
	ld, err := ds.ready()
	if err != nil {
		return err
	}
	typ, err := ds.describeExpr(ctx, ld, name, expr)
	if err != nil {
		return err
	}

	return ds.update(ctx, events.Data, []string{name}, func(st *Settings) error {
		if _, _, ok := core.FindColumn(ds.baseColumns, name); ok {
			return fmt.Errorf("column %q already exists", name)
		}
		if err := ds.meta.AddColumns(ctx, []string{name}); err != nil {
			return err
		}
		col := core.Column{ID: name, Name: name, Type: typ, Virtual: true, Expr: expr}
		for i := range st.VirtualColumns {
			if st.VirtualColumns[i].ID == name {
				st.VirtualColumns[i] = col
				return nil
			}
		}
		st.VirtualColumns = append(st.VirtualColumns, col)
		return nil
	})
}

// describeExpr returns the engine type of expr over the base relation.
func (ds *DataSource) describeExpr(ctx context.Context, ld *loader.Loader, name, expr string) (string, error) {
	sel := &clause.Select{
		Columns: []clause.Projection{clause.As(clause.Raw("("+expr+")"), name)},
		From:    ld.Builder().Base,
	}
	cols, err := query.Describe(ctx, ds.mgr, "", clause.Derived{Query: sel})
	if err != nil {
		return "", fmt.Errorf("invalid expression for %s: %w", name, err)
	}
	if len(cols) != 1 {
		return "", fmt.Errorf("expression for %s must yield one column, got %d", name, len(cols))
	}
	return cols[0].Type, nil
}

// RemoveVirtualColumn drops a computed column along with the sorts,
// groups, filters and aggregations that use it.
func (ds *DataSource) RemoveVirtualColumn(ctx context.Context, name string) error {
	return ds.update(ctx, events.Data, []string{name}, func(st *Settings) error {
		n := len(st.VirtualColumns)
		st.VirtualColumns = slices.DeleteFunc(st.VirtualColumns, func(c core.Column) bool { return c.ID == name })
		if len(st.VirtualColumns) == n {
			return fmt.Errorf("no virtual column %q", name)
		}
		st.Sorters = slices.DeleteFunc(st.Sorters, func(s core.Sorter) bool { return s.ColumnID == name })
		st.Groups = slices.DeleteFunc(st.Groups, func(g core.Group) bool { return g.ColumnID == name })
		delete(st.Aggregations, name)
		delete(st.ColumnWidths, name)
		delete(st.DefaultStyles, name)
		st.Filter = withoutColumn(st.Filter, name)
		return nil
	})
}

// withoutColumn drops every condition on a column.
func withoutColumn(t filter.Target, columnID string) filter.Target {
	if t.Advanced == nil {
		return t.Without(columnID)
	}
	var prune func(g *filter.Group) *filter.Group
	prune = func(g *filter.Group) *filter.Group {
		out := &filter.Group{Conjunction: g.Conjunction}
		for _, r := range g.Rules {
			switch {
			case r.Condition != nil && r.Condition.ColumnID == columnID:
			case r.Group != nil:
				if sub := prune(r.Group); !sub.IsEmpty() {
					out.Rules = append(out.Rules, filter.Rule{Group: sub})
				}
			default:
				out.Rules = append(out.Rules, r)
			}
		}
		return out
	}
	return filter.Target{Advanced: prune(t.Advanced)}
}
