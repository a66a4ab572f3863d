// Package loader rebuilds the effective query of a data source and serves
// windows of its rows.
//
// Every state change rebuilds the effective query. When the rendered SQL
// is unchanged nothing is invalidated; otherwise the row cache is cleared,
// the backing view is rematerialized and the row count refreshed. Windows
// are loaded through a FIFO queue that runs one load at a time, and
// requested ranges are trimmed to the rows not already cached.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/gridsource/internal/conn"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

// States of the rebuild machine.
const (
	StateIdle       = "idle"
	StateRebuilding = "rebuilding"
	StateUnchanged  = "unchanged"
	StateReloading  = "reloading"
)

const (
	eventRebuild   = "rebuild"
	eventUnchanged = "unchanged"
	eventChanged   = "changed"
	eventDone      = "done"
	eventFail      = "fail"
)

// StateSlot is the connection slot used by rebuilds.
const StateSlot = "state-update"

// ErrBusy is returned when a rebuild starts while another one runs.
var ErrBusy = errors.New("rebuild already in progress")

// RebuildError reports a failed rebuild. The previous plan stays in effect.
type RebuildError struct {
	Query string
	Err   error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("failed to rebuild effective query: %v", e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }

// Summary is the grand total of the filtered rows.
type Summary struct {
	Count int64
	// Values holds the aggregate of each summarized column by column id.
	Values map[string]any
}

// Config names the generated objects of a loader.
type Config struct {
	Schema string
	Prefix string
}

// Loader owns the effective query, row count, summary and row cache of a
// data source.
type Loader struct {
	mgr     *conn.Manager
	meta    *metadata.Store
	builder *Builder
	cfg     Config
	logger  *slog.Logger
	machine *fsm.FSM
	queue   *Queue
	cache   *Cache

	mu           sync.RWMutex
	plan         *Plan
	rowCount     int64
	summary      Summary
	materialized bool
}

// New creates a loader. Rebuild must succeed once before rows can load.
func New(mgr *conn.Manager, meta *metadata.Store, builder *Builder, cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("component", "loader"))
	if builder.Logger == nil {
		builder.Logger = logger
	}
	return &Loader{
		mgr:     mgr,
		meta:    meta,
		builder: builder,
		cfg:     cfg,
		logger:  logger,
		machine: newMachine(),
		queue:   NewQueue(logger),
		cache:   NewCache(),
	}
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventRebuild, Src: []string{StateIdle}, Dst: StateRebuilding},
			{Name: eventUnchanged, Src: []string{StateRebuilding}, Dst: StateUnchanged},
			{Name: eventChanged, Src: []string{StateRebuilding}, Dst: StateReloading},
			{Name: eventDone, Src: []string{StateUnchanged, StateReloading}, Dst: StateIdle},
			{Name: eventFail, Src: []string{StateRebuilding, StateUnchanged, StateReloading}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
}

// Current returns the state of the rebuild machine.
func (l *Loader) Current() string { return l.machine.Current() }

// Plan returns the plan in effect, or nil before the first rebuild.
func (l *Loader) Plan() *Plan {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.plan
}

// RowCount returns the number of rows of the effective query.
func (l *Loader) RowCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rowCount
}

// Summary returns the grand total computed by the last rebuild.
func (l *Loader) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summary
}

// ViewRef returns the materialized effective query.
func (l *Loader) ViewRef() clause.Table {
	return clause.Table{Schema: l.cfg.Schema, Name: l.cfg.Prefix + "_view"}
}

func (l *Loader) summaryRef() clause.Table {
	return clause.Table{Schema: l.cfg.Schema, Name: l.cfg.Prefix + "_summary"}
}

// Materialized reports whether the effective query is backed by a view.
func (l *Loader) Materialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.materialized
}

// Builder returns the query builder.
func (l *Loader) Builder() *Builder { return l.builder }

// Rebuild composes the effective query for st. It reports whether the
// query changed. On failure the previous plan, count and cache are kept.
func (l *Loader) Rebuild(ctx context.Context, st State) (bool, error) {
	return l.run(ctx, st, false)
}

// Reload recounts the current plan and clears the row cache even though
// the query is unchanged, e.g. after values were edited.
func (l *Loader) Reload(ctx context.Context) error {
	plan := l.Plan()
	if plan == nil {
		return fmt.Errorf("effective query not built")
	}
	_, err := l.run(ctx, plan.state, true)
	return err
}

func (l *Loader) run(ctx context.Context, st State, force bool) (bool, error) {
	if err := l.machine.Event(ctx, eventRebuild); err != nil {
		return false, ErrBusy
	}
	changed, err := l.rebuild(ctx, st, force)
	if err != nil {
		_ = l.machine.Event(ctx, eventFail)
		return false, err
	}
	if err := l.machine.Event(ctx, eventDone); err != nil {
		return changed, fmt.Errorf("failed to finish rebuild: %w", err)
	}
	return changed, nil
}

func (l *Loader) rebuild(ctx context.Context, st State, force bool) (bool, error) {
	plan, err := l.builder.Build(st)
	if err != nil {
		return false, &RebuildError{Err: err}
	}

	id, err := l.mgr.Open(ctx, StateSlot)
	if err != nil {
		return false, &RebuildError{Query: plan.SQL, Err: err}
	}
	if l.cfg.Schema != "" {
		if _, err := l.mgr.Exec(ctx, id, "CREATE SCHEMA IF NOT EXISTS "+clause.QuoteIdent(l.cfg.Schema)); err != nil {
			return false, &RebuildError{Query: plan.SQL, Err: err}
		}
	}

	prev := l.Plan()
	if !force && prev != nil && prev.SQL == plan.SQL {
		if err := l.machine.Event(ctx, eventUnchanged); err != nil {
			return false, err
		}
		summary, err := l.readSummary(ctx, id, plan)
		if err != nil {
			return false, &RebuildError{Query: plan.SQL, Err: err}
		}
		if err := l.writeSummaryView(ctx, id, plan); err != nil {
			return false, &RebuildError{Query: plan.SQL, Err: err}
		}
		l.mu.Lock()
		l.plan = plan
		l.summary = summary
		l.mu.Unlock()
		l.logger.Debug("effective query unchanged")
		return false, nil
	}

	if err := l.machine.Event(ctx, eventChanged); err != nil {
		return false, err
	}
	l.logger.Debug("effective query changed", slog.String("sql", plan.SQL))

	var (
		count   int64
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := l.count(gctx, id, plan)
		count = n
		return err
	})
	g.Go(func() error {
		s, err := l.readSummary(gctx, "", plan)
		summary = s
		return err
	})
	if err := g.Wait(); err != nil {
		return false, &RebuildError{Query: plan.SQL, Err: err}
	}

	materialized, err := l.materialize(ctx, id, plan, st.Active())
	if err != nil {
		return false, &RebuildError{Query: plan.SQL, Err: err}
	}
	if err := l.writeSummaryView(ctx, id, plan); err != nil {
		l.restoreView(ctx, id, prev)
		return false, &RebuildError{Query: plan.SQL, Err: err}
	}

	// Plan and cache generation change together; see window.
	l.mu.Lock()
	l.plan = plan
	l.rowCount = count
	l.summary = summary
	l.materialized = materialized
	l.cache.Clear()
	l.mu.Unlock()
	l.logger.Debug("row cache cleared", slog.Int64("rows", count))
	return true, nil
}

func (l *Loader) count(ctx context.Context, id provider.ConnID, plan *Plan) (int64, error) {
	res, err := l.mgr.QueryAll(ctx, id, clause.Render(CountQuery(plan)), 1)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	if len(res.Rows) != 1 {
		return 0, fmt.Errorf("count returned %d rows", len(res.Rows))
	}
	n, ok := toInt64(res.Rows[0][0])
	if !ok {
		return 0, fmt.Errorf("unexpected count value %v", res.Rows[0][0])
	}
	return n, nil
}

// materialize replaces the backing view when the state is active and drops
// it otherwise.
func (l *Loader) materialize(ctx context.Context, id provider.ConnID, plan *Plan, active bool) (bool, error) {
	ref := l.ViewRef()
	name := clause.QualifiedName(ref.Schema, ref.Name)
	if !active {
		if _, err := l.mgr.Exec(ctx, id, "DROP VIEW IF EXISTS "+name); err != nil {
			return false, fmt.Errorf("failed to drop view: %w", err)
		}
		return false, nil
	}
	if _, err := l.mgr.Exec(ctx, id, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", name, plan.SQL)); err != nil {
		return false, fmt.Errorf("failed to create view: %w", err)
	}
	return true, nil
}

// restoreView points the backing view at prev again after a later rebuild
// step failed.
func (l *Loader) restoreView(ctx context.Context, id provider.ConnID, prev *Plan) {
	active := prev != nil && prev.state.Active()
	if _, err := l.materialize(ctx, id, prev, active); err != nil {
		l.logger.Warn("failed to restore view", slog.String("error", err.Error()))
	}
}

// writeSummaryView points the summary view at the summary query of plan.
func (l *Loader) writeSummaryView(ctx context.Context, id provider.ConnID, plan *Plan) error {
	ref := l.summaryRef()
	name := clause.QualifiedName(ref.Schema, ref.Name)
	if _, err := l.mgr.Exec(ctx, id, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", name, clause.Render(plan.SummaryQuery))); err != nil {
		return fmt.Errorf("failed to create summary view: %w", err)
	}
	return nil
}

// readSummary runs the summary query of plan and reads its single row.
func (l *Loader) readSummary(ctx context.Context, id provider.ConnID, plan *Plan) (Summary, error) {
	res, err := l.mgr.QueryAll(ctx, id, clause.Render(plan.SummaryQuery), 1)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read summary: %w", err)
	}
	s := Summary{Values: map[string]any{}}
	if len(res.Rows) == 0 {
		return s, nil
	}
	row := res.Rows[0]
	if i := res.ColumnIndex(CountColumn); i >= 0 {
		s.Count, _ = toInt64(row[i])
	}
	for _, f := range plan.Summary.Fields {
		if i := res.ColumnIndex(f.Name); i >= 0 {
			s.Values[f.ColumnID] = row[i]
		}
	}
	return s, nil
}

// Invalidate drops every cached row, for example after value or style
// edits.
func (l *Loader) Invalidate() { l.cache.Clear() }

// OptimizeRange returns the part of r that still needs loading, or nil.
func (l *Loader) OptimizeRange(r core.Range) *core.Range { return l.cache.OptimizeRange(r) }

// Enqueue schedules loading of r. It returns a nil channel when nothing
// needs loading.
func (l *Loader) Enqueue(ctx context.Context, r core.Range) (Token, <-chan error) {
	r = r.Clamp(l.RowCount())
	if r.IsEmpty() {
		return "", nil
	}
	opt := l.cache.OptimizeRange(r)
	if opt == nil {
		return "", nil
	}
	return l.queue.Enqueue(ctx, func(ctx context.Context) error {
		// An earlier job may have loaded part of the range.
		again := l.cache.OptimizeRange(*opt)
		if again == nil {
			return nil
		}
		return l.loadWindow(ctx, *again)
	})
}

// Cancel removes a queued load that has not started.
func (l *Loader) Cancel(t Token) bool { return l.queue.Cancel(t) }

// Load loads r and waits for it.
func (l *Loader) Load(ctx context.Context, r core.Range) error {
	_, done := l.Enqueue(ctx, r)
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rows returns the cached rows of r; missing rows are nil.
func (l *Loader) Rows(r core.Range) []*Row {
	if r.IsEmpty() {
		return nil
	}
	out := make([]*Row, 0, r.Len())
	for i := r.Start; i <= r.End; i++ {
		row, _ := l.cache.Get(i)
		out = append(out, row)
	}
	return out
}

// window returns the current plan with the cache generation its rows are
// stored under.
func (l *Loader) window() (*Plan, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.plan, l.cache.Generation()
}

func (l *Loader) loadWindow(ctx context.Context, r core.Range) error {
	plan, gen := l.window()
	if plan == nil {
		return fmt.Errorf("effective query not built")
	}
	return l.fetchWindow(ctx, plan, gen, r)
}

// fetchWindow queries r from plan and caches the rows under gen.
func (l *Loader) fetchWindow(ctx context.Context, plan *Plan, gen uint64, r core.Range) error {
	stmt := clause.Render(clause.Limited(plan.Query, r.Start, r.Len()))
	res, err := l.mgr.QueryAll(ctx, "", stmt, 0)
	if err != nil {
		return fmt.Errorf("failed to load rows %s: %w", r, err)
	}
	rows := parseRows(res, plan, r.Start)

	var ids []int64
	for _, row := range rows {
		if row.RowID != nil {
			ids = append(ids, *row.RowID)
		}
	}
	if l.meta != nil && len(ids) > 0 {
		meta, err := l.meta.LoadRows(ctx, ids)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.RowID != nil {
				row.Meta = meta[*row.RowID]
			}
		}
	}

	if !l.cache.Put(gen, rows) {
		l.logger.Debug("discarded stale window", slog.String("range", r.String()))
		return nil
	}
	l.logger.Debug("window loaded", slog.String("range", r.String()), slog.Int("rows", len(rows)))
	return nil
}

// parseRows turns a result window into rows starting at index start.
func parseRows(res *provider.Result, plan *Plan, start int64) []*Row {
	idx := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		idx[c.Name] = i
	}
	get := func(row []any, name string) (any, bool) {
		i, ok := idx[name]
		if !ok {
			return nil, false
		}
		return row[i], true
	}

	out := make([]*Row, 0, len(res.Rows))
	for n, values := range res.Rows {
		row := &Row{Index: start + int64(n), Kind: core.RowData, Data: map[string]any{}}
		if v, ok := get(values, KindColumn); ok && v != nil {
			row.Kind = core.RowKind(fmt.Sprint(v))
		}
		if v, ok := get(values, LevelColumn); ok {
			if lvl, ok := toInt64(v); ok {
				row.Level = int(lvl)
			}
		} else if plan.Groups != nil {
			row.Level = len(plan.Groups.Fields)
		}

		if row.Kind == core.RowData {
			if v, ok := get(values, RowIDColumn); ok {
				if id, ok := toInt64(v); ok {
					row.RowID = &id
				}
			}
			for _, c := range plan.state.Columns {
				if v, ok := get(values, c.ID); ok {
					row.Data[c.ID] = v
				}
			}
			out = append(out, row)
			continue
		}

		row.Groups = map[string]any{}
		for _, f := range plan.Groups.Fields {
			if f.Level > row.Level {
				break
			}
			v, _ := get(values, f.Value)
			row.Groups[f.ColumnID] = v
		}
		if v, ok := get(values, CountColumn); ok {
			if c, ok := toInt64(v); ok {
				row.Count = &c
			}
		}
		row.Summary = map[string]any{}
		for _, f := range plan.Summary.Fields {
			if v, ok := get(values, f.Name); ok {
				row.Summary[f.ColumnID] = v
			}
		}
		out = append(out, row)
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case uint64:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint8:
		return int64(x), true
	case float64:
		return int64(x), true
	}
	return 0, false
}
