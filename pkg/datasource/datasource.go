// Package datasource is the query-backed data source a grid pages through.
//
// A DataSource wraps one SQL query. Init materializes the query as
// configured, creates the metadata tables for cell styles and builds the
// effective query. Sorts, filters, groups, aggregations and virtual columns
// rebuild the effective query; a failed rebuild rolls the data source back
// to its previous state. Every successful change emits an event.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leapstack-labs/gridsource/internal/conn"
	"github.com/leapstack-labs/gridsource/internal/events"
	"github.com/leapstack-labs/gridsource/internal/loader"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/internal/query"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

var (
	// ErrNotInitialized is returned by operations that need Init to have
	// succeeded.
	ErrNotInitialized = errors.New("data source is not initialized")
	// ErrNotEditable is returned by value edits on sources that are not
	// materialized into a table.
	ErrNotEditable = errors.New("data source is not editable")
	// ErrLockDenied is returned when the database lock could not be taken.
	ErrLockDenied = errors.New("database lock denied")
)

const initSlot = "init"

// DataSource is a query-backed, lazily loaded grid data source.
type DataSource struct {
	opts      Options
	desc      *query.Descriptor
	contextID query.ContextID
	mgr       *conn.Manager
	bus       *events.Bus
	logger    *slog.Logger

	// mu serializes initialization and state changes.
	mu          sync.Mutex
	initialized bool
	base        *query.Result
	baseColumns []core.Column
	meta        *metadata.Store
	loader      *loader.Loader
	settings    Settings

	lockMu sync.Mutex
	held   bool

	values *lru.Cache[uint64, *Values]
}

// New creates a data source for sql on p. p must be connected.
func New(p provider.Provider, sql string, opts Options) (*DataSource, error) {
	opts = opts.withDefaults()
	desc, err := query.NewDescriptor(sql, opts.Optimization)
	if err != nil {
		return nil, err
	}
	id := query.Fingerprint(sql, opts.Salt)
	if opts.Prefix == "" {
		opts.Prefix = "ds_" + id.Short()
	}
	if opts.ID == "" {
		opts.ID = string(id)
	}
	values, err := lru.New[uint64, *Values](opts.ValuesCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create values cache: %w", err)
	}

	logger := opts.Logger.With(slog.String("component", "datasource"), slog.String("context_id", id.Short()))
	return &DataSource{
		opts:      opts,
		desc:      desc,
		contextID: id,
		mgr:       conn.NewManager(p, opts.Logger),
		bus:       events.New(),
		logger:    logger,
		values:    values,
	}, nil
}

// ContextID returns the fingerprint of the query.
func (ds *DataSource) ContextID() query.ContextID { return ds.contextID }

// Editable reports whether cell values can be edited.
func (ds *DataSource) Editable() bool { return ds.desc.Editable() }

// Initialized reports whether Init has succeeded.
func (ds *DataSource) Initialized() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.initialized
}

// Init materializes the query, prepares the metadata tables, restores
// persisted settings and builds the effective query. A failed Init leaves
// the data source uninitialized; calling it again retries.
func (ds *DataSource) Init(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.initialized {
		return nil
	}
	if err := ds.init(ctx); err != nil {
		ds.logger.Warn("initialization failed", slog.String("error", err.Error()))
		return err
	}
	ds.initialized = true
	ds.logger.Info("data source initialized",
		slog.String("optimization", ds.base.Kind.String()),
		slog.Int64("rows", ds.loader.RowCount()))
	ds.bus.Emit(events.Event{Kind: events.Load, RowCount: ds.loader.RowCount()})
	return nil
}

func (ds *DataSource) init(ctx context.Context) error {
	if err := ds.acquire(ctx); err != nil {
		return err
	}
	id, err := ds.mgr.Open(ctx, initSlot)
	if err != nil {
		return err
	}
	defer func() {
		if err := ds.mgr.Close(context.WithoutCancel(ctx), initSlot); err != nil {
			ds.logger.Warn("failed to close init connection", slog.String("error", err.Error()))
		}
	}()

	if _, err := ds.mgr.Exec(ctx, id, "CREATE SCHEMA IF NOT EXISTS "+clause.QuoteIdent(ds.opts.Schema)); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	base, err := query.NewOptimizer(ds.mgr, ds.opts.Logger).Optimize(ctx, id, ds.desc, ds.opts.Schema, ds.opts.Prefix+"_base")
	if err != nil {
		return err
	}
	cols, err := query.Describe(ctx, ds.mgr, id, base.Ref)
	if err != nil {
		return err
	}

	meta := metadata.New(ds.mgr, ds.opts.Schema, ds.opts.Prefix, ds.opts.Logger)
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	if err := meta.Init(ctx, ids); err != nil {
		return err
	}

	builder := &loader.Builder{Base: base.Ref, HasRowID: base.HasRowID(), Meta: meta, Now: ds.opts.Now, Logger: ds.opts.Logger}
	ld := loader.New(ds.mgr, meta, builder, loader.Config{Schema: ds.opts.Schema, Prefix: ds.opts.Prefix}, ds.opts.Logger)

	ds.base, ds.baseColumns, ds.meta, ds.loader = base, cols, meta, ld

	settings := ds.restore(ctx)
	if _, err := ld.Rebuild(ctx, ds.loaderState(settings)); err != nil {
		if isEmpty(settings) {
			return err
		}
		ds.logger.Warn("restored settings do not apply, starting fresh", slog.String("error", err.Error()))
		settings = Settings{}
		if _, err := ld.Rebuild(ctx, ds.loaderState(settings)); err != nil {
			return err
		}
	}
	if err := meta.AddColumns(ctx, virtualIDs(settings)); err != nil {
		return err
	}
	ds.settings = settings
	return nil
}

// restore loads persisted settings saved for the same query.
func (ds *DataSource) restore(ctx context.Context) Settings {
	if ds.opts.State == nil {
		return Settings{}
	}
	rec, ok, err := ds.opts.State.Load(ctx, ds.opts.ID)
	if err != nil {
		ds.logger.Warn("failed to load settings", slog.String("error", err.Error()))
		return Settings{}
	}
	if !ok {
		return Settings{}
	}
	if rec.Fingerprint != string(ds.contextID) {
		ds.logger.Info("ignoring settings saved for another query")
		return Settings{}
	}
	return rec.Settings
}

// Preload initializes the data source if needed and loads the first page,
// or every row when the result is small enough.
func (ds *DataSource) Preload(ctx context.Context) error {
	if err := ds.Init(ctx); err != nil {
		return err
	}
	ld := ds.loaderRef()
	n := ld.RowCount()
	r := core.Range{Start: 0, End: ds.opts.PageSize - 1}
	if ds.opts.LoadAll.Allows(n, len(ds.Columns())) {
		r.End = n - 1
	}
	if err := ld.Load(ctx, r); err != nil {
		return err
	}
	ds.bus.Emit(events.Event{Kind: events.Load, RowCount: n})
	return nil
}

func (ds *DataSource) loaderRef() *loader.Loader {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.loader
}

func (ds *DataSource) ready() (*loader.Loader, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.initialized {
		return nil, ErrNotInitialized
	}
	return ds.loader, nil
}

// Columns returns the base columns followed by the virtual columns, with
// widths and default styles applied.
func (ds *DataSource) Columns() []core.Column {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return columnsOf(ds.baseColumns, ds.settings)
}

func columnsOf(base []core.Column, s Settings) []core.Column {
	out := make([]core.Column, 0, len(base)+len(s.VirtualColumns))
	out = append(out, base...)
	out = append(out, s.VirtualColumns...)
	for i := range out {
		if w, ok := s.ColumnWidths[out[i].ID]; ok {
			out[i].Width = w
		}
		if st, ok := s.DefaultStyles[out[i].ID]; ok {
			out[i].DefaultStyle = st.Clone()
		}
	}
	return out
}

// RowCount returns the number of rows of the effective query.
func (ds *DataSource) RowCount() int64 {
	ld, err := ds.ready()
	if err != nil {
		return 0
	}
	return ld.RowCount()
}

// Summary returns the grand total of the filtered rows.
func (ds *DataSource) Summary() (Summary, error) {
	ld, err := ds.ready()
	if err != nil {
		return Summary{}, err
	}
	return ld.Summary(), nil
}

// EffectiveSQL returns the SQL of the effective query.
func (ds *DataSource) EffectiveSQL() string {
	ld, err := ds.ready()
	if err != nil {
		return ""
	}
	return ld.Plan().SQL
}

// GetGroupSummary returns the summary tree of one column over the current
// groups. Columns without an aggregation are counted.
func (ds *DataSource) GetGroupSummary(ctx context.Context, columnID string) (*SummaryNode, core.AggregationFn, error) {
	ld, err := ds.ready()
	if err != nil {
		return nil, "", err
	}
	if err := ds.acquire(ctx); err != nil {
		return nil, "", err
	}
	return ld.GroupSummary(ctx, columnID)
}

// Load loads a row window into the cache and waits for it.
func (ds *DataSource) Load(ctx context.Context, r core.Range) error {
	ld, err := ds.ready()
	if err != nil {
		return err
	}
	if err := ds.acquire(ctx); err != nil {
		return err
	}
	return ld.Load(ctx, r)
}

// Subscribe calls fn for events of the given kinds, or of every kind.
func (ds *DataSource) Subscribe(fn func(Event), kinds ...EventKind) Token {
	return ds.bus.On(fn, kinds...)
}

// Unsubscribe removes a subscription.
func (ds *DataSource) Unsubscribe(t Token) { ds.bus.Off(t) }

// acquire takes the database lock when one is configured and not held.
func (ds *DataSource) acquire(ctx context.Context) error {
	if ds.opts.Lock == nil {
		return nil
	}
	ds.lockMu.Lock()
	defer ds.lockMu.Unlock()
	if ds.held {
		return nil
	}
	ok, err := ds.opts.Lock.Acquire(ctx, ds.opts.LockName)
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", ds.opts.LockName, err)
	}
	if !ok {
		return ErrLockDenied
	}
	ds.held = true
	return nil
}

// Release drains every connection, letting pending queries finish. It is
// the release callback of the database lock; the lock is taken again by
// the next operation.
func (ds *DataSource) Release(ctx context.Context) error {
	if err := ds.mgr.Drain(ctx); err != nil {
		return err
	}
	ds.lockMu.Lock()
	ds.held = false
	ds.lockMu.Unlock()
	ds.logger.Debug("connections released")
	return nil
}

// Close drains every connection and gives up the database lock.
func (ds *DataSource) Close(ctx context.Context) error {
	if err := ds.mgr.Drain(ctx); err != nil {
		return err
	}
	ds.lockMu.Lock()
	defer ds.lockMu.Unlock()
	if ds.opts.Lock != nil && ds.held {
		ds.held = false
		return ds.opts.Lock.Release(ctx, ds.opts.LockName)
	}
	return nil
}

func (ds *DataSource) loaderState(s Settings) loader.State {
	return loader.State{
		Columns:      columnsOf(ds.baseColumns, s),
		Filter:       s.Filter,
		Sorters:      s.Sorters,
		Groups:       s.Groups,
		Aggregations: s.Aggregations,
		Subtotals:    s.Subtotals,
	}
}

func isEmpty(s Settings) bool {
	return len(s.Sorters) == 0 && len(s.Groups) == 0 && s.Filter.IsEmpty() &&
		len(s.Aggregations) == 0 && len(s.VirtualColumns) == 0 && len(s.DefaultStyles) == 0
}

func virtualIDs(s Settings) []string {
	ids := make([]string, len(s.VirtualColumns))
	for i, c := range s.VirtualColumns {
		ids[i] = c.ID
	}
	return ids
}
