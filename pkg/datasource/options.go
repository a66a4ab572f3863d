package datasource

import (
	"log/slog"
	"time"

	"github.com/leapstack-labs/gridsource/internal/events"
	"github.com/leapstack-labs/gridsource/internal/filter"
	"github.com/leapstack-labs/gridsource/internal/loader"
	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/internal/query"
	"github.com/leapstack-labs/gridsource/internal/state"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

// Types of the internal packages that are part of the data source API.
type (
	// Optimization selects how the base query is materialized.
	Optimization = query.OptimizationKind

	// Filter is a simple or advanced filter.
	Filter = filter.Target
	// FilterGroup is a node of an advanced filter.
	FilterGroup = filter.Group
	// FilterRule is a condition or a nested group.
	FilterRule = filter.Rule
	// Condition is a leaf predicate.
	Condition = filter.Condition
	// Operator is the comparison of a condition.
	Operator = filter.Operator
	// ColumnRules is the simple filter of one column.
	ColumnRules = filter.ColumnRules

	// Event is a change notification.
	Event = events.Event
	// EventKind is the type of a change notification.
	EventKind = events.Kind
	// Token identifies a subscription.
	Token = events.Token

	// SummaryNode is a node of a group summary tree.
	SummaryNode = loader.SummaryNode
	// Summary is the grand total of the filtered rows.
	Summary = loader.Summary

	// CellRef addresses one cell by row id and column id.
	CellRef = metadata.Cell

	// Settings is the persisted view of a data source.
	Settings = state.Settings
	// SettingsStore persists settings between sessions.
	SettingsStore = state.Store
)

// Optimization kinds.
const (
	OptimizeNone  = query.None
	OptimizeView  = query.CreateView
	OptimizeTable = query.CreateTable
)

// Filter operators that take a list of values.
const (
	OpIn      = filter.OpIn
	OpNotIn   = filter.OpNotIn
	OpBetween = filter.OpBetween
)

// Event kinds.
const (
	EventSort      = events.Sort
	EventFilter    = events.Filter
	EventDataGroup = events.DataGroup
	EventData      = events.Data
	EventSettings  = events.Settings
	EventLoad      = events.Load
)

// Defaults of Options.
const (
	DefaultSchema      = "gridsource"
	DefaultPageSize    = 200
	DefaultSampleLimit = 10000
	// DefaultValuesCacheSize is the number of filterable value lists kept.
	DefaultValuesCacheSize = 64
)

// DefaultLoadAll loads sources of up to 1000 rows and 50 columns eagerly.
func DefaultLoadAll() core.LoadAllThreshold {
	return core.LoadAllThreshold{Rows: core.Ptr(int64(1000)), Columns: core.Ptr(50)}
}

// Options configures a data source.
type Options struct {
	// ID keys persisted settings. Defaults to the query's context id.
	ID string
	// Salt is mixed into the context id.
	Salt string
	// Schema holds the generated tables and views.
	Schema string
	// Prefix names the generated objects. Defaults to "ds_" plus the short
	// context id.
	Prefix       string
	Optimization Optimization

	PageSize       int64
	SampleLimit    int64
	MaxSimpleRules int
	LoadAll        *core.LoadAllThreshold

	// Lock, when set, is acquired on LockName before any connection is
	// opened. Register DataSource.Release as its release callback.
	Lock     provider.Lock
	LockName string

	// State persists settings when set.
	State SettingsStore

	ValuesCacheSize int
	Now             func() time.Time
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Schema == "" {
		o.Schema = DefaultSchema
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.SampleLimit <= 0 {
		o.SampleLimit = DefaultSampleLimit
	}
	if o.MaxSimpleRules <= 0 {
		o.MaxSimpleRules = filter.DefaultMaxRules
	}
	if o.LoadAll == nil {
		t := DefaultLoadAll()
		o.LoadAll = &t
	}
	if o.ValuesCacheSize <= 0 {
		o.ValuesCacheSize = DefaultValuesCacheSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
