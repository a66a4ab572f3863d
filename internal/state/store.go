// Package state persists data source settings in SQLite so a data source
// reopened on the same query restores its view.
package state

import (
	"context"

	"github.com/leapstack-labs/gridsource/internal/filter"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// Settings is the persisted view of a data source.
type Settings struct {
	Sorters      []core.Sorter                 `json:"sorters,omitempty"`
	Groups       []core.Group                  `json:"groups,omitempty"`
	Filter       filter.Target                 `json:"filter"`
	Aggregations map[string]core.AggregationFn `json:"aggregations,omitempty"`
	Subtotals    bool                          `json:"subtotals,omitempty"`
	ColumnWidths map[string]int                `json:"columnWidths,omitempty"`

	// DefaultStyles are column-level styles by column id.
	DefaultStyles map[string]*core.Style `json:"defaultStyles,omitempty"`

	// VirtualColumns are restored in order after the base columns.
	VirtualColumns []core.Column `json:"virtualColumns,omitempty"`
}

// Record is a stored settings row.
type Record struct {
	ID        string
	ContextID string
	// Fingerprint identifies the query the settings were saved for.
	Fingerprint string
	Settings    Settings
}

// Store saves settings by context id.
type Store interface {
	Save(ctx context.Context, contextID, fingerprint string, s Settings) error
	// Load returns false when nothing is stored for contextID.
	Load(ctx context.Context, contextID string) (Record, bool, error)
	Delete(ctx context.Context, contextID string) error
	Close() error
}
