package loader

import (
	"sync"

	"github.com/leapstack-labs/gridsource/internal/metadata"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// Row is one loaded row of the effective query.
type Row struct {
	Index int64
	Kind  core.RowKind
	// Level is the grouping depth: 0 for outermost group rows, the number
	// of groups for data rows.
	Level int
	// RowID is nil on group and subtotal rows.
	RowID *int64
	// Data holds the values of data columns by column id.
	Data map[string]any
	// Groups holds the group value of each grouped level of a group or
	// subtotal row by column id.
	Groups map[string]any
	// Count is the number of rows of a group.
	Count *int64
	// Summary holds the aggregates of a group by column id.
	Summary map[string]any
	// Meta holds cell metadata by column id.
	Meta metadata.Row
}

// Cache holds loaded rows by absolute index. Every Clear starts a new
// generation; rows loaded under an older generation are dropped.
type Cache struct {
	mu   sync.RWMutex
	gen  uint64
	rows map[int64]*Row
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{rows: make(map[int64]*Row)}
}

// Generation returns the current generation.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Clear drops every row and starts a new generation.
func (c *Cache) Clear() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.rows = make(map[int64]*Row)
	return c.gen
}

// Put stores rows loaded under gen. It reports false and stores nothing
// when the cache has moved on to a newer generation.
func (c *Cache) Put(gen uint64, rows []*Row) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	for _, r := range rows {
		c.rows[r.Index] = r
	}
	return true
}

// Get returns the row at index i.
func (c *Cache) Get(i int64) (*Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rows[i]
	return r, ok
}

// Len returns the number of cached rows.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// OptimizeRange trims the cached prefix and suffix of r. It returns nil
// when every row of r is cached.
func (c *Cache) OptimizeRange(r core.Range) *core.Range {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start, end := r.Start, r.End
	for start <= end {
		if _, ok := c.rows[start]; !ok {
			break
		}
		start++
	}
	if start > end {
		return nil
	}
	for end > start {
		if _, ok := c.rows[end]; !ok {
			break
		}
		end--
	}
	return &core.Range{Start: start, End: end}
}
