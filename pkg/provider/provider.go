// Package provider defines the connection-oriented SQL contract the data
// source consumes, together with the single-writer lock contract.
//
// Concrete providers are in pkg/adapters/ subdirectories and register
// themselves by name.
package provider

import (
	"context"
)

// ConnID identifies a connection opened with CreateConnection. The empty
// ConnID addresses a pooled one-off connection.
type ConnID string

// Config holds configuration for opening a provider.
type Config struct {
	Type string
	// Path is the database file; empty or ":memory:" is in-memory.
	Path string
	// Params holds provider-specific options decoded by the provider.
	Params map[string]any
}

// ColumnType describes one result column.
type ColumnType struct {
	Name string
	// DatabaseType is the engine type name, e.g. "VARCHAR".
	DatabaseType string
}

// RowReader streams the rows of a query.
type RowReader interface {
	Columns() []ColumnType
	Next() bool
	// Values returns the current row.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Result is a fully read query result.
type Result struct {
	Columns []ColumnType
	Rows    [][]any
	// Limited is set when reading stopped at the requested limit while more
	// rows were available.
	Limited bool
}

// ColumnIndex returns the position of the named column, or -1.
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Provider is the SQL engine collaborator.
type Provider interface {
	// Connect opens the underlying database.
	Connect(ctx context.Context, cfg Config) error

	// Close closes every connection and the database.
	Close() error

	// CreateConnection opens a dedicated connection.
	CreateConnection(ctx context.Context) (ConnID, error)

	// CloseConnection closes a connection opened with CreateConnection.
	CloseConnection(ctx context.Context, id ConnID) error

	// Query runs a statement and streams its rows.
	Query(ctx context.Context, id ConnID, sql string, args ...any) (RowReader, error)

	// QueryAll runs a statement and reads at most limit rows (0 reads all).
	QueryAll(ctx context.Context, id ConnID, sql string, limit int, args ...any) (*Result, error)

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, id ConnID, sql string, args ...any) (int64, error)
}

// Appender is implemented by providers that support bulk row insertion.
type Appender interface {
	// Append opens a bulk appender on schema.table and calls fill with a
	// function that appends one row. Rows are flushed when fill returns nil.
	Append(ctx context.Context, id ConnID, schema, table string, fill func(add func(values ...any) error) error) error
}

// Lock arbitrates exclusive access to a persisted database file.
type Lock interface {
	// Acquire blocks until the resource is held or ctx ends. It reports
	// false when the lock could not be obtained.
	Acquire(ctx context.Context, resource string) (bool, error)

	// Release gives up the resource.
	Release(ctx context.Context, resource string) error
}

// ReleaseFunc is called by a lock when another holder needs the resource.
// It must close every connection, letting pending queries finish, before
// returning.
type ReleaseFunc func(ctx context.Context) error
