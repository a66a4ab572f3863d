package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrNotConnected is returned when the database has not been opened.
var ErrNotConnected = errors.New("database connection not established")

// BaseSQLProvider provides common database/sql functionality for providers.
// Embed this struct in concrete provider implementations to get standard
// connection tracking, Query, QueryAll, Exec and Close implementations.
type BaseSQLProvider struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger

	mu    sync.Mutex
	conns map[ConnID]*sql.Conn
}

// Close closes every tracked connection and the database.
func (b *BaseSQLProvider) Close() error {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.DB != nil {
		b.log().Debug("closing database connection")
		if err := b.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLProvider) IsConnected() bool {
	return b.DB != nil
}

// CreateConnection opens a dedicated connection from the pool.
func (b *BaseSQLProvider) CreateConnection(ctx context.Context) (ConnID, error) {
	if b.DB == nil {
		return "", ErrNotConnected
	}
	c, err := b.DB.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open connection: %w", err)
	}
	id := ConnID(uuid.NewString())

	b.mu.Lock()
	if b.conns == nil {
		b.conns = make(map[ConnID]*sql.Conn)
	}
	b.conns[id] = c
	b.mu.Unlock()

	b.log().Debug("connection opened", slog.String("conn", string(id)))
	return id, nil
}

// CloseConnection closes a connection opened with CreateConnection.
// Closing an unknown id is a no-op.
func (b *BaseSQLProvider) CloseConnection(_ context.Context, id ConnID) error {
	b.mu.Lock()
	c, ok := b.conns[id]
	delete(b.conns, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	b.log().Debug("connection closed", slog.String("conn", string(id)))
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Conn resolves a connection id. The empty id resolves to nil, meaning the
// pool.
func (b *BaseSQLProvider) Conn(id ConnID) (*sql.Conn, error) {
	if id == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[id]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", id)
	}
	return c, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *BaseSQLProvider) target(id ConnID) (queryer, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	c, err := b.Conn(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return b.DB, nil
	}
	return c, nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLProvider) Exec(ctx context.Context, id ConnID, sqlStr string, args ...any) (int64, error) {
	q, err := b.target(id)
	if err != nil {
		return 0, err
	}
	b.log().Debug("exec", slog.String("sql", sqlStr))
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute SQL: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // drivers without row counts
	}
	return n, nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLProvider) Query(ctx context.Context, id ConnID, sqlStr string, args ...any) (RowReader, error) {
	q, err := b.target(id)
	if err != nil {
		return nil, err
	}
	b.log().Debug("query", slog.String("sql", sqlStr))
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return newSQLRows(rows)
}

// QueryAll executes a statement and reads up to limit rows.
func (b *BaseSQLProvider) QueryAll(ctx context.Context, id ConnID, sqlStr string, limit int, args ...any) (*Result, error) {
	r, err := b.Query(ctx, id, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	return ReadAll(r, limit)
}

func (b *BaseSQLProvider) log() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

// ReadAll drains a reader into a Result, stopping after limit rows when
// limit > 0. The reader is closed.
func ReadAll(r RowReader, limit int) (*Result, error) {
	defer func() { _ = r.Close() }()

	res := &Result{Columns: r.Columns()}
	for r.Next() {
		if limit > 0 && len(res.Rows) == limit {
			res.Limited = true
			break
		}
		vals, err := r.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return res, nil
}

// sqlRows adapts *sql.Rows to RowReader.
type sqlRows struct {
	rows *sql.Rows
	cols []ColumnType
}

func newSQLRows(rows *sql.Rows) (*sqlRows, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	cols := make([]ColumnType, len(types))
	for i, ct := range types {
		cols[i] = ColumnType{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func (r *sqlRows) Columns() []ColumnType { return r.cols }
func (r *sqlRows) Next() bool            { return r.rows.Next() }
func (r *sqlRows) Err() error            { return r.rows.Err() }
func (r *sqlRows) Close() error          { return r.rows.Close() }

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return vals, nil
}
