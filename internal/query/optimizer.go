package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/leapstack-labs/gridsource/internal/conn"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

// Executor is what the optimizer needs from the connection layer.
type Executor interface {
	conn.Querier
	Append(ctx context.Context, id provider.ConnID, schema, table string, fill func(add func(values ...any) error) error) error
}

// Result describes the materialized base query.
type Result struct {
	// Name is the generated view or table name; empty for None.
	Name string
	// EscapedRef is the FROM-clause text of the base relation.
	EscapedRef string
	// Ref is the base relation as a clause table reference.
	Ref clause.TableRef
	// Kind is the optimization that was applied.
	Kind OptimizationKind
	// CopiedRowCount is set in copy mode.
	CopiedRowCount *int64
}

// HasRowID reports whether the base relation is a table with a physical
// rowid.
func (r *Result) HasRowID() bool { return r.Kind == CreateTable }

// OptimizeError reports a failed materialization.
type OptimizeError struct {
	Kind OptimizationKind
	Name string
	Err  error
}

func (e *OptimizeError) Error() string {
	return fmt.Sprintf("failed to create %s %s: %v", e.Kind, e.Name, e.Err)
}

func (e *OptimizeError) Unwrap() error { return e.Err }

// DefaultInsertBatch is the row count per INSERT when the provider cannot
// append.
const DefaultInsertBatch = 500

// Optimizer materializes base queries.
type Optimizer struct {
	db          Executor
	logger      *slog.Logger
	insertBatch int
}

// NewOptimizer creates an optimizer.
func NewOptimizer(db Executor, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Optimizer{db: db, logger: logger.With(slog.String("component", "optimizer")), insertBatch: DefaultInsertBatch}
}

// WrapStatement renders CREATE OR REPLACE {VIEW|TABLE} ref AS (sql).
func WrapStatement(kind OptimizationKind, ref, sql string) string {
	obj := "VIEW"
	if kind == CreateTable {
		obj = "TABLE"
	}
	return fmt.Sprintf("CREATE OR REPLACE %s %s AS (\n%s\n)", obj, ref, Sanitize(sql))
}

// Optimize materializes d as schema.name according to its kind. Failures
// leave whatever the engine created in place.
func (o *Optimizer) Optimize(ctx context.Context, id provider.ConnID, d *Descriptor, schema, name string) (*Result, error) {
	ref := clause.QualifiedName(schema, name)

	switch {
	case d.Kind() == None:
		body := Sanitize(d.SQL())
		return &Result{
			EscapedRef: "(" + body + ")",
			Ref:        clause.RawQuery{SQL: body},
			Kind:       None,
		}, nil

	case d.CopyMode():
		n, err := o.copyRows(ctx, id, d.SQL(), schema, name)
		if err != nil {
			return nil, &OptimizeError{Kind: CreateTable, Name: ref, Err: err}
		}
		o.logger.Info("query copied", slog.String("table", ref), slog.Int64("rows", n))
		return &Result{Name: name, EscapedRef: ref, Ref: clause.Table{Schema: schema, Name: name}, Kind: CreateTable, CopiedRowCount: &n}, nil

	default:
		stmt := WrapStatement(d.Kind(), ref, d.SQL())
		if _, err := o.db.Exec(ctx, id, stmt); err != nil {
			return nil, &OptimizeError{Kind: d.Kind(), Name: ref, Err: err}
		}
		o.logger.Info("query optimized", slog.String("kind", d.Kind().String()), slog.String("name", ref))
		return &Result{Name: name, EscapedRef: ref, Ref: clause.Table{Schema: schema, Name: name}, Kind: d.Kind()}, nil
	}
}

// copyRows executes sql once, creates a table typed after the result
// columns and streams every row into it.
func (o *Optimizer) copyRows(ctx context.Context, id provider.ConnID, sql, schema, name string) (int64, error) {
	r, err := o.db.Query(ctx, id, sql)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	// Writes go through other connections while the reader holds id.
	cols := UniqueColumnNames(r.Columns())
	ref := clause.QualifiedName(schema, name)
	if _, err := o.db.Exec(ctx, "", CreateTableSQL(ref, cols)); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}

	var n int64
	err = o.db.Append(ctx, "", schema, name, func(add func(values ...any) error) error {
		for r.Next() {
			vals, err := r.Values()
			if err != nil {
				return err
			}
			if err := add(vals...); err != nil {
				return err
			}
			n++
		}
		return r.Err()
	})
	if errors.Is(err, errors.ErrUnsupported) {
		return o.insertRows(ctx, r, ref, cols)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (o *Optimizer) insertRows(ctx context.Context, r provider.RowReader, ref string, cols []provider.ColumnType) (int64, error) {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = clause.QuoteIdent(c.Name)
	}

	var n int64
	flush := func(rows [][]any) error {
		if len(rows) == 0 {
			return nil
		}
		ins := sq.Insert(ref).Columns(names...).PlaceholderFormat(sq.Question)
		for _, row := range rows {
			ins = ins.Values(row...)
		}
		stmt, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if _, err := o.db.Exec(ctx, "", stmt, args...); err != nil {
			return fmt.Errorf("failed to insert rows: %w", err)
		}
		n += int64(len(rows))
		return nil
	}

	batch := make([][]any, 0, o.insertBatch)
	for r.Next() {
		vals, err := r.Values()
		if err != nil {
			return n, err
		}
		batch = append(batch, vals)
		if len(batch) == o.insertBatch {
			if err := flush(batch); err != nil {
				return n, err
			}
			batch = batch[:0]
		}
	}
	if err := r.Err(); err != nil {
		return n, err
	}
	if err := flush(batch); err != nil {
		return n, err
	}
	return n, nil
}

// CreateTableSQL renders a CREATE OR REPLACE TABLE statement for cols.
// Columns without a reported type become VARCHAR.
func CreateTableSQL(ref string, cols []provider.ColumnType) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := strings.TrimSpace(c.DatabaseType)
		if typ == "" {
			typ = "VARCHAR"
		}
		defs[i] = clause.QuoteIdent(c.Name) + " " + typ
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", ref, strings.Join(defs, ", "))
}

// UniqueColumnNames renames duplicate and empty column names so the result
// can be stored in a table.
func UniqueColumnNames(cols []provider.ColumnType) []provider.ColumnType {
	out := make([]provider.ColumnType, len(cols))
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("column%d", i)
		}
		candidate := name
		for k := 1; seen[strings.ToLower(candidate)]; k++ {
			candidate = fmt.Sprintf("%s_%d", name, k)
		}
		seen[strings.ToLower(candidate)] = true
		out[i] = provider.ColumnType{Name: candidate, DatabaseType: c.DatabaseType}
	}
	return out
}

// Describe returns the columns of a relation.
func Describe(ctx context.Context, db conn.Querier, id provider.ConnID, from clause.TableRef) ([]core.Column, error) {
	stmt := "DESCRIBE " + clause.Render(clause.From(from))
	res, err := db.QueryAll(ctx, id, stmt, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to describe query: %w", err)
	}
	nameIdx, typeIdx := res.ColumnIndex("column_name"), res.ColumnIndex("column_type")
	if nameIdx < 0 || typeIdx < 0 {
		return nil, fmt.Errorf("unexpected DESCRIBE result columns")
	}
	cols := make([]core.Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		name := fmt.Sprint(row[nameIdx])
		cols = append(cols, core.Column{ID: name, Name: name, Type: fmt.Sprint(row[typeIdx])})
	}
	return cols, nil
}
