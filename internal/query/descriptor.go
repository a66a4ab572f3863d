// Package query classifies, fingerprints and optimizes the base query of a
// data source.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/gridsource/pkg/lexer"
	"github.com/leapstack-labs/gridsource/pkg/token"
)

// ErrEmptyQuery is returned for SQL with no statements.
var ErrEmptyQuery = errors.New("query is empty")

// OptimizationKind selects how the base query is materialized.
type OptimizationKind int

// Optimization kinds.
const (
	// None reads the base query inline as a subquery.
	None OptimizationKind = iota
	// CreateView wraps the base query in a view.
	CreateView
	// CreateTable materializes the base query into a table.
	CreateTable
)

func (k OptimizationKind) String() string {
	switch k {
	case CreateView:
		return "view"
	case CreateTable:
		return "table"
	default:
		return "none"
	}
}

// ParseOptimizationKind parses "none", "view" or "table".
func ParseOptimizationKind(s string) (OptimizationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "view":
		return CreateView, nil
	case "table":
		return CreateTable, nil
	}
	return None, fmt.Errorf("unknown optimization %q (want none, view or table)", s)
}

// Descriptor is the immutable description of a base query.
type Descriptor struct {
	sql      string
	readOnly bool
	kind     OptimizationKind
}

// NewDescriptor classifies sql. A query that is not read-only cannot be
// read as a subquery or through a view, so it is always materialized into
// a table (copy mode) whatever kind was requested.
func NewDescriptor(sql string, kind OptimizationKind) (*Descriptor, error) {
	toks := lexer.Significant(sql)
	stmts := statements(sql)
	if len(toks) == 0 || stmts == 0 {
		return nil, ErrEmptyQuery
	}
	d := &Descriptor{sql: sql, readOnly: stmts == 1 && isReadStart(toks[0]), kind: kind}
	if !d.readOnly {
		d.kind = CreateTable
	}
	return d, nil
}

// SQL returns the query text as given.
func (d *Descriptor) SQL() string { return d.sql }

// IsReadOnly reports whether the query is a single row-returning statement
// that can be composed as a subquery.
func (d *Descriptor) IsReadOnly() bool { return d.readOnly }

// Kind returns the effective optimization kind.
func (d *Descriptor) Kind() OptimizationKind { return d.kind }

// Editable reports whether rows of the materialized query can be edited in
// place. Only a materialized table has stable, writable rows.
func (d *Descriptor) Editable() bool { return d.kind == CreateTable }

// CopyMode reports whether the query must be executed and its rows copied
// into a freshly typed table.
func (d *Descriptor) CopyMode() bool { return !d.readOnly }

var readStarts = map[string]bool{
	"select": true, "with": true, "from": true, "values": true,
	"table": true, "pivot": true, "unpivot": true,
}

func isReadStart(tok token.Token) bool {
	if tok.Type == token.PUNCT && tok.Literal == "(" {
		return true
	}
	return tok.Type == token.KEYWORD && readStarts[strings.ToLower(tok.Literal)]
}

// statements counts the non-empty statements in sql.
func statements(sql string) int {
	n := 0
	pending := false
	for _, tok := range lexer.Tokenize(sql) {
		switch {
		case tok.Type == token.TERMINATOR || tok.Type == token.EOF:
			if pending {
				n++
				pending = false
			}
		case !token.IsTrivia(tok.Type):
			pending = true
		}
	}
	return n
}
