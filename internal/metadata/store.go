// Package metadata stores per-cell style and hyperlink overrides next to a
// data source.
//
// Two tables back a store: the meta table maps a row id to one ref id per
// column (plus the reserved row key), and the ref table maps ref ids to
// deduplicated metadata blobs encoded as JSON. Identical blobs always share
// one ref id.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leapstack-labs/gridsource/internal/conn"
	"github.com/leapstack-labs/gridsource/pkg/clause"
	"github.com/leapstack-labs/gridsource/pkg/core"
)

// Reserved column names.
const (
	// RowKey is the meta column holding row-level metadata.
	RowKey = "__row"
	// RowIDColumn is the primary key of the meta table.
	RowIDColumn = "__row_id"
	// RefIDColumn is the primary key of the ref table.
	RefIDColumn = "ref_id"
	// BlobColumn holds the encoded blob in the ref table.
	BlobColumn = "meta"
)

// DefaultCacheSize bounds each of the store's blob caches.
const DefaultCacheSize = 4096

// ErrUnknownColumn is returned for a column the store has no meta column for.
var ErrUnknownColumn = errors.New("unknown metadata column")

// Store is the metadata overlay of one data source. Writes are serialized
// by an in-process mutex; cross-process writers must hold the database lock.
type Store struct {
	db     conn.Querier
	schema string
	meta   clause.Table
	ref    clause.Table
	logger *slog.Logger

	mu      sync.Mutex
	columns map[string]bool
	nextRef int64
	byBlob  *lru.Cache[string, int64]
	byID    *lru.Cache[int64, *core.Blob]
}

// New creates a store whose tables are schema.<prefix>_meta and
// schema.<prefix>_ref. Call Init before use.
func New(db conn.Querier, schema, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	byBlob, _ := lru.New[string, int64](DefaultCacheSize)
	byID, _ := lru.New[int64, *core.Blob](DefaultCacheSize)
	return &Store{
		db:      db,
		schema:  schema,
		meta:    clause.Table{Schema: schema, Name: prefix + "_meta"},
		ref:     clause.Table{Schema: schema, Name: prefix + "_ref"},
		logger:  logger.With(slog.String("component", "metadata")),
		columns: map[string]bool{RowKey: true},
		nextRef: 1,
		byBlob:  byBlob,
		byID:    byID,
	}
}

// MetaTable returns the meta table.
func (s *Store) MetaTable() clause.Table { return s.meta }

// RefTable returns the ref table.
func (s *Store) RefTable() clause.Table { return s.ref }

func (s *Store) metaRef() string { return clause.QualifiedName(s.meta.Schema, s.meta.Name) }
func (s *Store) refRef() string  { return clause.QualifiedName(s.ref.Schema, s.ref.Name) }

// Init creates the tables if missing, adds a meta column for every column
// id and recovers the ref counter from the ref table.
func (s *Store) Init(ctx context.Context, columnIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", clause.QuoteIdent(s.schema)),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT PRIMARY KEY, %s INTEGER)",
			s.metaRef(), clause.QuoteIdent(RowIDColumn), clause.QuoteIdent(RowKey)),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY, %s VARCHAR NOT NULL)",
			s.refRef(), clause.QuoteIdent(RefIDColumn), clause.QuoteIdent(BlobColumn)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, "", stmt); err != nil {
			return fmt.Errorf("failed to create metadata tables: %w", err)
		}
	}
	if err := s.addColumnsLocked(ctx, columnIDs); err != nil {
		return err
	}

	res, err := s.db.QueryAll(ctx, "", fmt.Sprintf("SELECT coalesce(max(%s), 0) + 1 FROM %s",
		clause.QuoteIdent(RefIDColumn), s.refRef()), 1)
	if err != nil {
		return fmt.Errorf("failed to read ref counter: %w", err)
	}
	if len(res.Rows) == 1 {
		if n, ok := toInt64(res.Rows[0][0]); ok {
			s.nextRef = n
		}
	}
	s.logger.Debug("metadata store ready",
		slog.String("meta", s.metaRef()), slog.Int64("next_ref", s.nextRef))
	return nil
}

// AddColumns adds meta columns for new column ids, such as virtual columns.
func (s *Store) AddColumns(ctx context.Context, columnIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addColumnsLocked(ctx, columnIDs)
}

func (s *Store) addColumnsLocked(ctx context.Context, columnIDs []string) error {
	for _, id := range columnIDs {
		if s.columns[id] {
			continue
		}
		if id == RowIDColumn {
			return fmt.Errorf("column id %q is reserved", id)
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s INTEGER", s.metaRef(), clause.QuoteIdent(id))
		if _, err := s.db.Exec(ctx, "", stmt); err != nil {
			return fmt.Errorf("failed to add metadata column %s: %w", id, err)
		}
		s.columns[id] = true
	}
	return nil
}

// HasColumn reports whether columnID has a meta column.
func (s *Store) HasColumn(columnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns[columnID]
}

// ===== Blob encoding and dedup =====

// Encode returns the canonical encoding of a blob. Structurally equal blobs
// encode to identical bytes.
func Encode(b *core.Blob) (string, error) {
	data, err := json.Marshal(b.Normalize())
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// Decode parses an encoded blob.
func Decode(s string) (*core.Blob, error) {
	var b core.Blob
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return b.Normalize(), nil
}

// RefFor returns the ref id of b, inserting it when no equal blob is stored.
// An empty blob has no ref.
func (s *Store) RefFor(ctx context.Context, b *core.Blob) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refForLocked(ctx, b)
}

func (s *Store) refForLocked(ctx context.Context, b *core.Blob) (*int64, error) {
	if b.IsEmpty() {
		return nil, nil
	}
	enc, err := Encode(b)
	if err != nil {
		return nil, err
	}
	if id, ok := s.byBlob.Get(enc); ok {
		return &id, nil
	}

	stmt, args, err := sq.Select(clause.QuoteIdent(RefIDColumn)).
		From(s.refRef()).
		Where(sq.Eq{clause.QuoteIdent(BlobColumn): enc}).
		Limit(1).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ref lookup: %w", err)
	}
	res, err := s.db.QueryAll(ctx, "", stmt, 1, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up ref: %w", err)
	}
	if len(res.Rows) == 1 {
		if id, ok := toInt64(res.Rows[0][0]); ok {
			s.remember(id, enc, b)
			return &id, nil
		}
	}

	id := s.nextRef
	stmt, args, err = sq.Insert(s.refRef()).
		Columns(clause.QuoteIdent(RefIDColumn), clause.QuoteIdent(BlobColumn)).
		Values(id, enc).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ref insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, "", stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to insert ref: %w", err)
	}
	s.nextRef++
	s.remember(id, enc, b)
	s.logger.Debug("metadata ref created", slog.Int64("ref_id", id))
	return &id, nil
}

func (s *Store) remember(id int64, enc string, b *core.Blob) {
	s.byBlob.Add(enc, id)
	s.byID.Add(id, b.Normalize())
}

// Blob returns the blob stored under a ref id.
func (s *Store) Blob(ctx context.Context, refID int64) (*core.Blob, error) {
	if b, ok := s.byID.Get(refID); ok {
		return b.Clone(), nil
	}
	blobs, err := s.blobs(ctx, []int64{refID})
	if err != nil {
		return nil, err
	}
	b, ok := blobs[refID]
	if !ok {
		return nil, fmt.Errorf("metadata ref %d not found", refID)
	}
	return b.Clone(), nil
}

// blobs resolves ref ids, reading the ones not cached in one query.
func (s *Store) blobs(ctx context.Context, ids []int64) (map[int64]*core.Blob, error) {
	out := make(map[int64]*core.Blob, len(ids))
	var missing []int64
	for _, id := range ids {
		if b, ok := s.byID.Get(id); ok {
			out[id] = b
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	stmt, args, err := sq.Select(clause.QuoteIdent(RefIDColumn), clause.QuoteIdent(BlobColumn)).
		From(s.refRef()).
		Where(sq.Eq{clause.QuoteIdent(RefIDColumn): missing}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ref query: %w", err)
	}
	res, err := s.db.QueryAll(ctx, "", stmt, 0, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read refs: %w", err)
	}
	for _, row := range res.Rows {
		id, ok := toInt64(row[0])
		if !ok {
			continue
		}
		enc := fmt.Sprint(row[1])
		b, err := Decode(enc)
		if err != nil {
			return nil, err
		}
		s.byBlob.Add(enc, id)
		s.byID.Add(id, b)
		out[id] = b
	}
	return out, nil
}

// ===== Cell access =====

// Cell addresses one cell of the overlay.
type Cell struct {
	RowID    int64
	ColumnID string
}

// refs returns the current ref of every cell, keyed by cell.
func (s *Store) refs(ctx context.Context, cells []Cell) (map[Cell]*int64, error) {
	byCol := map[string][]int64{}
	for _, c := range cells {
		if !s.columns[c.ColumnID] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, c.ColumnID)
		}
		byCol[c.ColumnID] = append(byCol[c.ColumnID], c.RowID)
	}

	out := make(map[Cell]*int64, len(cells))
	for _, col := range sortedKeys(byCol) {
		stmt, args, err := sq.Select(clause.QuoteIdent(RowIDColumn), clause.QuoteIdent(col)).
			From(s.metaRef()).
			Where(sq.Eq{clause.QuoteIdent(RowIDColumn): byCol[col]}).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build meta query: %w", err)
		}
		res, err := s.db.QueryAll(ctx, "", stmt, 0, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata: %w", err)
		}
		for _, row := range res.Rows {
			rowID, ok := toInt64(row[0])
			if !ok {
				continue
			}
			if ref, ok := toInt64(row[1]); ok {
				out[Cell{RowID: rowID, ColumnID: col}] = &ref
			}
		}
	}
	return out, nil
}

// setRefs points each cell at a ref, inserting meta rows as needed.
func (s *Store) setRefs(ctx context.Context, refs map[Cell]*int64) error {
	cells := make([]Cell, 0, len(refs))
	for c := range refs {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].ColumnID != cells[j].ColumnID {
			return cells[i].ColumnID < cells[j].ColumnID
		}
		return cells[i].RowID < cells[j].RowID
	})

	for _, c := range cells {
		col := clause.QuoteIdent(c.ColumnID)
		var value any
		if ref := refs[c]; ref != nil {
			value = *ref
		}
		stmt, args, err := sq.Insert(s.metaRef()).
			Columns(clause.QuoteIdent(RowIDColumn), col).
			Values(c.RowID, value).
			Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s", clause.QuoteIdent(RowIDColumn), col, col)).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build meta upsert: %w", err)
		}
		if _, err := s.db.Exec(ctx, "", stmt, args...); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}
	return nil
}

// Edit applies fn to the blob of every cell and stores the results. fn
// receives a copy and may return nil to clear the cell.
func (s *Store) Edit(ctx context.Context, cells []Cell, fn func(c Cell, b *core.Blob) *core.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.refs(ctx, cells)
	if err != nil {
		return err
	}
	var ids []int64
	for _, ref := range current {
		ids = append(ids, *ref)
	}
	blobs, err := s.blobs(ctx, ids)
	if err != nil {
		return err
	}

	next := make(map[Cell]*int64, len(cells))
	for _, c := range cells {
		var old *core.Blob
		if ref := current[c]; ref != nil {
			old = blobs[*ref].Clone()
		}
		if old == nil {
			old = &core.Blob{}
		}
		ref, err := s.refForLocked(ctx, fn(c, old))
		if err != nil {
			return err
		}
		if sameRef(ref, current[c]) {
			continue
		}
		next[c] = ref
	}
	return s.setRefs(ctx, next)
}

// EditCellStyle merges patch into the style of one cell.
func (s *Store) EditCellStyle(ctx context.Context, rowID int64, columnID string, patch *core.Style) error {
	return s.Edit(ctx, []Cell{{RowID: rowID, ColumnID: columnID}}, MergeStyle(patch))
}

// EditCellLink sets the hyperlink of one cell; nil removes it.
func (s *Store) EditCellLink(ctx context.Context, rowID int64, columnID string, link *core.Link) error {
	return s.Edit(ctx, []Cell{{RowID: rowID, ColumnID: columnID}}, func(_ Cell, b *core.Blob) *core.Blob {
		if link == nil {
			b.Link = nil
		} else {
			l := *link
			b.Link = &l
		}
		return b
	})
}

// MergeStyle returns an edit that merges patch into a blob's style.
func MergeStyle(patch *core.Style) func(Cell, *core.Blob) *core.Blob {
	return func(_ Cell, b *core.Blob) *core.Blob {
		b.Style = b.Style.Merge(patch)
		return b
	}
}

// GetMetadata returns the blob of one cell, or nil when it has none.
func (s *Store) GetMetadata(ctx context.Context, rowID int64, columnID string) (*core.Blob, error) {
	s.mu.Lock()
	refs, err := s.refs(ctx, []Cell{{RowID: rowID, ColumnID: columnID}})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ref := refs[Cell{RowID: rowID, ColumnID: columnID}]
	if ref == nil {
		return nil, nil
	}
	return s.Blob(ctx, *ref)
}

// Row is the metadata of one row keyed by column id; RowKey holds
// row-level metadata.
type Row map[string]*core.Blob

// LoadRows returns the metadata of the given rows. Rows without metadata
// are absent from the result.
func (s *Store) LoadRows(ctx context.Context, rowIDs []int64) (map[int64]Row, error) {
	if len(rowIDs) == 0 {
		return map[int64]Row{}, nil
	}
	s.mu.Lock()
	cols := make([]string, 0, len(s.columns))
	for c := range s.columns {
		cols = append(cols, c)
	}
	s.mu.Unlock()
	sort.Strings(cols)

	selected := make([]string, 0, len(cols)+1)
	selected = append(selected, clause.QuoteIdent(RowIDColumn))
	for _, c := range cols {
		selected = append(selected, clause.QuoteIdent(c))
	}
	stmt, args, err := sq.Select(selected...).
		From(s.metaRef()).
		Where(sq.Eq{clause.QuoteIdent(RowIDColumn): rowIDs}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build meta query: %w", err)
	}
	res, err := s.db.QueryAll(ctx, "", stmt, 0, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	type ref struct {
		row int64
		col string
		id  int64
	}
	var refs []ref
	var ids []int64
	for _, r := range res.Rows {
		rowID, ok := toInt64(r[0])
		if !ok {
			continue
		}
		for i, c := range cols {
			if id, ok := toInt64(r[i+1]); ok {
				refs = append(refs, ref{row: rowID, col: c, id: id})
				ids = append(ids, id)
			}
		}
	}
	blobs, err := s.blobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]Row)
	for _, r := range refs {
		b := blobs[r.id]
		if b == nil {
			continue
		}
		if out[r.row] == nil {
			out[r.row] = Row{}
		}
		out[r.row][r.col] = b.Clone()
	}
	return out, nil
}

// ColumnRefs returns the ref of every row that has metadata in columnID.
func (s *Store) ColumnRefs(ctx context.Context, columnID string) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columnRefsLocked(ctx, columnID)
}

func (s *Store) columnRefsLocked(ctx context.Context, columnID string) (map[int64]int64, error) {
	if !s.columns[columnID] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	col := clause.QuoteIdent(columnID)
	stmt, args, err := sq.Select(clause.QuoteIdent(RowIDColumn), col).
		From(s.metaRef()).
		Where(sq.NotEq{col: nil}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build meta query: %w", err)
	}
	res, err := s.db.QueryAll(ctx, "", stmt, 0, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read column metadata: %w", err)
	}
	out := make(map[int64]int64, len(res.Rows))
	for _, r := range res.Rows {
		rowID, ok1 := toInt64(r[0])
		ref, ok2 := toInt64(r[1])
		if ok1 && ok2 {
			out[rowID] = ref
		}
	}
	return out, nil
}

// ===== Joins =====

// ColorJoins joins the meta table once and the ref table once per column
// so effective colors can be read as refAlias(col).meta.
func (s *Store) ColorJoins(metaAlias string, rowID clause.Expr, columnIDs []string, refAlias func(string) string) []clause.Join {
	if len(columnIDs) == 0 {
		return nil
	}
	joins := []clause.Join{{
		Kind:  clause.LeftJoin,
		Table: clause.Table{Schema: s.meta.Schema, Name: s.meta.Name, Alias: metaAlias},
		On:    clause.Eq(clause.Col(metaAlias, RowIDColumn), rowID),
	}}
	for _, id := range columnIDs {
		alias := refAlias(id)
		joins = append(joins, clause.Join{
			Kind:  clause.LeftJoin,
			Table: clause.Table{Schema: s.ref.Schema, Name: s.ref.Name, Alias: alias},
			On:    clause.Eq(clause.Col(alias, RefIDColumn), clause.Col(metaAlias, id)),
		})
	}
	return joins
}

// Drop removes both tables.
func (s *Store) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range []string{s.metaRef(), s.refRef()} {
		if _, err := s.db.Exec(ctx, "", "DROP TABLE IF EXISTS "+ref); err != nil {
			return fmt.Errorf("failed to drop %s: %w", ref, err)
		}
	}
	s.byBlob.Purge()
	s.byID.Purge()
	s.columns = map[string]bool{RowKey: true}
	s.nextRef = 1
	return nil
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
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
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float64:
		return int64(x), true
	}
	return 0, false
}
