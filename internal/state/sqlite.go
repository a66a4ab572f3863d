package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite settings store.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger.With(slog.String("component", "state"))}
}

// Open opens the SQLite database at path and runs pending migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.logger.Debug("settings store opened", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores the settings of contextID, replacing earlier ones.
func (s *SQLiteStore) Save(ctx context.Context, contextID, fingerprint string, settings Settings) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, context_id, fingerprint, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		uuid.NewString(), contextID, fingerprint, string(payload), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Load returns the settings of contextID.
func (s *SQLiteStore) Load(ctx context.Context, contextID string) (Record, bool, error) {
	if s.db == nil {
		return Record{}, false, fmt.Errorf("database not opened")
	}
	var (
		rec     Record
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, context_id, fingerprint, payload FROM settings WHERE context_id = ?`,
		contextID,
	).Scan(&rec.ID, &rec.ContextID, &rec.Fingerprint, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Settings); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode settings of %s: %w", contextID, err)
	}
	return rec, true, nil
}

// Delete removes the settings of contextID. Deleting a missing context is
// not an error.
func (s *SQLiteStore) Delete(ctx context.Context, contextID string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE context_id = ?`, contextID); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}
