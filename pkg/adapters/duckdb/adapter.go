// Package duckdb provides a DuckDB provider for gridsource.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/gridsource/pkg/provider"
	"github.com/marcboeker/go-duckdb"
)

// Provider implements provider.Provider for DuckDB.
type Provider struct {
	provider.BaseSQLProvider
}

// New creates a new DuckDB provider instance.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Provider{}
	p.Logger = logger.With(slog.String("provider", "duckdb"))
	return p
}

// DialectName returns the SQL dialect for this provider.
func (p *Provider) DialectName() string {
	return "duckdb"
}

// Connect opens DuckDB and applies extensions, settings and secrets from
// cfg.Params. Use ":memory:" or an empty path for an in-memory database.
func (p *Provider) Connect(ctx context.Context, cfg provider.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		return applySettings(ctx, execer, params.Settings)
	})
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	p.DB = db
	p.Cfg = cfg

	for _, ext := range params.Extensions {
		for _, stmt := range []string{"INSTALL " + ext, "LOAD " + ext} {
			if _, err := p.Exec(ctx, "", stmt); err != nil {
				_ = p.Close()
				return fmt.Errorf("failed to load extension %s: %w", ext, err)
			}
		}
	}
	for _, secret := range params.Secrets {
		if _, err := p.Exec(ctx, "", buildCreateSecretSQL(secret)); err != nil {
			_ = p.Close()
			return fmt.Errorf("failed to create %s secret: %w", secret.Type, err)
		}
	}

	p.Logger.Info("duckdb opened",
		slog.String("path", cfg.Path),
		slog.Int("extensions", len(params.Extensions)),
		slog.Int("settings", len(params.Settings)))
	return nil
}

// applySettings runs SET statements on every new connection so session
// settings hold for pooled and dedicated connections alike.
func applySettings(ctx context.Context, execer driver.ExecerContext, settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = %s", k, quote(settings[k]))
		if _, err := execer.ExecContext(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}
	return nil
}

// Append bulk-inserts rows into schema.table through the DuckDB appender.
func (p *Provider) Append(ctx context.Context, id provider.ConnID, schema, table string, fill func(add func(values ...any) error) error) error {
	if p.DB == nil {
		return provider.ErrNotConnected
	}
	conn, err := p.Conn(id)
	if err != nil {
		return err
	}
	if conn == nil {
		conn, err = p.DB.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to open connection: %w", err)
		}
		defer func() { _ = conn.Close() }()
	}

	return conn.Raw(func(dc any) error {
		driverConn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		app, err := duckdb.NewAppenderFromConn(driverConn, schema, table)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}

		fillErr := fill(func(values ...any) error {
			row := make([]driver.Value, len(values))
			for i, v := range values {
				row[i] = v
			}
			return app.AppendRow(row...)
		})
		closeErr := app.Close()
		if fillErr != nil {
			return fmt.Errorf("failed to append rows: %w", fillErr)
		}
		if closeErr != nil {
			return fmt.Errorf("failed to flush appender: %w", closeErr)
		}
		return nil
	})
}

// Ensure Provider implements the provider interfaces
var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Appender = (*Provider)(nil)
)
