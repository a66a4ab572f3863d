package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsource/internal/cli/config"
	intconfig "github.com/leapstack-labs/gridsource/internal/config"
	"github.com/leapstack-labs/gridsource/internal/lock"
	"github.com/leapstack-labs/gridsource/internal/state"
	"github.com/leapstack-labs/gridsource/pkg/datasource"
	"github.com/leapstack-labs/gridsource/pkg/provider"

	// Register the DuckDB provider.
	_ "github.com/leapstack-labs/gridsource/pkg/adapters/duckdb"
)

// databaseLock is the lock resource guarding the DuckDB file.
const databaseLock = "database"

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg        *config.Config
	Logger     *slog.Logger
	Provider   provider.Provider
	Store      *state.SQLiteStore
	DataSource *datasource.DataSource
}

// NewCommandContext opens the database and the state store and creates an
// uninitialized data source for sql. Returns the context and a cleanup
// function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command, sql string) (*CommandContext, func(), error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	ctx := cmd.Context()

	cc := &CommandContext{Cfg: cfg, Logger: logger}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	p, err := provider.New(cfg.ProviderConfig(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Connect(ctx, cfg.ProviderConfig()); err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	cc.Provider = p
	closers = append(closers, func() { _ = p.Close() })

	if cfg.StatePath != "" {
		store, err := openStore(cfg.StatePath, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cc.Store = store
		closers = append(closers, func() { _ = store.Close() })
	}

	opts, err := cfg.Options(logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cc.Store != nil {
		opts.State = cc.Store
	}

	var ds *datasource.DataSource
	opts.Lock = lock.NewLocal(logger).Session(func(ctx context.Context) error { return ds.Release(ctx) })
	opts.LockName = databaseLock
	ds, err = datasource.New(p, sql, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cc.DataSource = ds
	closers = append(closers, func() { _ = ds.Close(context.WithoutCancel(ctx)) })

	return cc, cleanup, nil
}

func openStore(path string, logger *slog.Logger) (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(path)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(logger)
	if err := store.Open(path); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, nil
}

// getConfig returns the current configuration, or the defaults when no
// configuration was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg := &config.Config{OutputFormat: config.DefaultOutput}
	cfg.StatePath = config.DefaultStateFile
	intconfig.ApplyDefaults(&cfg.SourceConfig)
	return cfg
}

// resolveQuery picks the query from the --sql flag, the first argument or
// the configuration, in that order.
func resolveQuery(cfg *config.Config, flagSQL string, args []string) (string, error) {
	switch {
	case flagSQL != "":
		return flagSQL, nil
	case len(args) > 0:
		return args[0], nil
	}
	if err := cfg.RequireQuery(); err != nil {
		return "", err
	}
	return cfg.Query, nil
}
