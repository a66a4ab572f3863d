// Package config provides the shared data-source configuration of
// gridsource. It is decoupled from CLI concerns so embedders can load the
// same settings the CLI does.
package config

import (
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/gridsource/internal/query"
	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/datasource"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

// SourceConfig describes one data source: the database it reads, its query
// and how the query is materialized and paged.
type SourceConfig struct {
	// Database is the DuckDB file; empty or ":memory:" is in-memory.
	Database     string `koanf:"database"`
	Query        string `koanf:"query"`
	Optimization string `koanf:"optimization"` // none, view or table
	Schema       string `koanf:"schema"`

	PageSize    int64                  `koanf:"page_size"`
	SampleLimit int64                  `koanf:"sample_limit"`
	LoadAll     *core.LoadAllThreshold `koanf:"load_all"`

	// StatePath is the SQLite file settings are persisted in. Empty
	// disables persistence.
	StatePath string `koanf:"state_path"`

	DuckDB DuckDBConfig `koanf:"duckdb"`
}

// DuckDBConfig holds engine options applied when the database is opened.
type DuckDBConfig struct {
	Extensions []string          `koanf:"extensions"`
	Settings   map[string]string `koanf:"settings"`
	// Secrets are passed to CREATE SECRET as-is, e.g. type, provider, region.
	Secrets []map[string]any `koanf:"secrets"`
}

// Params returns the options in the form the DuckDB provider decodes.
func (d DuckDBConfig) Params() map[string]any {
	params := map[string]any{}
	if len(d.Extensions) > 0 {
		params["extensions"] = d.Extensions
	}
	if len(d.Settings) > 0 {
		params["settings"] = d.Settings
	}
	if len(d.Secrets) > 0 {
		params["secrets"] = d.Secrets
	}
	return params
}

// ProviderConfig returns the provider configuration of the database.
func (s *SourceConfig) ProviderConfig() provider.Config {
	return provider.Config{Type: "duckdb", Path: s.Database, Params: s.DuckDB.Params()}
}

// Validate checks values that cannot be defaulted.
func (s *SourceConfig) Validate() error {
	if _, err := query.ParseOptimizationKind(s.Optimization); err != nil {
		return err
	}
	if s.PageSize < 0 {
		return fmt.Errorf("page_size must not be negative")
	}
	if s.SampleLimit < 0 {
		return fmt.Errorf("sample_limit must not be negative")
	}
	return nil
}

// Options returns the data source options of the configuration.
func (s *SourceConfig) Options(logger *slog.Logger) (datasource.Options, error) {
	kind, err := query.ParseOptimizationKind(s.Optimization)
	if err != nil {
		return datasource.Options{}, err
	}
	return datasource.Options{
		Schema:       s.Schema,
		Optimization: kind,
		PageSize:     s.PageSize,
		SampleLimit:  s.SampleLimit,
		LoadAll:      s.LoadAll,
		Logger:       logger,
	}, nil
}
