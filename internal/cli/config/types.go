// Package config provides configuration management for the gridsource CLI.
//
// This package extends the shared data source configuration from
// internal/config with CLI-specific fields and functionality.
package config

import (
	intconfig "github.com/leapstack-labs/gridsource/internal/config"
)

// SourceConfig is an alias for the shared data source configuration.
type SourceConfig = intconfig.SourceConfig

// DuckDBConfig is an alias for the shared DuckDB options.
type DuckDBConfig = intconfig.DuckDBConfig

// Config holds all CLI configuration options.
type Config struct {
	SourceConfig `koanf:",squash"`

	ProjectRoot  string               `koanf:"-"`
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Environments map[string]EnvConfig `koanf:"environments"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	Database     string        `koanf:"database"`
	Query        string        `koanf:"query"`
	Optimization string        `koanf:"optimization"`
	Schema       string        `koanf:"schema"`
	DuckDB       *DuckDBConfig `koanf:"duckdb"`
}

// Default configuration values - uses shared defaults from internal/config
const (
	DefaultDatabase     = intconfig.DefaultDatabase
	DefaultOptimization = intconfig.DefaultOptimization
	DefaultStateFile    = intconfig.DefaultStateFile
	DefaultEnv          = ""
	DefaultOutput       = "auto" // Auto-detect: TTY=table, non-TTY=markdown
)

// Output formats.
const (
	OutputAuto     = "auto"
	OutputTable    = "table"
	OutputJSON     = "json"
	OutputCSV      = "csv"
	OutputMarkdown = "markdown"
)
