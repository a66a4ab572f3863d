// Package duckdb provides a DuckDB provider for gridsource.
//
// This file registers the DuckDB provider with the provider registry.
// Import this package with a blank identifier to register the provider:
//
//	import _ "github.com/leapstack-labs/gridsource/pkg/adapters/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/gridsource/pkg/provider"
)

func init() {
	provider.Register("duckdb", func(logger *slog.Logger) provider.Provider { return New(logger) })
}
