// Package core defines the shared language of the gridsource system.
//
// This package contains:
//   - Grid model (Column, Sorter, Group, AggregationFn, Range)
//   - Load policy (LoadAllThreshold)
//   - Cell metadata (Style, Borders, Link, Blob) and its merge rules
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
