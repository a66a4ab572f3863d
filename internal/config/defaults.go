package config

import "github.com/leapstack-labs/gridsource/pkg/datasource"

// Default configuration values.
const (
	DefaultDatabase     = ":memory:"
	DefaultOptimization = "view"
	DefaultStateFile    = ".gridsource/state.db"
)

// ApplyDefaults applies default values to a SourceConfig.
func ApplyDefaults(c *SourceConfig) {
	if c == nil {
		return
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Optimization == "" {
		c.Optimization = DefaultOptimization
	}
	if c.Schema == "" {
		c.Schema = datasource.DefaultSchema
	}
	if c.PageSize == 0 {
		c.PageSize = datasource.DefaultPageSize
	}
	if c.SampleLimit == 0 {
		c.SampleLimit = datasource.DefaultSampleLimit
	}
}
