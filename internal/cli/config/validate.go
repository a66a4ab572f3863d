package config

import (
	"fmt"
	"slices"
)

var outputFormats = []string{OutputAuto, OutputTable, OutputJSON, OutputCSV, OutputMarkdown}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.SourceConfig.Validate(); err != nil {
		return err
	}
	if c.OutputFormat != "" && !slices.Contains(outputFormats, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (want one of %v)", c.OutputFormat, outputFormats)
	}
	return nil
}

// RequireQuery returns an error when no query is configured.
func (c *Config) RequireQuery() error {
	if c.Query == "" {
		return fmt.Errorf("no query given\nHint: pass --sql, a positional query, or set query in gridsource.yaml")
	}
	return nil
}
