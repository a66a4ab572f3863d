// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/gridsource/pkg/adapters/duckdb"
	"github.com/leapstack-labs/gridsource/pkg/provider"
)

// SalesQuery selects the table created by SetupTestProject.
const SalesQuery = "SELECT * FROM sales"

// SetupTestProject creates a temporary project with a DuckDB database
// holding a ten-row sales table and a gridsource.yaml pointing at it.
// extra is appended to the config file. Returns the config file path.
func SetupTestProject(t *testing.T, extra string) string {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "sales.duckdb")

	ctx := context.Background()
	p := duckdb.New(nil)
	if err := p.Connect(ctx, provider.Config{Path: dbPath}); err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE sales (region VARCHAR, revenue DOUBLE)`,
		`INSERT INTO sales VALUES
			('a', 1), ('b', 10), ('a', 2), ('c', 100), ('a', 3),
			('b', 20), ('c', 200), ('a', 4), ('b', 30), ('c', 300)`,
	} {
		if _, err := p.Exec(ctx, "", stmt); err != nil {
			t.Fatalf("failed to seed database: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("failed to close database: %v", err)
	}

	cfg := "database: sales.duckdb\nquery: " + SalesQuery + "\nstate_path: state.db\n" + extra
	cfgPath := filepath.Join(tmpDir, "gridsource.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatalf("failed to write gridsource.yaml: %v", err)
	}
	return cfgPath
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}

// AssertNotContains checks that the string does not contain the substring.
func AssertNotContains(t *testing.T, s, unexpected string) {
	t.Helper()
	if strings.Contains(s, unexpected) {
		t.Errorf("string %q unexpectedly contains %q", s, unexpected)
	}
}

// AssertMarkdownTable checks that every non-empty line is a table row with
// the same number of cells.
func AssertMarkdownTable(t *testing.T, md string) {
	t.Helper()

	cells := -1
	for i, line := range strings.Split(strings.TrimSpace(md), "\n") {
		if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
			t.Errorf("line %d is not a table row: %q", i+1, line)
			continue
		}
		n := strings.Count(strings.ReplaceAll(line, `\|`, ""), "|")
		if cells == -1 {
			cells = n
		} else if n != cells {
			t.Errorf("line %d has %d separators, want %d: %q", i+1, n, cells, line)
		}
	}
}

// Lines splits output into trimmed, non-empty lines.
func Lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
