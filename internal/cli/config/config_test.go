package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gridsource.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "config file")
	flags.String("database", "", "database")
	flags.String("state", "", "state file")
	flags.String("optimization", "", "optimization")
	flags.Int64("page-size", 0, "page size")
	flags.String("env", "", "environment")
	flags.StringP("output", "o", "", "output")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, "query: SELECT 1\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database)
	assert.Equal(t, "view", cfg.Optimization)
	assert.Equal(t, "gridsource", cfg.Schema)
	assert.Equal(t, int64(200), cfg.PageSize)
	assert.Equal(t, int64(10000), cfg.SampleLimit)
	assert.Equal(t, "auto", cfg.OutputFormat)
	assert.Equal(t, filepath.Dir(path), cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(filepath.Dir(path), DefaultStateFile), cfg.StatePath)
	assert.Equal(t, path, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_File(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, `database: data/sales.duckdb
query: SELECT * FROM sales
optimization: table
page_size: 50
load_all:
  rows: 10
duckdb:
  extensions: [json]
  settings:
    threads: "2"
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	root := filepath.Dir(path)
	assert.Equal(t, filepath.Join(root, "data/sales.duckdb"), cfg.Database)
	assert.Equal(t, "SELECT * FROM sales", cfg.Query)
	assert.Equal(t, "table", cfg.Optimization)
	assert.Equal(t, int64(50), cfg.PageSize)
	require.NotNil(t, cfg.LoadAll)
	require.NotNil(t, cfg.LoadAll.Rows)
	assert.Equal(t, int64(10), *cfg.LoadAll.Rows)
	assert.Nil(t, cfg.LoadAll.Columns)

	params := cfg.DuckDB.Params()
	assert.Equal(t, []string{"json"}, params["extensions"])
	assert.Equal(t, map[string]string{"threads": "2"}, params["settings"])
	assert.NotContains(t, params, "secrets")
}

func TestLoadConfig_EnvPrecedenceOverFile(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, "optimization: table\npage_size: 50\n")

	t.Setenv("GRIDSOURCE_OPTIMIZATION", "none")
	t.Setenv("GRIDSOURCE_LOAD_ALL__COLUMNS", "3")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Optimization, "env var should override config file")
	assert.Equal(t, int64(50), cfg.PageSize)
	require.NotNil(t, cfg.LoadAll)
	require.NotNil(t, cfg.LoadAll.Columns)
	assert.Equal(t, 3, *cfg.LoadAll.Columns)
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, "optimization: table\npage_size: 50\n")
	t.Setenv("GRIDSOURCE_OPTIMIZATION", "none")

	flags := testFlags()
	require.NoError(t, flags.Set("optimization", "view"))
	require.NoError(t, flags.Set("page-size", "7"))
	require.NoError(t, flags.Set("state", "state.db"))
	require.NoError(t, flags.Set("output", "json"))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, "view", cfg.Optimization, "flag should override env var")
	assert.Equal(t, int64(7), cfg.PageSize)
	assert.Equal(t, filepath.Join(cwd, "state.db"), cfg.StatePath, "path flags are relative to the working directory")
	assert.Equal(t, "json", cfg.OutputFormat)
}

func TestLoadConfig_FlagNotSetUsesEnv(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, "optimization: table\n")
	t.Setenv("GRIDSOURCE_OPTIMIZATION", "none")

	cfg, err := LoadConfig(path, testFlags())
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Optimization)
}

func TestLoadConfig_Environments(t *testing.T) {
	content := `database: dev.duckdb
query: SELECT 1
environments:
  prod:
    database: ${GRIDSOURCE_TEST_DB}
    optimization: table
    duckdb:
      settings:
        memory_limit: 1GB
`
	t.Setenv("GRIDSOURCE_TEST_DB", "/data/prod.duckdb")

	t.Run("no environment", func(t *testing.T) {
		ResetConfig()
		path := writeConfig(t, content)
		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "dev.duckdb"), cfg.Database)
		assert.Equal(t, "view", cfg.Optimization)
	})

	t.Run("selected by flag", func(t *testing.T) {
		ResetConfig()
		path := writeConfig(t, content)
		flags := testFlags()
		require.NoError(t, flags.Set("env", "prod"))

		cfg, err := LoadConfig(path, flags)
		require.NoError(t, err)
		assert.Equal(t, "prod", cfg.Environment)
		assert.Equal(t, "/data/prod.duckdb", cfg.Database)
		assert.Equal(t, "table", cfg.Optimization)
		assert.Equal(t, "SELECT 1", cfg.Query)
		assert.Equal(t, "1GB", cfg.DuckDB.Settings["memory_limit"])
	})

	t.Run("unknown environment", func(t *testing.T) {
		ResetConfig()
		path := writeConfig(t, content)
		flags := testFlags()
		require.NoError(t, flags.Set("env", "staging"))

		_, err := LoadConfig(path, flags)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown environment "staging"`)
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{
			name:      "unknown optimization",
			content:   "optimization: index\n",
			errSubstr: "unknown optimization",
		},
		{
			name:      "negative page size",
			content:   "page_size: -1\n",
			errSubstr: "page_size must not be negative",
		},
		{
			name:      "unknown output",
			content:   "output: xml\n",
			errSubstr: "unknown output format",
		},
		{
			name:      "malformed yaml",
			content:   "query: [\n",
			errSubstr: "error reading config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			_, err := LoadConfig(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_RequireQuery(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireQuery()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no query given")

	cfg.Query = "SELECT 1"
	assert.NoError(t, cfg.RequireQuery())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GRIDSOURCE_TEST_DIR", "/srv")

	assert.Equal(t, "/srv/a.duckdb", expandEnvVars("${GRIDSOURCE_TEST_DIR}/a.duckdb"))
	assert.Equal(t, "${GRIDSOURCE_TEST_UNSET}/a", expandEnvVars("${GRIDSOURCE_TEST_UNSET}/a"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}
