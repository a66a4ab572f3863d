package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsource/internal/cli/testutil"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if errOut.Len() > 0 {
		t.Log(errOut.String())
	}
	return out.String(), err
}

func TestQuery_CSV(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "output: csv\n")

	out, err := run(t, "query", "--config", cfg, "--sort", "revenue:desc")
	require.NoError(t, err)

	lines := testutil.Lines(out)
	require.Len(t, lines, 11)
	assert.Equal(t, "#,region,revenue", lines[0])
	assert.Equal(t, "1,c,300", lines[1])
	assert.Equal(t, "10,a,1", lines[10])
}

func TestQuery_RemembersSettings(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "output: csv\n")

	_, err := run(t, "query", "--config", cfg, "--sort", "revenue:desc", "--where", "region:neq:a")
	require.NoError(t, err)

	out, err := run(t, "query", "--config", cfg)
	require.NoError(t, err)
	lines := testutil.Lines(out)
	require.Len(t, lines, 7)
	assert.Equal(t, "1,c,300", lines[1])

	out, err = run(t, "reset", "--config", cfg)
	require.NoError(t, err)
	testutil.AssertContains(t, out, "reset")

	out, err = run(t, "query", "--config", cfg, "--explain")
	require.NoError(t, err)
	testutil.AssertNotContains(t, out, "DESC")
	testutil.AssertNotContains(t, out, "'a'")
}

func TestQuery_Window(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "output: csv\n")

	out, err := run(t, "query", "--config", cfg, "--sort", "revenue", "--rows", "2:3", "--columns", "1:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"#,revenue", "3,3", "4,4"}, testutil.Lines(out))
}

func TestQuery_GroupsAndJSON(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "")

	out, err := run(t, "query", "--config", cfg, "-o", "json",
		"--group", "region:desc", "--agg", "revenue:sum", "--sort", "revenue:desc")
	require.NoError(t, err)

	var frame struct {
		RowCount int64 `json:"rowCount"`
		Rows     []struct {
			Kind   string         `json:"kind"`
			Groups map[string]any `json:"groups"`
			Count  *int64         `json:"count"`
			Values map[string]any `json:"values"`
		} `json:"rows"`
		Total map[string]any `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &frame))
	assert.Equal(t, int64(13), frame.RowCount)
	require.Len(t, frame.Rows, 13)
	assert.Equal(t, "group", frame.Rows[0].Kind)
	assert.Equal(t, "c", frame.Rows[0].Groups["region"])
	require.NotNil(t, frame.Rows[0].Count)
	assert.Equal(t, int64(3), *frame.Rows[0].Count)
	assert.Equal(t, "row", frame.Rows[1].Kind)
	assert.Equal(t, 300.0, frame.Rows[1].Values["revenue"])
	assert.Equal(t, 670.0, frame.Total["revenue"])

	out, err = run(t, "summary", "--config", cfg, "--column", "revenue", "-o", "json")
	require.NoError(t, err)
	var tree struct {
		Fn       string  `json:"fn"`
		Value    float64 `json:"value"`
		Count    int64   `json:"count"`
		Children []struct {
			Group string  `json:"group"`
			Value float64 `json:"value"`
		} `json:"children"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Equal(t, "sum", tree.Fn)
	assert.Equal(t, 670.0, tree.Value)
	assert.Equal(t, int64(10), tree.Count)
	require.Len(t, tree.Children, 3)
}

func TestQuery_Markdown(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "")

	out, err := run(t, "query", "--config", cfg, "-o", "markdown", "--sort", "region", "--agg", "revenue:max")
	require.NoError(t, err)
	testutil.AssertNoANSI(t, out)
	testutil.AssertMarkdownTable(t, out)
	testutil.AssertContains(t, out, "| total |  | 300 |")
}

func TestQuery_VirtualColumn(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "output: csv\n")

	out, err := run(t, "query", "--config", cfg, "--virtual", "twice=revenue * 2", "--sort", "twice:desc", "--rows", "0:0")
	require.NoError(t, err)
	assert.Equal(t, []string{"#,region,revenue,twice", "1,c,300,600"}, testutil.Lines(out))
}

func TestValues(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "output: csv\n")

	out, err := run(t, "values", "--config", cfg, "--column", "region")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "a", "b", "c"}, testutil.Lines(out))

	out, err = run(t, "values", "--config", cfg, "--column", "region", "--sample-limit", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "a", "b"}, testutil.Lines(out))

	_, err = run(t, "values", "--config", cfg, "--column", "region", "--colors", "purple")
	require.Error(t, err)
}

func TestQuery_Errors(t *testing.T) {
	cfg := testutil.SetupTestProject(t, "")

	tests := []struct {
		name      string
		args      []string
		errSubstr string
	}{
		{"bad optimization", []string{"query", "--config", cfg, "--optimization", "index"}, "unknown optimization"},
		{"bad sort", []string{"query", "--config", cfg, "--sort", "revenue:sideways"}, "unknown direction"},
		{"bad rows", []string{"query", "--config", cfg, "--rows", "x"}, "invalid --rows"},
		{"unknown column", []string{"query", "--config", cfg, "--sort", "nope"}, "nope"},
		{"missing column flag", []string{"values", "--config", cfg}, "column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestQuery_NoQuery(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "gridsource.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("state_path: ''\n"), 0600))

	_, err := run(t, "query", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no query given")

	out, err := run(t, "query", "--config", cfg, "-o", "csv", "SELECT 42 AS answer")
	require.NoError(t, err)
	assert.Equal(t, []string{"#,answer", "1,42"}, testutil.Lines(out))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	testutil.AssertContains(t, out, "gridsource v"+Version)
}

func TestCompletion(t *testing.T) {
	out, err := run(t, "completion", "bash")
	require.NoError(t, err)
	testutil.AssertContains(t, out, "gridsource")
}
