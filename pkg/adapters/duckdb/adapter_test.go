package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/gridsource/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name: "in-memory",
			setupPath: func(_ *testing.T) string {
				return ":memory:"
			},
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				tmpDir := t.TempDir()
				return filepath.Join(tmpDir, "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := New(nil)

			dbPath := tt.setupPath(t)
			require.NoError(t, p.Connect(ctx, provider.Config{Path: dbPath}))
			defer func() { _ = p.Close() }()

			if tt.verify != nil {
				tt.verify(t, dbPath)
			}
		})
	}
}

func TestProvider_NotConnected(t *testing.T) {
	tests := []struct {
		name      string
		operation func(ctx context.Context, p *Provider) error
	}{
		{
			name: "exec without connect",
			operation: func(ctx context.Context, p *Provider) error {
				_, err := p.Exec(ctx, "", "SELECT 1")
				return err
			},
		},
		{
			name: "query without connect",
			operation: func(ctx context.Context, p *Provider) error {
				_, err := p.Query(ctx, "", "SELECT 1")
				return err
			},
		},
		{
			name: "create connection without connect",
			operation: func(ctx context.Context, p *Provider) error {
				_, err := p.CreateConnection(ctx)
				return err
			},
		},
		{
			name: "append without connect",
			operation: func(ctx context.Context, p *Provider) error {
				return p.Append(ctx, "", "", "t", func(func(...any) error) error { return nil })
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := New(nil)

			err := tt.operation(ctx, p)
			assert.Error(t, err, "expected error when operating without connection")
		})
	}
}

func TestProvider_QueryExecution(t *testing.T) {
	ctx := context.Background()
	p := New(nil)
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	defer func() { _ = p.Close() }()

	_, err := p.Exec(ctx, "", `CREATE TABLE orders (id INTEGER, region VARCHAR, amount DECIMAL(10,2))`)
	require.NoError(t, err)
	n, err := p.Exec(ctx, "", `INSERT INTO orders VALUES (1, 'north', 10.5), (2, 'south', 20), (3, 'north', 7.25)`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	res, err := p.QueryAll(ctx, "", `SELECT region, count(*) AS n FROM orders GROUP BY region ORDER BY region`, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "region", res.Columns[0].Name)
	assert.Equal(t, "VARCHAR", res.Columns[0].DatabaseType)
	assert.Equal(t, "north", res.Rows[0][0])
	assert.EqualValues(t, 2, res.Rows[0][1])

	res, err = p.QueryAll(ctx, "", `SELECT id FROM orders WHERE region = ? ORDER BY id`, 1, "north")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
	assert.True(t, res.Limited)
}

func TestProvider_DedicatedConnections(t *testing.T) {
	ctx := context.Background()
	p := New(nil)
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	defer func() { _ = p.Close() }()

	id, err := p.CreateConnection(ctx)
	require.NoError(t, err)

	_, err = p.Exec(ctx, id, `CREATE TABLE t AS SELECT range AS i FROM range(5)`)
	require.NoError(t, err)

	r, err := p.Query(ctx, id, `SELECT i FROM t ORDER BY i`)
	require.NoError(t, err)
	var got []any
	for r.Next() {
		vals, err := r.Values()
		require.NoError(t, err)
		got = append(got, vals[0])
	}
	require.NoError(t, r.Err())
	require.NoError(t, r.Close())
	assert.Len(t, got, 5)

	require.NoError(t, p.CloseConnection(ctx, id))

	// tables are shared across connections of the same database
	res, err := p.QueryAll(ctx, "", `SELECT count(*) FROM t`, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows[0][0])
}

func TestProvider_Append(t *testing.T) {
	ctx := context.Background()
	p := New(nil)
	require.NoError(t, p.Connect(ctx, provider.Config{Path: ":memory:"}))
	defer func() { _ = p.Close() }()

	_, err := p.Exec(ctx, "", `CREATE TABLE people (id BIGINT, name VARCHAR)`)
	require.NoError(t, err)

	err = p.Append(ctx, "", "", "people", func(add func(values ...any) error) error {
		for i, name := range []string{"ada", "grace", "linus"} {
			if err := add(int64(i), name); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	res, err := p.QueryAll(ctx, "", `SELECT name FROM people ORDER BY id`, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "grace", res.Rows[1][0])
}

func TestBuildCreateSecretSQL(t *testing.T) {
	noSSL := false
	tests := []struct {
		name string
		cfg  SecretConfig
		want string
	}{
		{
			name: "type only",
			cfg:  SecretConfig{Type: "s3"},
			want: "CREATE SECRET (\n    TYPE s3\n)",
		},
		{
			name: "credential chain scoped to buckets",
			cfg: SecretConfig{
				Type:     "s3",
				Provider: "credential_chain",
				Region:   "eu-central-1",
				Scope:    []any{"s3://sales", "s3://returns"},
			},
			want: "CREATE SECRET (\n    TYPE s3,\n    PROVIDER credential_chain,\n    REGION 'eu-central-1',\n    SCOPE ('s3://sales', 's3://returns')\n)",
		},
		{
			name: "explicit keys are quoted",
			cfg: SecretConfig{
				Type:     "s3",
				KeyID:    "key",
				Secret:   "it's",
				Endpoint: "localhost:9000",
				URLStyle: "path",
				UseSSL:   &noSSL,
			},
			want: "CREATE SECRET (\n    TYPE s3,\n    KEY_ID 'key',\n    SECRET 'it''s',\n    ENDPOINT 'localhost:9000',\n    URL_STYLE 'path',\n    USE_SSL false\n)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildCreateSecretSQL(tt.cfg))
		})
	}
}

func TestConnect_WithSettings(t *testing.T) {
	ctx := context.Background()
	p := New(nil)

	cfg := provider.Config{
		Path: ":memory:",
		Params: map[string]any{
			"settings": map[string]any{
				"threads": "2",
			},
		},
	}

	require.NoError(t, p.Connect(ctx, cfg))
	defer func() { _ = p.Close() }()

	res, err := p.QueryAll(ctx, "", "SELECT current_setting('threads')", 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 2, res.Rows[0][0])
}

func TestConnect_InvalidParams(t *testing.T) {
	p := New(nil)
	err := p.Connect(context.Background(), provider.Config{
		Path:   ":memory:",
		Params: map[string]any{"no_such_option": true},
	})
	assert.Error(t, err)
}
