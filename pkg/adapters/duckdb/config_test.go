package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	useSSL := false

	tests := []struct {
		name    string
		input   map[string]any
		want    *Params
		wantErr string
	}{
		{
			name:  "no params",
			input: nil,
			want:  &Params{},
		},
		{
			name: "settings are weakly typed",
			input: map[string]any{
				"settings": map[string]any{"threads": 4, "memory_limit": "1GB"},
			},
			want: &Params{Settings: map[string]string{"threads": "4", "memory_limit": "1GB"}},
		},
		{
			name: "config file shape",
			input: map[string]any{
				"extensions": []string{"httpfs"},
				"secrets": []map[string]any{
					{"type": "s3", "provider": "credential_chain", "scope": []any{"s3://a", "s3://b"}},
				},
			},
			want: &Params{
				Extensions: []string{"httpfs"},
				Secrets: []SecretConfig{
					{Type: "s3", Provider: "credential_chain", Scope: []any{"s3://a", "s3://b"}},
				},
			},
		},
		{
			name: "explicit credentials",
			input: map[string]any{
				"secrets": []any{map[string]any{
					"type": "s3", "key_id": "id", "secret": "s", "endpoint": "localhost:9000",
					"url_style": "path", "use_ssl": "false",
				}},
			},
			want: &Params{Secrets: []SecretConfig{{
				Type: "s3", KeyID: "id", Secret: "s", Endpoint: "localhost:9000",
				URLStyle: "path", UseSSL: &useSSL,
			}}},
		},
		{
			name:    "unknown key",
			input:   map[string]any{"extension": []any{"httpfs"}},
			wantErr: "extension",
		},
		{
			name:    "wrong shape",
			input:   map[string]any{"settings": []any{"threads"}},
			wantErr: "failed to decode duckdb params",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatScope(t *testing.T) {
	tests := []struct {
		name  string
		scope any
		want  string
	}{
		{"none", nil, ""},
		{"string", "s3://bucket", "'s3://bucket'"},
		{"single item list", []any{"s3://bucket"}, "'s3://bucket'"},
		{"string list", []string{"s3://a", "s3://b"}, "('s3://a', 's3://b')"},
		{"other", 42, "'42'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatScope(tt.scope))
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'plain'", quote("plain"))
	assert.Equal(t, "'it''s'", quote("it's"))
}
