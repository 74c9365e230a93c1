package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		in   string
		name string
		op   string
		v    any
	}{
		{"rank gte 3", "rank", "gte", 3},
		{"status = published", "status", "=", "published"},
		{"title = hello world", "title", "=", "hello world"},
		{"status in [draft, review]", "status", "in", []any{"draft", "review"}},
		{"flag != true", "flag", "!=", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, op, v, err := parsePredicate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.v, v)
		})
	}

	_, _, _, err := parsePredicate("rank gte")
	assert.Error(t, err)
}

func TestSchemasValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - model: page
    fields:
      - {name: title, kind: string}
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"schemas", "validate", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "1 schema(s) valid")
	assert.Contains(t, out.String(), "page: 1 field(s), 0 index(es)")
}
