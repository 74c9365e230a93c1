package bootstrap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jacentio/grove/bootstrap"
	"github.com/jacentio/grove/config"
)

const pagesYAML = `
models:
  - model: page
    fields:
      - {name: title, kind: string, required: true}
      - {name: rank, kind: integer}
    indexes:
      - keys: [{field: rank, kind: desc}]
`

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func memoryConfig(t *testing.T, schemas ...string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	cfg.Store.CreateIndexes = true
	cfg.Schemas = schemas
	return cfg
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t, writeSchema(t, pagesYAML))
	cfg.Metrics.Enabled = true

	a, err := bootstrap.New(ctx, cfg, bootstrap.WithLogger(zap.NewNop()), bootstrap.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.Equal(t, []string{"page"}, a.Registry.Models())
	require.NotNil(t, a.Metrics)

	e, err := a.Registry.Dispense(ctx, "page")
	require.NoError(t, err)
	require.NoError(t, e.SetMany(ctx, map[string]any{"title": "home", "rank": 1}))
	require.NoError(t, e.Save(ctx))

	n, err := a.Registry.Find("page").Eq("title", "home").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Greater(t, testutil.CollectAndCount(a.Metrics.TasksTotal), 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.FinderQueries.WithLabelValues("page", "count", "store")))

	indexes, err := a.Store.Indexes(ctx, "pages")
	require.NoError(t, err)
	assert.Len(t, indexes, 3)
}

func TestNew_WithoutMetrics(t *testing.T) {
	ctx := context.Background()
	a, err := bootstrap.New(ctx, memoryConfig(t), bootstrap.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Nil(t, a.Metrics)
	assert.Empty(t, a.Registry.Models())
	assert.NotNil(t, a.StreamHandler())
}

func TestNew_InvalidSchema(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t, writeSchema(t, "models:\n  - model: page\n    fields: [{name: x}]\n"))

	_, err := bootstrap.New(ctx, cfg, bootstrap.WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestNew_MissingSchemaFile(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := bootstrap.New(ctx, cfg, bootstrap.WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestNew_UnknownBackend(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Store.Backend = "sqlite"

	_, err := bootstrap.New(ctx, cfg, bootstrap.WithLogger(zap.NewNop()))
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestReadSchemaFiles(t *testing.T) {
	schemas, err := bootstrap.ReadSchemaFiles([]string{writeSchema(t, pagesYAML)})
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "page", schemas[0].Model)

	_, err = bootstrap.ReadSchemaFiles([]string{writeSchema(t, "models: []\n")})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := bootstrap.NewLogger(config.LoggingConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	_, err := bootstrap.NewLogger(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
