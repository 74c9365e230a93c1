package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacentio/grove/config"
)

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grove.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
store:
  backend: dynamodb
  create_indexes: true
  dynamodb:
    region: eu-west-1
    table_prefix: "app_"
    ttl_attribute: expires_at
    scan_segments: 4

cache:
  entity_ttl: 1h
  finder_ttl: 5m

queue:
  max_attempts: 5
  backoff: 250ms

finder:
  debug: true

schemas:
  - schemas/pages.yaml
`

	cfg := writeAndLoad(t, content)

	if cfg.Store.Backend != config.BackendDynamoDB {
		t.Errorf("Store.Backend = %s, want dynamodb", cfg.Store.Backend)
	}
	if !cfg.Store.CreateIndexes {
		t.Error("Store.CreateIndexes = false, want true")
	}
	if cfg.Store.DynamoDB.TablePrefix != "app_" {
		t.Errorf("DynamoDB.TablePrefix = %s, want app_", cfg.Store.DynamoDB.TablePrefix)
	}
	if cfg.Store.DynamoDB.TTLAttribute != "expires_at" {
		t.Errorf("DynamoDB.TTLAttribute = %s, want expires_at", cfg.Store.DynamoDB.TTLAttribute)
	}
	if cfg.Store.DynamoDB.ScanSegments != 4 {
		t.Errorf("DynamoDB.ScanSegments = %d, want 4", cfg.Store.DynamoDB.ScanSegments)
	}
	if cfg.Cache.EntityTTL != time.Hour {
		t.Errorf("Cache.EntityTTL = %v, want 1h", cfg.Cache.EntityTTL)
	}
	if cfg.Cache.FinderTTL != 5*time.Minute {
		t.Errorf("Cache.FinderTTL = %v, want 5m", cfg.Cache.FinderTTL)
	}
	if cfg.Queue.MaxAttempts != 5 || cfg.Queue.Backoff != 250*time.Millisecond {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if !cfg.Finder.Debug {
		t.Error("Finder.Debug = false, want true")
	}
	if len(cfg.Schemas) != 1 || cfg.Schemas[0] != "schemas/pages.yaml" {
		t.Errorf("Schemas = %v", cfg.Schemas)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	if cfg.Store.Backend != config.BackendMemory {
		t.Errorf("default Store.Backend = %s, want memory", cfg.Store.Backend)
	}
	if cfg.Store.Mongo.Database != "grove" {
		t.Errorf("default Mongo.Database = %s, want grove", cfg.Store.Mongo.Database)
	}
	if cfg.Store.DynamoDB.TablePrefix != "grove_" {
		t.Errorf("default DynamoDB.TablePrefix = %s, want grove_", cfg.Store.DynamoDB.TablePrefix)
	}
	if cfg.Store.DynamoDB.TTLAttribute != "ttl" {
		t.Errorf("default DynamoDB.TTLAttribute = %s, want ttl", cfg.Store.DynamoDB.TTLAttribute)
	}
	if cfg.Cache.EntityTTL != 24*time.Hour || cfg.Cache.FinderTTL != 24*time.Hour {
		t.Errorf("default cache ttls = %v/%v, want 24h", cfg.Cache.EntityTTL, cfg.Cache.FinderTTL)
	}
	if cfg.Text.Language != "en" {
		t.Errorf("default Text.Language = %s, want en", cfg.Text.Language)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Namespace != "grove" {
		t.Errorf("default Metrics.Namespace = %s, want grove", cfg.Metrics.Namespace)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GROVE_STORE_BACKEND", "mongo")
	t.Setenv("GROVE_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("GROVE_CACHE_FINDER_TTL", "30s")
	t.Setenv("GROVE_QUEUE_MAX_ATTEMPTS", "7")
	t.Setenv("GROVE_FINDER_DEBUG", "yes")
	t.Setenv("GROVE_LOG_LEVEL", "debug")
	t.Setenv("GROVE_SCHEMAS", "a.yaml, b.yaml,")

	cfg := writeAndLoad(t, "store:\n  backend: memory\n")

	if cfg.Store.Backend != config.BackendMongo {
		t.Errorf("Store.Backend = %s, want mongo", cfg.Store.Backend)
	}
	if cfg.Cache.FinderTTL != 30*time.Second {
		t.Errorf("Cache.FinderTTL = %v, want 30s", cfg.Cache.FinderTTL)
	}
	if cfg.Queue.MaxAttempts != 7 {
		t.Errorf("Queue.MaxAttempts = %d, want 7", cfg.Queue.MaxAttempts)
	}
	if !cfg.Finder.Debug {
		t.Error("Finder.Debug = false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if len(cfg.Schemas) != 2 || cfg.Schemas[1] != "b.yaml" {
		t.Errorf("Schemas = %v, want [a.yaml b.yaml]", cfg.Schemas)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_MONGO_HOST", "db.internal")
	cfg := writeAndLoad(t, "store:\n  backend: mongo\n  mongo:\n    uri: mongodb://${TEST_MONGO_HOST}:27017\n")

	if cfg.Store.Mongo.URI != "mongodb://db.internal:27017" {
		t.Errorf("Mongo.URI = %s", cfg.Store.Mongo.URI)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "store:\n  backend: sqlite\n"},
		{"mongo without uri", "store:\n  backend: mongo\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"negative attempts", "queue:\n  max_attempts: -1\n"},
		{"malformed yaml", "store: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "grove.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := config.Load(path); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() error = nil, want error")
	}
}

func TestLoadWithFallback(t *testing.T) {
	t.Setenv("GROVE_TEXT_LANGUAGE", "de")

	cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback() error = %v", err)
	}
	if cfg.Text.Language != "de" {
		t.Errorf("Text.Language = %s, want de", cfg.Text.Language)
	}
	if cfg.Store.Backend != config.BackendMemory {
		t.Errorf("Store.Backend = %s, want memory", cfg.Store.Backend)
	}
}
