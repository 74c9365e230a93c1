// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
)

// Config is the root configuration structure.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Queue   QueueConfig   `yaml:"queue"`
	Finder  FinderConfig  `yaml:"finder"`
	Text    TextConfig    `yaml:"text"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Schemas lists YAML schema files registered at startup.
	Schemas []string `yaml:"schemas"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory", "mongo" or "dynamodb"

	Mongo    MongoConfig    `yaml:"mongo"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`

	// CreateIndexes creates declared indexes when models are registered.
	CreateIndexes bool `yaml:"create_indexes"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint,omitempty"` // e.g. DynamoDB Local
	TablePrefix  string `yaml:"table_prefix"`
	ParentIndex  string `yaml:"parent_index"`
	UniqueTable  string `yaml:"unique_table"`
	SoftDelete   bool   `yaml:"soft_delete"`
	TTLAttribute string `yaml:"ttl_attribute"`
	ScanSegments int    `yaml:"scan_segments"`
	CreateTables bool   `yaml:"create_tables"`
}

// CacheConfig configures the entity and finder caches.
type CacheConfig struct {
	Shards    int           `yaml:"shards"`
	EntityTTL time.Duration `yaml:"entity_ttl"`
	FinderTTL time.Duration `yaml:"finder_ttl"`
}

// QueueConfig configures the write queue.
type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Workers     int           `yaml:"workers"`
	Buffer      int           `yaml:"buffer"`
}

// FinderConfig configures finder behaviour.
type FinderConfig struct {
	Debug bool `yaml:"debug"` // log every executed finder
}

// TextConfig configures text search.
type TextConfig struct {
	Language string `yaml:"language"` // default search language, BCP 47
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load reads configuration from a YAML file. GROVE_* environment variables
// override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(&cfg)
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	GROVE_STORE_BACKEND      - memory, mongo or dynamodb (default: memory)
//	GROVE_MONGO_URI          - MongoDB connection string
//	GROVE_MONGO_DATABASE     - MongoDB database (default: grove)
//	GROVE_DYNAMODB_REGION    - AWS region
//	GROVE_DYNAMODB_ENDPOINT  - DynamoDB endpoint override
//	GROVE_DYNAMODB_PREFIX    - table name prefix (default: grove_)
//	GROVE_CACHE_ENTITY_TTL   - entity cache lifetime (default: 24h)
//	GROVE_CACHE_FINDER_TTL   - finder cache lifetime (default: 24h)
//	GROVE_QUEUE_MAX_ATTEMPTS - write attempts per task (default: 3)
//	GROVE_FINDER_DEBUG       - log executed finders
//	GROVE_TEXT_LANGUAGE      - default text search language (default: en)
//	GROVE_LOG_LEVEL          - debug, info, warn, error (default: info)
//	GROVE_LOG_FORMAT         - json or console (default: json)
//	GROVE_METRICS_ENABLED    - register Prometheus metrics
//	GROVE_SCHEMAS            - comma separated schema files
func LoadFromEnv() (*Config, error) {
	var cfg Config
	return finish(&cfg)
}

// LoadWithFallback loads path when it exists and the environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies GROVE_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROVE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("GROVE_STORE_CREATE_INDEXES"); v != "" {
		cfg.Store.CreateIndexes = parseBool(v)
	}

	if v := os.Getenv("GROVE_MONGO_URI"); v != "" {
		cfg.Store.Mongo.URI = v
	}
	if v := os.Getenv("GROVE_MONGO_DATABASE"); v != "" {
		cfg.Store.Mongo.Database = v
	}

	if v := os.Getenv("GROVE_DYNAMODB_REGION"); v != "" {
		cfg.Store.DynamoDB.Region = v
	}
	if v := os.Getenv("GROVE_DYNAMODB_ENDPOINT"); v != "" {
		cfg.Store.DynamoDB.Endpoint = v
	}
	if v := os.Getenv("GROVE_DYNAMODB_PREFIX"); v != "" {
		cfg.Store.DynamoDB.TablePrefix = v
	}
	if v := os.Getenv("GROVE_DYNAMODB_SOFT_DELETE"); v != "" {
		cfg.Store.DynamoDB.SoftDelete = parseBool(v)
	}
	if v := os.Getenv("GROVE_DYNAMODB_TTL_ATTRIBUTE"); v != "" {
		cfg.Store.DynamoDB.TTLAttribute = v
	}

	if v := os.Getenv("GROVE_CACHE_ENTITY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EntityTTL = d
		}
	}
	if v := os.Getenv("GROVE_CACHE_FINDER_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.FinderTTL = d
		}
	}

	if v := os.Getenv("GROVE_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("GROVE_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Workers = n
		}
	}

	if v := os.Getenv("GROVE_FINDER_DEBUG"); v != "" {
		cfg.Finder.Debug = parseBool(v)
	}
	if v := os.Getenv("GROVE_TEXT_LANGUAGE"); v != "" {
		cfg.Text.Language = v
	}

	if v := os.Getenv("GROVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GROVE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("GROVE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	if v := os.Getenv("GROVE_SCHEMAS"); v != "" {
		cfg.Schemas = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Schemas = append(cfg.Schemas, p)
			}
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Store.Mongo.Database == "" {
		cfg.Store.Mongo.Database = "grove"
	}
	if cfg.Store.Mongo.ConnectTimeout == 0 {
		cfg.Store.Mongo.ConnectTimeout = 10 * time.Second
	}
	if cfg.Store.DynamoDB.TablePrefix == "" {
		cfg.Store.DynamoDB.TablePrefix = "grove_"
	}
	if cfg.Store.DynamoDB.TTLAttribute == "" {
		cfg.Store.DynamoDB.TTLAttribute = "ttl"
	}

	if cfg.Cache.EntityTTL == 0 {
		cfg.Cache.EntityTTL = 24 * time.Hour
	}
	if cfg.Cache.FinderTTL == 0 {
		cfg.Cache.FinderTTL = 24 * time.Hour
	}

	if cfg.Text.Language == "" {
		cfg.Text.Language = "en"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "grove"
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case BackendMemory, BackendDynamoDB:
	case BackendMongo:
		if cfg.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required when store.backend is 'mongo'")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, mongo, dynamodb, got %q", cfg.Store.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if cfg.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue.max_attempts must not be negative, got %d", cfg.Queue.MaxAttempts)
	}
	return nil
}
