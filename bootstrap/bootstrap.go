// Package bootstrap wires configuration into a ready registry: logger,
// store backend, caches, write queue, metrics and registered schemas.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jacentio/grove/cache"
	"github.com/jacentio/grove/config"
	"github.com/jacentio/grove/metrics"
	"github.com/jacentio/grove/odm"
	"github.com/jacentio/grove/queue"
	"github.com/jacentio/grove/store"
	"github.com/jacentio/grove/store/dynamostore"
	"github.com/jacentio/grove/store/memstore"
	"github.com/jacentio/grove/store/mongostore"
	"github.com/jacentio/grove/stream"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    store.Store
	Caches   *cache.Manager
	Queue    *queue.Queue
	Metrics  *metrics.Collector
	Registry *odm.Registry

	cancel context.CancelFunc
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	dynamo     dynamostore.API
	store      store.Store
}

// Option customises New.
type Option func(*options)

// WithLogger uses logger instead of one built from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers metrics with reg instead of the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDynamoClient uses client for the dynamodb backend instead of one built
// from the AWS default configuration chain.
func WithDynamoClient(client dynamostore.API) Option {
	return func(o *options) { o.dynamo = client }
}

// WithStore bypasses backend selection.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// New builds the application from cfg and registers the configured schema
// files. Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Logging); err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Logger: logger}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewWithRegistry(cfg.Metrics.Namespace, o.registerer)
	}

	s := o.store
	if s == nil {
		var err error
		if s, err = openStore(ctx, cfg.Store, o.dynamo, logger.Named("store")); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	if a.Metrics != nil {
		s = metrics.WrapStore(s, a.Metrics)
	}
	a.Store = s

	var (
		cacheOpts []cache.Option
		queueOpts []queue.Option
		regOpts   []odm.Option
	)
	if a.Metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithRecorder(a.Metrics))
		queueOpts = append(queueOpts, queue.WithRecorder(a.Metrics))
		regOpts = append(regOpts, odm.WithFinderRecorder(a.Metrics))
	}
	a.Caches = cache.NewManager(cache.Config{Shards: cfg.Cache.Shards, DefaultTTL: cfg.Cache.EntityTTL}, cacheOpts...)
	a.Queue = queue.New(queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
		Workers:     cfg.Queue.Workers,
		Buffer:      cfg.Queue.Buffer,
	}, logger.Named("queue"), queueOpts...)

	var qctx context.Context
	qctx, a.cancel = context.WithCancel(context.Background())
	a.Queue.Start(qctx)

	odmConfig := odm.DefaultConfig()
	odmConfig.EntityTTL = cfg.Cache.EntityTTL
	odmConfig.FinderTTL = cfg.Cache.FinderTTL
	odmConfig.TextLanguage = cfg.Text.Language
	odmConfig.DebugFinder = cfg.Finder.Debug
	odmConfig.CreateIndexes = cfg.Store.CreateIndexes
	a.Registry = odm.NewRegistry(s, a.Caches, a.Queue, odmConfig, logger.Named("odm"), regOpts...)

	if err := LoadSchemaFiles(ctx, a.Registry, cfg.Schemas); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	logger.Info("grove initialised",
		zap.String("backend", cfg.Store.Backend),
		zap.Strings("models", a.Registry.Models()),
		zap.Bool("metrics", a.Metrics != nil),
	)
	return a, nil
}

// StreamHandler returns a DynamoDB stream handler invalidating this
// application's caches.
func (a *App) StreamHandler() *stream.Handler {
	return stream.NewHandler(a.Registry, stream.Config{
		TablePrefix:  a.Config.Store.DynamoDB.TablePrefix,
		TTLAttribute: a.Config.Store.DynamoDB.TTLAttribute,
	}, a.Logger.Named("stream"))
}

// Close drains the write queue and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.Queue.Close()
	a.cancel()
	err := a.Store.Close(ctx)
	_ = a.Logger.Sync()
	return err
}

func openStore(ctx context.Context, cfg config.StoreConfig, client dynamostore.API, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(logger), nil
	case config.BackendMongo:
		return mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.ConnectTimeout, logger)
	case config.BackendDynamoDB:
		if client == nil {
			var err error
			if client, err = NewDynamoClient(ctx, cfg.DynamoDB); err != nil {
				return nil, err
			}
		}
		return dynamostore.New(client, dynamostore.Config{
			TablePrefix:  cfg.DynamoDB.TablePrefix,
			ParentIndex:  cfg.DynamoDB.ParentIndex,
			UniqueTable:  cfg.DynamoDB.UniqueTable,
			SoftDelete:   cfg.DynamoDB.SoftDelete,
			TTLAttribute: cfg.DynamoDB.TTLAttribute,
			ScanSegments: cfg.DynamoDB.ScanSegments,
			CreateTables: cfg.DynamoDB.CreateTables,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// NewDynamoClient builds a DynamoDB client from the AWS default
// configuration chain, honouring an explicit region and endpoint.
func NewDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// LoadSchemaFiles registers every schema found in the given YAML files.
func LoadSchemaFiles(ctx context.Context, reg *odm.Registry, paths []string) error {
	for _, path := range paths {
		schemas, err := readSchemas(path)
		if err != nil {
			return err
		}
		for _, s := range schemas {
			if err := reg.Register(ctx, s, false); err != nil {
				return fmt.Errorf("register %s from %s: %w", s.Model, path, err)
			}
		}
	}
	return nil
}

func readSchemas(path string) ([]odm.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()
	schemas, err := odm.LoadSchemas(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return schemas, nil
}

// ReadSchemaFiles decodes and validates schema files without registering them.
func ReadSchemaFiles(paths []string) ([]odm.Schema, error) {
	var out []odm.Schema
	for _, path := range paths {
		schemas, err := readSchemas(path)
		if err != nil {
			return nil, err
		}
		out = append(out, schemas...)
	}
	if len(out) == 0 {
		return nil, errors.New("no schemas found")
	}
	return out, nil
}
