package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/migrations"
)

type RepositoryFactory struct {
	db *bun.DB

	logStore       *LogStore
	cachedLogStore *CachedLogStore
	cacheService   repositorycache.CacheService
}

type FactoryOption func(*RepositoryFactory)

// WithCacheService enables the read-through cache in front of the log store.
func WithCacheService(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.logStore != nil {
		return nil
	}
	logStore, err := NewLogStore(f.db)
	if err != nil {
		return err
	}
	f.logStore = logStore
	if f.cacheService != nil {
		cached, err := NewCachedLogStore(logStore, f.cacheService)
		if err != nil {
			return err
		}
		f.cachedLogStore = cached
	}
	return nil
}

// LogStore returns the cached store when a cache service was configured.
func (f *RepositoryFactory) LogStore() core.LogStore {
	if f == nil {
		return nil
	}
	if f.cachedLogStore != nil {
		return f.cachedLogStore
	}
	if f.logStore == nil {
		return nil
	}
	return f.logStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-keyprobe"
}

// Open connects to the configured database and applies the log store
// migrations.
func Open(ctx context.Context, cfg core.StoreConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, core.ValidationError("store.dsn", "store dsn is required for sql drivers")
	}
	dialectName, err := migrations.DialectForDriver(driver)
	if err != nil {
		return nil, core.ValidationError("store.driver", err.Error())
	}

	var dialect schema.Dialect
	switch dialectName {
	case migrations.DialectSQLite:
		driver = "sqlite3"
		dialect = sqlitedialect.New()
	default:
		driver = "postgres"
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if dialectName == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, dialectName, func(_ context.Context, source migrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
