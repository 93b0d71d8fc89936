package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/catalog-feed-server/database"
	"github.com/stacklok/catalog-feed-server/internal/app/storage/auth"
	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
)

// DatabaseFactory creates Postgres-backed components. Components configured
// for file storage are delegated to a FileFactory.
type DatabaseFactory struct {
	config  *config.Config
	pool    *pgxpool.Pool
	files   *FileFactory
	migrate bool
}

var _ Factory = (*DatabaseFactory)(nil)

// DatabaseFactoryOption is a functional option for configuring the DatabaseFactory
type DatabaseFactoryOption func(*DatabaseFactory)

// WithMigrations applies pending schema migrations before the pool is opened
func WithMigrations(enabled bool) DatabaseFactoryOption {
	return func(f *DatabaseFactory) {
		f.migrate = enabled
	}
}

// NewDatabaseFactory opens a connection pool to the configured database
func NewDatabaseFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database storage")
	}

	files, err := NewFileFactory(cfg, nil)
	if err != nil {
		return nil, err
	}
	factory := &DatabaseFactory{config: cfg, files: files}
	for _, opt := range opts {
		opt(factory)
	}

	if factory.migrate {
		connString, err := auth.MigrationConnectionString(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		slog.Info("Applying database migrations")
		if err := database.MigrateUp(connString); err != nil {
			return nil, err
		}
	}

	factory.pool, err = buildConnectionPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	return factory, nil
}

// CreateStore returns the kv_store table store, or a file store when storage type is file
func (d *DatabaseFactory) CreateStore(ctx context.Context) (kvstore.Store, error) {
	if d.config.GetStorageType() != config.StorageTypeDatabase {
		return d.files.CreateStore(ctx)
	}
	slog.Info("Using database-backed state storage")
	return kvstore.NewPostgresStore(d.pool), nil
}

// CreateCatalogRepository returns the catalog_products repository, or a file repository when catalog type is file
func (d *DatabaseFactory) CreateCatalogRepository(ctx context.Context) (catalog.Repository, error) {
	if d.config.GetCatalogType() != config.CatalogTypeDatabase {
		return d.files.CreateCatalogRepository(ctx)
	}
	slog.Info("Reading products from database")
	return catalog.NewPostgresRepository(d.pool), nil
}

// Cleanup closes the connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}

func buildConnectionPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString, err := cfg.GetConnectionString()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}

	if cfg.DynamicAuth != nil {
		beforeConnect, err := auth.NewDynamicAuth(ctx, cfg, cfg.User)
		if err != nil {
			return nil, fmt.Errorf("failed to configure dynamic authentication: %w", err)
		}
		poolConfig.BeforeConnect = beforeConnect
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	slog.Info("Database connection pool created", "host", cfg.Host, "database", cfg.Database)
	return pool, nil
}
