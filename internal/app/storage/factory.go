// Package storage creates the storage-dependent components of the server as
// a family: the key-value store behind destinations, state and scheduled steps,
// and the product catalog repository.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
)

// Factory creates storage-dependent components and owns their resources
type Factory interface {
	// CreateStore creates the persistence layer for destinations, generation state and scheduled steps
	CreateStore(ctx context.Context) (kvstore.Store, error)

	// CreateCatalogRepository creates the product repository read by the generator
	CreateCatalogRepository(ctx context.Context) (catalog.Repository, error)

	// Cleanup releases held resources such as the database pool
	Cleanup()
}

// NewStorageFactory returns a DatabaseFactory when either the store or the
// catalog lives in Postgres, and a FileFactory otherwise
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.GetStorageType() == config.StorageTypeDatabase || cfg.GetCatalogType() == config.CatalogTypeDatabase {
		return NewDatabaseFactory(ctx, cfg, opts...)
	}
	return NewFileFactory(cfg, nil)
}
