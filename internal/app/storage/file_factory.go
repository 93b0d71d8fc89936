package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
)

// FileFactory creates components backed by the local filesystem
type FileFactory struct {
	config *config.Config
	fs     afero.Fs
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates a file-based storage factory. A nil fs uses the OS filesystem.
func NewFileFactory(cfg *config.Config, fs afero.Fs) (*FileFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileFactory{config: cfg, fs: fs}, nil
}

// CreateStore creates a file store under the configured base directory
func (f *FileFactory) CreateStore(_ context.Context) (kvstore.Store, error) {
	baseDir := f.config.GetFileStorageBaseDir()
	slog.Info("Using file-based state storage", "base_dir", baseDir)
	return kvstore.NewFileStore(baseDir)
}

// CreateCatalogRepository creates a repository over the configured JSON export
func (f *FileFactory) CreateCatalogRepository(_ context.Context) (catalog.Repository, error) {
	if f.config.GetCatalogType() != config.CatalogTypeFile || f.config.Catalog.File == nil {
		return nil, fmt.Errorf("catalog type %s requires a database", f.config.GetCatalogType())
	}
	slog.Info("Reading products from file", "path", f.config.Catalog.File.Path)
	return catalog.NewFileRepository(f.fs, f.config.Catalog.File.Path), nil
}

// Cleanup is a no-op for file storage
func (*FileFactory) Cleanup() {}
