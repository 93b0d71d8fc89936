package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stacklok/catalog-feed-server/internal/destination"
)

// DefaultCacheSize is the number of products kept between paging and rendering
const DefaultCacheSize = 1024

// Source is the item source consumed by the generator
//
//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=source.go Source
type Source interface {
	// GetIDs returns up to limit item ids starting at offset in ascending id order
	GetIDs(ctx context.Context, limit, offset int) ([]ItemID, error)
	// Render returns the feed fragment of an item for a destination, or "" to suppress it
	Render(ctx context.Context, id ItemID, dest destination.Destination) (string, error)
}

type repositorySource struct {
	repo     Repository
	renderer *Renderer
	cache    *lru.Cache[ItemID, *Product]
}

// NewSource creates an item source over repo. Products are cached so that an
// item rendered for several destinations is loaded once.
func NewSource(repo Repository, renderer *Renderer, cacheSize int) (Source, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[ItemID, *Product](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create product cache: %w", err)
	}
	return &repositorySource{repo: repo, renderer: renderer, cache: cache}, nil
}

func (s *repositorySource) GetIDs(ctx context.Context, limit, offset int) ([]ItemID, error) {
	ids, err := s.repo.ListIDs(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	// A new cycle starts, drop products cached by the previous one
	if offset == 0 {
		s.cache.Purge()
	}
	return ids, nil
}

func (s *repositorySource) Render(ctx context.Context, id ItemID, dest destination.Destination) (string, error) {
	p, ok := s.cache.Get(id)
	if !ok {
		var err error
		p, err = s.repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				// Removed since it was paged, nothing to render
				slog.Debug("Product disappeared during generation", "product", id)
				return "", nil
			}
			return "", err
		}
		s.cache.Add(id, p)
	}
	return s.renderer.Render(p, dest.Market)
}
