package catalog

import (
	"context"
	"slices"
	"sync"
)

// MemoryRepository holds products in memory
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[ItemID]*Product
}

// NewMemoryRepository creates a repository holding the given products
func NewMemoryRepository(products ...Product) *MemoryRepository {
	r := &MemoryRepository{products: make(map[ItemID]*Product, len(products))}
	for _, p := range products {
		r.Put(p)
	}
	return r
}

// Put adds or replaces a product
func (r *MemoryRepository) Put(p Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = &p
}

// Remove deletes a product
func (r *MemoryRepository) Remove(id ItemID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
}

// ListIDs implements Repository
func (r *MemoryRepository) ListIDs(_ context.Context, limit, offset int) ([]ItemID, error) {
	r.mu.RLock()
	ids := make([]ItemID, 0, len(r.products))
	for id := range r.products {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return page(ids, limit, offset), nil
}

// Get implements Repository
func (r *MemoryRepository) Get(_ context.Context, id ItemID) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	out := *p
	return &out, nil
}

func page(ids []ItemID, limit, offset int) []ItemID {
	if offset >= len(ids) || limit <= 0 {
		return []ItemID{}
	}
	end := min(offset+limit, len(ids))
	return slices.Clone(ids[offset:end])
}
