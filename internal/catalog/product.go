// Package catalog is the item source of the feed: it pages product ids in a
// stable ascending order and renders a product into a feed item per destination.
package catalog

import (
	"context"
	"errors"
)

// ItemID identifies a product
type ItemID int64

// DefaultPriceKey holds the price used for markets without an override
const DefaultPriceKey = "default"

// ErrProductNotFound is returned when a product id is unknown to the repository
var ErrProductNotFound = errors.New("product not found")

// Price is a product price. A zero Amount means the product has no price.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Product is a catalog product
type Product struct {
	ID           ItemID           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Link         string           `json:"link"`
	ImageLink    string           `json:"image_link"`
	Brand        string           `json:"brand"`
	Availability string           `json:"availability"`
	Condition    string           `json:"condition"`
	GTIN         string           `json:"gtin"`
	Prices       map[string]Price `json:"prices"`
}

// PriceFor returns the price for a market, falling back to the default price
func (p *Product) PriceFor(market string) Price {
	if price, ok := p.Prices[market]; ok {
		return price
	}
	return p.Prices[DefaultPriceKey]
}

// Repository is the backing store of products
//
//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks -source=product.go Repository
type Repository interface {
	// ListIDs returns up to limit ids starting at offset, ordered by ascending id
	ListIDs(ctx context.Context, limit, offset int) ([]ItemID, error)
	// Get returns a product or ErrProductNotFound
	Get(ctx context.Context, id ItemID) (*Product, error)
}
