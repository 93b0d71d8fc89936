// Package service provides the read and trigger operations behind the feed API
package service

import (
	"context"
	"errors"

	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

var (
	// ErrUnknownMarket is returned when a market filter names a market that is not configured
	ErrUnknownMarket = errors.New("unknown market")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go FeedService

// FeedService defines the operations exposed over HTTP
type FeedService interface {
	// CheckReadiness checks that the persistence layer can be reached
	CheckReadiness(ctx context.Context) error

	// GetStatus returns the generation state together with the pending generation steps
	GetStatus(ctx context.Context) (*FeedStatus, error)

	// ListDestinations returns the persisted destinations ordered by market
	ListDestinations(ctx context.Context, opts ...ListDestinationsOption) ([]DestinationStatus, error)

	// MarkDirty records a catalog change, starting a generation unless one is running
	MarkDirty(ctx context.Context) error

	// TriggerGeneration queues a manual generation request
	TriggerGeneration(ctx context.Context) error
}

// FeedStatus is the generation state as reported by the API
type FeedStatus struct {
	FeedID       string                  `json:"feed_id"`
	Markets      []destination.MarketKey `json:"markets"`
	State        status.GenerationState  `json:"state"`
	PendingSteps []scheduler.Step        `json:"pending_steps"`
}

// DestinationStatus describes one destination and its published file
type DestinationStatus struct {
	destination.Destination
	RegisteredFeedID string            `json:"registered_feed_id,omitempty"`
	Published        bool              `json:"published"`
	Feed             *feedfile.Summary `json:"feed,omitempty"`
	InspectError     string            `json:"inspect_error,omitempty"`
}

// ListDestinationsOptions is the options for the ListDestinations operation
type ListDestinationsOptions struct {
	Market  destination.MarketKey
	Inspect bool
}

// ListDestinationsOption sets an option for the ListDestinations operation
type ListDestinationsOption func(*ListDestinationsOptions) error

// WithMarket restricts the result to one market
func WithMarket(market destination.MarketKey) ListDestinationsOption {
	return func(o *ListDestinationsOptions) error {
		if market == "" {
			return errors.New("market cannot be empty")
		}
		o.Market = market
		return nil
	}
}

// WithInspect parses each published feed file and includes its summary
func WithInspect(inspect bool) ListDestinationsOption {
	return func(o *ListDestinationsOptions) error {
		o.Inspect = inspect
		return nil
	}
}
