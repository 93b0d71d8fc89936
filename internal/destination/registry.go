// Package destination assigns and persists the output destinations of the feed:
// one temp/final file pair and public URL per target market.
package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stacklok/catalog-feed-server/internal/feederr"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
)

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks -source=registry.go Registry

const (
	// FeedIDKey holds the generated namespace id under which all other feed keys live
	FeedIDKey = "feed/id"

	// DefaultFilePrefix is used when no file prefix is configured
	DefaultFilePrefix = "catalog-feed"

	shortIDLength = 10
)

// ErrNoMarkets is returned when destinations are requested for an empty market set
var ErrNoMarkets = errors.New("no markets configured")

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_]+`)

// MarketKey identifies a target market, for example "US" or "EU"
type MarketKey string

// Destination is one output feed
type Destination struct {
	ID        string    `json:"id"`
	Market    MarketKey `json:"market"`
	TempPath  string    `json:"tmp_file"`
	FinalPath string    `json:"feed_file"`
	PublicURL string    `json:"feed_url"`
}

// Registry persists destinations and the identifiers that hang off them
type Registry interface {
	// FeedID returns the namespace id, generating and persisting one on first use
	FeedID(ctx context.Context) (string, error)

	// EnsureDestinations adds a destination for every market that does not have one yet.
	// Existing destinations are never changed.
	EnsureDestinations(ctx context.Context, markets []MarketKey) (map[MarketKey]Destination, error)

	// Destinations returns the persisted destinations
	Destinations(ctx context.Context) (map[MarketKey]Destination, error)

	// RegisteredFeedID returns the remote feed id recorded for a market, or "" if none
	RegisteredFeedID(ctx context.Context, market MarketKey) (string, error)

	// SetRegisteredFeedID records the remote feed id for a market
	SetRegisteredFeedID(ctx context.Context, market MarketKey, feedID string) error

	// MerchantID returns the remote merchant id, or "" if none is known
	MerchantID(ctx context.Context) (string, error)

	// SetMerchantID records the remote merchant id
	SetMerchantID(ctx context.Context, merchantID string) error

	// Deregister clears all destinations and registration ids and drops the feed id,
	// so that the next FeedID call starts a fresh namespace
	Deregister(ctx context.Context) error
}

// Options control destination naming
type Options struct {
	OutputDir     string
	PublicBaseURL string
	FilePrefix    string
}

type registry struct {
	store kvstore.Store
	opts  Options

	// serializes read-modify-write of the destination map within the process
	mu sync.Mutex
}

// NewRegistry creates a destination registry on top of the given store
func NewRegistry(store kvstore.Store, opts Options) Registry {
	if opts.FilePrefix == "" {
		opts.FilePrefix = DefaultFilePrefix
	}
	return &registry{store: store, opts: opts}
}

func (r *registry) FeedID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feedID(ctx)
}

func (r *registry) feedID(ctx context.Context) (string, error) {
	var id string
	found, err := kvstore.GetJSON(ctx, r.store, FeedIDKey, &id)
	if err != nil {
		return "", feederr.Transient("load feed id", err)
	}
	if found && id != "" {
		return id, nil
	}

	id = shortID()
	if err := kvstore.SetJSON(ctx, r.store, FeedIDKey, id); err != nil {
		return "", feederr.Transient("persist feed id", err)
	}
	slog.Info("Generated new feed id", "feed_id", id)
	return id, nil
}

func (r *registry) EnsureDestinations(
	ctx context.Context,
	markets []MarketKey,
) (map[MarketKey]Destination, error) {
	if len(markets) == 0 {
		return nil, feederr.Configuration("ensure destinations", ErrNoMarkets)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	feedID, err := r.feedID(ctx)
	if err != nil {
		return nil, err
	}

	destinations, err := r.load(ctx, feedID)
	if err != nil {
		return nil, feederr.Transient("load destinations", err)
	}

	added := 0
	for _, market := range markets {
		if _, ok := destinations[market]; ok {
			continue
		}
		dest, err := r.newDestination(market)
		if err != nil {
			return nil, feederr.Configuration("create destination", err)
		}
		destinations[market] = dest
		added++
		slog.Info("Created feed destination",
			"market", market,
			"destination", dest.ID,
			"feed_file", dest.FinalPath,
			"feed_url", dest.PublicURL)
	}

	if added > 0 {
		if err := kvstore.SetJSON(ctx, r.store, destinationsKey(feedID), destinations); err != nil {
			return nil, feederr.Transient("persist destinations", err)
		}
	}
	return maps.Clone(destinations), nil
}

func (r *registry) Destinations(ctx context.Context) (map[MarketKey]Destination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feedID, err := r.feedID(ctx)
	if err != nil {
		return nil, err
	}
	destinations, err := r.load(ctx, feedID)
	if err != nil {
		return nil, err
	}
	return destinations, nil
}

func (r *registry) RegisteredFeedID(ctx context.Context, market MarketKey) (string, error) {
	return r.getString(ctx, func(feedID string) string { return registeredFeedKey(feedID, market) })
}

func (r *registry) SetRegisteredFeedID(ctx context.Context, market MarketKey, feedID string) error {
	return r.setString(ctx, func(ns string) string { return registeredFeedKey(ns, market) }, feedID)
}

func (r *registry) MerchantID(ctx context.Context) (string, error) {
	return r.getString(ctx, merchantKey)
}

func (r *registry) SetMerchantID(ctx context.Context, merchantID string) error {
	return r.setString(ctx, merchantKey, merchantID)
}

func (r *registry) Deregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var feedID string
	found, err := kvstore.GetJSON(ctx, r.store, FeedIDKey, &feedID)
	if err != nil {
		return err
	}
	if found && feedID != "" {
		if err := r.store.DeletePrefix(ctx, kvstore.Key("feed", feedID)+"/"); err != nil {
			return fmt.Errorf("failed to clear feed namespace '%s': %w", feedID, err)
		}
	}
	if err := r.store.Delete(ctx, FeedIDKey); err != nil {
		return fmt.Errorf("failed to clear feed id: %w", err)
	}
	slog.Info("Deregistered feed destinations", "feed_id", feedID)
	return nil
}

func (r *registry) getString(ctx context.Context, key func(feedID string) string) (string, error) {
	feedID, err := r.FeedID(ctx)
	if err != nil {
		return "", err
	}
	var value string
	if _, err := kvstore.GetJSON(ctx, r.store, key(feedID), &value); err != nil {
		return "", err
	}
	return value, nil
}

func (r *registry) setString(ctx context.Context, key func(feedID string) string, value string) error {
	feedID, err := r.FeedID(ctx)
	if err != nil {
		return err
	}
	return kvstore.SetJSON(ctx, r.store, key(feedID), value)
}

func (r *registry) load(ctx context.Context, feedID string) (map[MarketKey]Destination, error) {
	destinations := make(map[MarketKey]Destination)
	if _, err := kvstore.GetJSON(ctx, r.store, destinationsKey(feedID), &destinations); err != nil {
		return nil, err
	}
	return destinations, nil
}

func (r *registry) newDestination(market MarketKey) (Destination, error) {
	id := shortID()
	base := fmt.Sprintf("%s-%s-%s", r.opts.FilePrefix, id, marketFileName(market))

	publicURL, err := url.JoinPath(r.opts.PublicBaseURL, base+".xml")
	if err != nil {
		return Destination{}, fmt.Errorf("invalid public base URL '%s': %w", r.opts.PublicBaseURL, err)
	}

	return Destination{
		ID:        id,
		Market:    market,
		TempPath:  filepath.Join(r.opts.OutputDir, base+"-tmp.xml"),
		FinalPath: filepath.Join(r.opts.OutputDir, base+".xml"),
		PublicURL: publicURL,
	}, nil
}

// Sorted returns destinations ordered by market key
func Sorted(destinations map[MarketKey]Destination) []Destination {
	out := make([]Destination, 0, len(destinations))
	for _, dest := range destinations {
		out = append(out, dest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:shortIDLength]
}

func marketFileName(market MarketKey) string {
	name := unsafeNameChars.ReplaceAllString(strings.ToLower(string(market)), "_")
	if name == "" {
		return "default"
	}
	return name
}

func destinationsKey(feedID string) string {
	return kvstore.Key("feed", feedID, "destinations")
}

func registeredFeedKey(feedID string, market MarketKey) string {
	return kvstore.Key("feed", feedID, "registered_feed_id", string(market))
}

func merchantKey(feedID string) string {
	return kvstore.Key("feed", feedID, "merchant_id")
}
