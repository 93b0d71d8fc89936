// Package registrar keeps the remote catalog service pointed at the published
// feed files. It runs on its own recurring schedule, independent of generation.
package registrar

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/otel"
	"github.com/stacklok/catalog-feed-server/internal/remote"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/telemetry"
)

// FileChecker reports whether a destination has been published
type FileChecker interface {
	Exists(dest destination.Destination) (bool, error)
}

// StepRegistrar binds step handlers
type StepRegistrar interface {
	Register(step scheduler.Step, handler scheduler.Handler)
}

// Config holds the registration settings
type Config struct {
	Markets  []destination.Market
	Merchant remote.MerchantRequest
	// FeedName prefixes the names of created feed profiles
	FeedName string
}

// Option configures the registrar
type Option func(*Registrar)

// WithMetrics sets the registration metrics
func WithMetrics(m *telemetry.RegistrationMetrics) Option {
	return func(r *Registrar) {
		r.metrics = m
	}
}

// WithTracer sets the tracer used for registration spans
func WithTracer(t trace.Tracer) Option {
	return func(r *Registrar) {
		r.tracer = t
	}
}

// Registrar registers destinations as feed profiles
type Registrar struct {
	cfg      Config
	markets  map[destination.MarketKey]destination.Market
	registry destination.Registry
	files    FileChecker
	client   remote.Client
	metrics  *telemetry.RegistrationMetrics
	tracer   trace.Tracer
}

// New creates a registrar
func New(cfg Config, registry destination.Registry, files FileChecker, client remote.Client, opts ...Option) *Registrar {
	r := &Registrar{
		cfg:      cfg,
		markets:  destination.ByKey(cfg.Markets),
		registry: registry,
		files:    files,
		client:   client,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds the registration step handler
func (r *Registrar) Register(s StepRegistrar) {
	s.Register(scheduler.StepRegister, func(ctx context.Context, _ scheduler.Args) error {
		return r.HandleFeedRegistration(ctx)
	})
}

// HandleFeedRegistration registers every published destination. Failures are
// logged and left for the next tick; they never fail the step.
func (r *Registrar) HandleFeedRegistration(ctx context.Context) error {
	ctx, span := otel.StartSpan(ctx, r.tracer, "registrar.HandleFeedRegistration")
	defer span.End()

	dests, err := r.registry.Destinations(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return err
	}

	for _, dest := range destination.Sorted(dests) {
		exists, err := r.files.Exists(dest)
		if err != nil {
			slog.Error("Cannot check feed file", "market", dest.Market, "error", err)
			r.metrics.RecordOutcome(ctx, string(dest.Market), telemetry.OutcomeFailed)
			continue
		}
		if !exists {
			slog.Info("Feed file not published yet, skipping registration",
				"market", dest.Market,
				"feed_file", dest.FinalPath)
			r.metrics.RecordOutcome(ctx, string(dest.Market), telemetry.OutcomeSkipped)
			continue
		}

		feedID, outcome, err := r.register(ctx, dest)
		if err != nil {
			slog.Error("Feed registration failed, will retry on next run",
				"market", dest.Market,
				"feed_url", dest.PublicURL,
				"error", err)
			r.metrics.RecordOutcome(ctx, string(dest.Market), telemetry.OutcomeFailed)
			continue
		}
		r.metrics.RecordOutcome(ctx, string(dest.Market), outcome)
		slog.Debug("Feed registration checked", "market", dest.Market, "feed_id", feedID, "outcome", outcome)
	}
	return nil
}

// RegisterFeed makes sure dest is registered and returns its feed profile id.
// ok is false when the merchant has been declined.
func (r *Registrar) RegisterFeed(ctx context.Context, dest destination.Destination) (feedID string, ok bool, err error) {
	feedID, outcome, err := r.register(ctx, dest)
	if err != nil {
		return "", false, err
	}
	return feedID, outcome != telemetry.OutcomeDeclined, nil
}

func (r *Registrar) register(ctx context.Context, dest destination.Destination) (string, string, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "registrar.RegisterFeed",
		trace.WithAttributes(otel.AttrMarket.String(string(dest.Market))))
	defer span.End()

	merchant, err := r.merchant(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return "", "", err
	}
	if merchant.ApprovalStatus == remote.ApprovalDeclined {
		slog.Warn("Merchant was declined, not registering feed",
			"merchant_id", merchant.ID,
			"market", dest.Market)
		return "", telemetry.OutcomeDeclined, nil
	}

	for _, feed := range merchant.Feeds {
		if feed.Location == dest.PublicURL {
			if err := r.remember(ctx, dest.Market, feed.ID); err != nil {
				return "", "", err
			}
			return feed.ID, telemetry.OutcomeUnchanged, nil
		}
	}

	market := r.markets[dest.Market]
	req := remote.FeedRequest{
		Name:     r.feedName(dest),
		Location: dest.PublicURL,
		Country:  market.Country,
		Locale:   market.Locale,
	}

	if len(merchant.Feeds) > 0 {
		previous, err := r.movedFeed(ctx, merchant.ID, dest, market)
		if err != nil {
			otel.RecordError(span, err)
			return "", "", err
		}
		if previous != "" {
			feedID, err := r.client.UpdateFeed(ctx, merchant.ID, previous, req)
			if err != nil {
				otel.RecordError(span, err)
				return "", "", fmt.Errorf("failed to update feed %s: %w", previous, err)
			}
			slog.Info("Updated feed location", "market", dest.Market, "feed_id", feedID, "feed_url", dest.PublicURL)
			return feedID, telemetry.OutcomeUpdated, r.remember(ctx, dest.Market, feedID)
		}
	}

	feedID, err := r.client.AddFeed(ctx, merchant.ID, req)
	if err != nil {
		otel.RecordError(span, err)
		return "", "", fmt.Errorf("failed to add feed: %w", err)
	}
	slog.Info("Registered feed", "market", dest.Market, "feed_id", feedID, "feed_url", dest.PublicURL)
	return feedID, telemetry.OutcomeAdded, r.remember(ctx, dest.Market, feedID)
}

// merchant loads the known merchant, creating one when none is known or the
// known one no longer exists remotely
func (r *Registrar) merchant(ctx context.Context) (*remote.Merchant, error) {
	merchantID, err := r.registry.MerchantID(ctx)
	if err != nil {
		return nil, err
	}

	if merchantID != "" {
		merchant, err := r.client.GetMerchant(ctx, merchantID)
		switch {
		case err == nil:
			return merchant, nil
		case remote.IsNotFound(err):
			slog.Warn("Known merchant no longer exists, creating a new one", "merchant_id", merchantID)
		default:
			return nil, fmt.Errorf("failed to get merchant %s: %w", merchantID, err)
		}
	}

	merchantID, err = r.client.CreateOrUpdateMerchant(ctx, r.cfg.Merchant)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant: %w", err)
	}
	if err := r.registry.SetMerchantID(ctx, merchantID); err != nil {
		return nil, err
	}
	slog.Info("Created merchant", "merchant_id", merchantID)
	return &remote.Merchant{ID: merchantID}, nil
}

// movedFeed returns the id of the previously registered feed of this market if
// it looks like the same feed at a new location: same parent directory, country
// and locale. This can match an unrelated feed that shares all three.
func (r *Registrar) movedFeed(
	ctx context.Context,
	merchantID string,
	dest destination.Destination,
	market destination.Market,
) (string, error) {
	previous, err := r.registry.RegisteredFeedID(ctx, dest.Market)
	if err != nil || previous == "" {
		return "", err
	}

	feed, err := r.client.GetFeed(ctx, merchantID, previous)
	if err != nil {
		if remote.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get feed %s: %w", previous, err)
	}

	if parentDir(feed.Location) != parentDir(dest.PublicURL) ||
		!strings.EqualFold(feed.Country, market.Country) ||
		!strings.EqualFold(feed.Locale, market.Locale) {
		slog.Info("Previously registered feed does not match destination, adding a new one",
			"market", dest.Market,
			"feed_id", previous,
			"location", feed.Location)
		return "", nil
	}
	return feed.ID, nil
}

func (r *Registrar) remember(ctx context.Context, market destination.MarketKey, feedID string) error {
	current, err := r.registry.RegisteredFeedID(ctx, market)
	if err != nil {
		return err
	}
	if current == feedID {
		return nil
	}
	return r.registry.SetRegisteredFeedID(ctx, market, feedID)
}

func (r *Registrar) feedName(dest destination.Destination) string {
	name := r.cfg.FeedName
	if name == "" {
		name = r.cfg.Merchant.Name
	}
	if name == "" {
		return string(dest.Market)
	}
	return fmt.Sprintf("%s %s", name, dest.Market)
}

// parentDir returns the URL of the directory containing location
func parentDir(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = path.Dir(u.Path)
	u.RawPath = ""
	return strings.ToLower(u.Scheme + "://" + u.Host + u.Path)
}
