package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/generator/state"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
)

// FileInspector reads published feed files
type FileInspector interface {
	Exists(dest destination.Destination) (bool, error)
	Inspect(dest destination.Destination) (feedfile.Summary, error)
}

// DirtyMarker records catalog changes
type DirtyMarker interface {
	MarkDirty(ctx context.Context) error
}

type feedService struct {
	markets   []destination.MarketKey
	registry  destination.Registry
	files     FileInspector
	state     state.Service
	dirty     DirtyMarker
	scheduler scheduler.Scheduler
}

var _ FeedService = (*feedService)(nil)

// New creates a FeedService over the feed components
func New(
	markets []destination.MarketKey,
	registry destination.Registry,
	files FileInspector,
	stateSvc state.Service,
	dirty DirtyMarker,
	sched scheduler.Scheduler,
) FeedService {
	return &feedService{
		markets:   markets,
		registry:  registry,
		files:     files,
		state:     stateSvc,
		dirty:     dirty,
		scheduler: sched,
	}
}

func (s *feedService) CheckReadiness(ctx context.Context) error {
	if _, err := s.state.Get(ctx, true); err != nil {
		return fmt.Errorf("state store not reachable: %w", err)
	}
	return nil
}

func (s *feedService) GetStatus(ctx context.Context) (*FeedStatus, error) {
	feedID, err := s.registry.FeedID(ctx)
	if err != nil {
		return nil, err
	}

	st, err := s.state.Get(ctx, true)
	if err != nil {
		return nil, err
	}

	pending := []scheduler.Step{}
	for _, step := range scheduler.GenerationSteps {
		queued, err := s.scheduler.HasScheduled(ctx, step)
		if err != nil {
			return nil, err
		}
		if queued {
			pending = append(pending, step)
		}
	}

	return &FeedStatus{
		FeedID:       feedID,
		Markets:      s.markets,
		State:        st,
		PendingSteps: pending,
	}, nil
}

func (s *feedService) ListDestinations(
	ctx context.Context,
	opts ...ListDestinationsOption,
) ([]DestinationStatus, error) {
	options := &ListDestinationsOptions{}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	if options.Market != "" && !slices.Contains(s.markets, options.Market) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, options.Market)
	}

	dests, err := s.registry.Destinations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]DestinationStatus, 0, len(dests))
	for _, dest := range destination.Sorted(dests) {
		if options.Market != "" && dest.Market != options.Market {
			continue
		}

		item, err := s.describe(ctx, dest, options.Inspect)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}

func (s *feedService) describe(
	ctx context.Context,
	dest destination.Destination,
	inspect bool,
) (DestinationStatus, error) {
	item := DestinationStatus{Destination: dest}

	feedID, err := s.registry.RegisteredFeedID(ctx, dest.Market)
	if err != nil {
		return item, err
	}
	item.RegisteredFeedID = feedID

	published, err := s.files.Exists(dest)
	if err != nil {
		return item, err
	}
	item.Published = published
	if !published || !inspect {
		return item, nil
	}

	summary, err := s.files.Inspect(dest)
	if err != nil {
		slog.Warn("Failed to inspect published feed", "destination", dest.Market, "error", err)
		item.InspectError = err.Error()
		return item, nil
	}
	item.Feed = &summary
	return item, nil
}

func (s *feedService) MarkDirty(ctx context.Context) error {
	return s.dirty.MarkDirty(ctx)
}

func (s *feedService) TriggerGeneration(ctx context.Context) error {
	return s.scheduler.Enqueue(ctx, scheduler.StepGenerate, scheduler.Args{Reason: generator.ReasonManual})
}
