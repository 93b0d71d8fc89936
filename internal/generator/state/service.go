// Package state contains the persisted generation state of the feed and the
// service through which the generator and registrar read and update it.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/catalog-feed-server/internal/kvstore"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

// Service reads and updates the generation state.
//
//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/stacklok/catalog-feed-server/internal/generator/state Service
type Service interface {
	// Get returns the state, served from the process cache unless forceRefresh is set.
	// Missing fields are filled with defaults.
	Get(ctx context.Context, forceRefresh bool) (status.GenerationState, error)
	// Set merges update into the persisted state and stamps last_activity_at.
	// Moving to in_progress also stamps started_at. Observers are notified after
	// a status change has been persisted.
	Set(ctx context.Context, update status.Update) (status.GenerationState, error)
	// MarkDirty flags that the catalog changed since the last completed cycle
	MarkDirty(ctx context.Context) error
	// ClearDirty clears the dirty flag
	ClearDirty(ctx context.Context) error
	// IsDirty reads the dirty flag, always from the store
	IsDirty(ctx context.Context) (bool, error)
	// Subscribe registers an observer for status changes and returns a function that removes it
	Subscribe(observer Observer) func()
	// Reset deletes the persisted state, restoring the defaults
	Reset(ctx context.Context) error
}

// Observer receives status changes
type Observer func(change status.StatusChange)

// Namespace provides the feed id under which state keys are stored
type Namespace interface {
	FeedID(ctx context.Context) (string, error)
}

const (
	fieldStatus             = "status"
	fieldStartedAt          = "started_at"
	fieldLastActivityAt     = "last_activity_at"
	fieldProductCount       = "product_count"
	fieldRecentProductCount = "recent_product_count"
	fieldLastDuration       = "last_duration"
	fieldErrorMessage       = "error_message"
	fieldRetryCount         = "retry_count"
	fieldDirty              = "dirty"
	fieldCheckpoint         = "checkpoint"
)

// Option configures the state service
type Option func(*stateService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *stateService) {
		s.now = now
	}
}

type stateService struct {
	store     kvstore.Store
	namespace Namespace
	now       func() time.Time

	mu          sync.Mutex
	cached      *status.GenerationState
	cachedForID string

	observersMu sync.RWMutex
	observers   map[int]Observer
	nextID      int
}

// NewService creates a state service storing one key per field under
// feed/<feed-id>/state/
func NewService(store kvstore.Store, namespace Namespace, opts ...Option) Service {
	s := &stateService{
		store:     store,
		namespace: namespace,
		now:       time.Now,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *stateService) Get(ctx context.Context, forceRefresh bool) (status.GenerationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feedID, err := s.namespace.FeedID(ctx)
	if err != nil {
		return status.GenerationState{}, err
	}
	if !forceRefresh && s.cached != nil && s.cachedForID == feedID {
		return *s.cached, nil
	}

	st, err := s.load(ctx, feedID)
	if err != nil {
		return status.GenerationState{}, err
	}
	s.cached = &st
	s.cachedForID = feedID
	return st, nil
}

func (s *stateService) Set(ctx context.Context, update status.Update) (status.GenerationState, error) {
	feedID, previous, current, err := s.apply(ctx, update)
	if err != nil {
		return status.GenerationState{}, err
	}

	if update.Status != nil && previous != current.Status {
		slog.Info("Feed generation status changed",
			"feed_id", feedID,
			"previous", previous,
			"current", current.Status)
		s.notify(status.StatusChange{Previous: previous, Current: current.Status, State: current})
	}
	return current, nil
}

// apply persists update field by field and refreshes the cache
func (s *stateService) apply(
	ctx context.Context,
	update status.Update,
) (feedID string, previous status.Phase, current status.GenerationState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feedID, err = s.namespace.FeedID(ctx)
	if err != nil {
		return "", "", current, err
	}

	current, err = s.load(ctx, feedID)
	if err != nil {
		return "", "", current, err
	}
	previous = current.Status

	// Part of the update may be persisted when a write fails
	defer func() {
		if err != nil {
			s.cached = nil
		}
	}()

	now := s.now().UTC()
	writes := map[string]any{fieldLastActivityAt: now}
	current.LastActivityAt = &now

	if update.Status != nil {
		current.Status = *update.Status
		writes[fieldStatus] = current.Status
		if current.Status == status.PhaseInProgress && previous != status.PhaseInProgress {
			current.StartedAt = &now
			writes[fieldStartedAt] = now
		}
	}
	if update.ProductCount != nil {
		current.ProductCount = *update.ProductCount
		writes[fieldProductCount] = current.ProductCount
	}
	if update.RecentProductCount != nil {
		current.RecentProductCount = *update.RecentProductCount
		writes[fieldRecentProductCount] = current.RecentProductCount
	}
	if update.LastDuration != nil {
		current.LastDuration = *update.LastDuration
		writes[fieldLastDuration] = current.LastDuration
	}
	if update.ErrorMessage != nil {
		current.ErrorMessage = *update.ErrorMessage
		writes[fieldErrorMessage] = current.ErrorMessage
	}
	if update.RetryCount != nil {
		current.RetryCount = *update.RetryCount
		writes[fieldRetryCount] = current.RetryCount
	}

	for field, value := range writes {
		if err = kvstore.SetJSON(ctx, s.store, fieldKey(feedID, field), value); err != nil {
			return "", "", current, fmt.Errorf("failed to persist generation state field '%s': %w", field, err)
		}
	}

	switch {
	case update.ClearCheckpoint:
		if err = s.store.Delete(ctx, fieldKey(feedID, fieldCheckpoint)); err != nil {
			return "", "", current, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		current.Checkpoint = nil
	case update.Checkpoint != nil:
		if err = kvstore.SetJSON(ctx, s.store, fieldKey(feedID, fieldCheckpoint), update.Checkpoint); err != nil {
			return "", "", current, fmt.Errorf("failed to persist checkpoint: %w", err)
		}
		cp := *update.Checkpoint
		current.Checkpoint = &cp
	}

	cached := current
	s.cached = &cached
	s.cachedForID = feedID
	return feedID, previous, current, nil
}

func (s *stateService) MarkDirty(ctx context.Context) error {
	return s.setDirty(ctx, true)
}

func (s *stateService) ClearDirty(ctx context.Context) error {
	return s.setDirty(ctx, false)
}

func (s *stateService) setDirty(ctx context.Context, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feedID, err := s.namespace.FeedID(ctx)
	if err != nil {
		return err
	}
	if err := kvstore.SetJSON(ctx, s.store, fieldKey(feedID, fieldDirty), dirty); err != nil {
		return fmt.Errorf("failed to persist dirty flag: %w", err)
	}
	if s.cached != nil && s.cachedForID == feedID {
		s.cached.Dirty = dirty
	}
	return nil
}

func (s *stateService) IsDirty(ctx context.Context) (bool, error) {
	feedID, err := s.namespace.FeedID(ctx)
	if err != nil {
		return false, err
	}
	var dirty bool
	if _, err := kvstore.GetJSON(ctx, s.store, fieldKey(feedID, fieldDirty), &dirty); err != nil {
		return false, fmt.Errorf("failed to read dirty flag: %w", err)
	}
	return dirty, nil
}

func (s *stateService) Subscribe(observer Observer) func() {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = observer

	return func() {
		s.observersMu.Lock()
		defer s.observersMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *stateService) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feedID, err := s.namespace.FeedID(ctx)
	if err != nil {
		return err
	}
	if err := s.store.DeletePrefix(ctx, kvstore.Key("feed", feedID, "state")+"/"); err != nil {
		return fmt.Errorf("failed to reset generation state: %w", err)
	}
	s.cached = nil
	s.cachedForID = ""
	return nil
}

func (s *stateService) notify(change status.StatusChange) {
	s.observersMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.observersMu.RUnlock()

	for _, o := range observers {
		o(change)
	}
}

// load reads every field, falling back to the default for missing ones
func (s *stateService) load(ctx context.Context, feedID string) (status.GenerationState, error) {
	st := status.Default()

	fields := []struct {
		name   string
		target any
	}{
		{fieldStatus, &st.Status},
		{fieldStartedAt, &st.StartedAt},
		{fieldLastActivityAt, &st.LastActivityAt},
		{fieldProductCount, &st.ProductCount},
		{fieldRecentProductCount, &st.RecentProductCount},
		{fieldLastDuration, &st.LastDuration},
		{fieldErrorMessage, &st.ErrorMessage},
		{fieldRetryCount, &st.RetryCount},
		{fieldDirty, &st.Dirty},
		{fieldCheckpoint, &st.Checkpoint},
	}
	for _, f := range fields {
		if _, err := kvstore.GetJSON(ctx, s.store, fieldKey(feedID, f.name), f.target); err != nil {
			return status.GenerationState{}, fmt.Errorf("failed to load generation state field '%s': %w", f.name, err)
		}
	}
	if st.Status == "" {
		st.Status = status.PhasePendingConfig
	}
	return st, nil
}

func fieldKey(feedID, field string) string {
	return kvstore.Key("feed", feedID, "state", field)
}
