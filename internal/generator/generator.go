package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/ptr"

	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feederr"
	"github.com/stacklok/catalog-feed-server/internal/generator/state"
	"github.com/stacklok/catalog-feed-server/internal/otel"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/status"
	"github.com/stacklok/catalog-feed-server/internal/telemetry"
)

const (
	// DefaultBatchSize is the number of items processed per batch
	DefaultBatchSize = 100
	// DefaultMaxRetriesPerBatch is how often a failing batch is retried before the cycle gives up
	DefaultMaxRetriesPerBatch = 2
	// DefaultWaitOnErrorBeforeRetry is the cooldown before a failed cycle is retried
	DefaultWaitOnErrorBeforeRetry = time.Hour
	// DefaultStallTimeout is how long a cycle may go without activity before it is considered interrupted
	DefaultStallTimeout = time.Hour
)

// Reasons a cycle is started
const (
	ReasonScheduled       = "scheduled"
	ReasonManual          = "manual"
	ReasonDirty           = "dirty"
	ReasonRetryAfterError = "retry_after_error"
)

// ErrInterrupted is recorded when a cycle stopped making progress
var ErrInterrupted = errors.New("previous generation was interrupted")

// FileWriter is the feed file lifecycle used by the generator
type FileWriter interface {
	Prepare(destinations []destination.Destination) error
	Append(dest destination.Destination, content string) error
	Finalize(destinations []destination.Destination) error
	Remove(destinations []destination.Destination) error
	Size(dest destination.Destination) (int64, error)
	Truncate(dest destination.Destination, size int64) error
}

// StepRegistrar binds step handlers, implemented by the local scheduler
type StepRegistrar interface {
	Register(step scheduler.Step, handler scheduler.Handler)
}

// Config holds the generation settings
type Config struct {
	Markets                []destination.Market
	BatchSize              int
	MaxRetriesPerBatch     int
	WaitOnErrorBeforeRetry time.Duration
	StallTimeout           time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetriesPerBatch < 0 {
		c.MaxRetriesPerBatch = DefaultMaxRetriesPerBatch
	}
	if c.WaitOnErrorBeforeRetry <= 0 {
		c.WaitOnErrorBeforeRetry = DefaultWaitOnErrorBeforeRetry
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	return c
}

// Option configures the generator
type Option func(*Generator)

// WithMetrics sets the generation metrics
func WithMetrics(m *telemetry.GenerationMetrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithTracer sets the tracer used for generation spans
func WithTracer(t trace.Tracer) Option {
	return func(g *Generator) {
		g.tracer = t
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// Generator orchestrates the generation cycle
type Generator struct {
	cfg       Config
	registry  destination.Registry
	files     FileWriter
	source    catalog.Source
	state     state.Service
	scheduler scheduler.Scheduler
	metrics   *telemetry.GenerationMetrics
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a generator
func New(
	cfg Config,
	registry destination.Registry,
	files FileWriter,
	source catalog.Source,
	stateSvc state.Service,
	sched scheduler.Scheduler,
	opts ...Option,
) *Generator {
	g := &Generator{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		files:     files,
		source:    source,
		state:     stateSvc,
		scheduler: sched,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register binds the generation step handlers
func (g *Generator) Register(r StepRegistrar) {
	r.Register(scheduler.StepGenerate, func(ctx context.Context, args scheduler.Args) error {
		return g.StartGeneration(ctx, args.Reason)
	})
	r.Register(scheduler.StepStart, func(ctx context.Context, _ scheduler.Args) error {
		return g.HandleStart(ctx)
	})
	r.Register(scheduler.StepBatch, func(ctx context.Context, args scheduler.Args) error {
		return g.HandleBatch(ctx, args.Batch)
	})
	r.Register(scheduler.StepEnd, func(ctx context.Context, _ scheduler.Args) error {
		return g.HandleEnd(ctx)
	})
}

// StartGeneration queues a new cycle. It is a no-op while a cycle is running or
// already queued. The check is not atomic with the update, so two concurrent
// triggers may both queue a cycle; the second start step is then rejected by
// the state machine.
func (g *Generator) StartGeneration(ctx context.Context, reason string) error {
	ctx, span := otel.StartSpan(ctx, g.tracer, "generator.StartGeneration",
		trace.WithAttributes(otel.AttrReason.String(reason)))
	defer span.End()

	st, err := g.state.Get(ctx, true)
	if err != nil {
		otel.RecordError(span, err)
		return err
	}

	switch st.Status {
	case status.PhaseInProgress:
		stalled, err := g.stalled(ctx, st)
		if err != nil {
			return err
		}
		if !stalled {
			slog.Info("Feed generation already in progress, not starting another", "reason", reason)
			return nil
		}
		if st, err = g.markInterrupted(ctx); err != nil {
			return err
		}
	case status.PhaseScheduled:
		queued, err := g.scheduler.HasScheduled(ctx, scheduler.StepStart)
		if err != nil {
			return err
		}
		if queued {
			slog.Info("Feed generation already scheduled, not starting another", "reason", reason)
			return nil
		}
	}

	if len(g.cfg.Markets) == 0 {
		err := feederr.Configuration("start generation", destination.ErrNoMarkets)
		g.recordError(ctx, err)
		otel.RecordError(span, err)
		return err
	}

	event := status.EventSchedule
	switch {
	case reason == ReasonRetryAfterError:
		event = status.EventCooldownElapsed
	case reason == ReasonDirty && st.Status == status.PhaseGenerated:
		event = status.EventDirtyObserved
	}

	next, err := status.Transition(st.Status, event)
	if err != nil {
		slog.Info("Not starting feed generation", "reason", reason, "status", st.Status, "error", err)
		return nil
	}

	// The status is updated before the start step is queued so that the start
	// handler never observes the previous status
	if _, err := g.state.Set(ctx, status.Update{Status: &next}); err != nil {
		return err
	}
	if err := g.scheduler.Enqueue(ctx, scheduler.StepStart, scheduler.Args{Reason: reason}); err != nil {
		g.recordError(ctx, err)
		return err
	}

	slog.Info("Scheduled feed generation", "reason", reason)
	return nil
}

// HandleStart begins a queued cycle: it resets the counters, makes sure every
// market has a destination and prepares the temp files.
func (g *Generator) HandleStart(ctx context.Context) error {
	ctx, span := otel.StartSpan(ctx, g.tracer, "generator.HandleStart")
	defer span.End()

	st, err := g.state.Get(ctx, true)
	if err != nil {
		return err
	}
	next, err := status.Transition(st.Status, status.EventStart)
	if err != nil {
		slog.Warn("Ignoring start step", "status", st.Status, "error", err)
		return nil
	}

	if _, err := g.state.Set(ctx, status.Update{
		Status:          &next,
		RetryCount:      ptr.To(0),
		ProductCount:    ptr.To(0),
		ErrorMessage:    ptr.To(""),
		ClearCheckpoint: true,
	}); err != nil {
		return err
	}

	if err := g.start(ctx); err != nil {
		otel.RecordError(span, err)
		return g.fail(ctx, err)
	}
	return nil
}

func (g *Generator) start(ctx context.Context) error {
	dests, err := g.registry.EnsureDestinations(ctx, destination.Keys(g.cfg.Markets))
	if err != nil {
		return err
	}
	if err := g.files.Prepare(destination.Sorted(dests)); err != nil {
		return err
	}

	slog.Info("Feed generation started", "destinations", len(dests), "batch_size", g.cfg.BatchSize)
	return g.scheduler.Enqueue(ctx, scheduler.StepBatch, scheduler.Args{Batch: 0})
}

// GetItemsForBatch returns the ids of the given batch
func (g *Generator) GetItemsForBatch(ctx context.Context, batch int) ([]catalog.ItemID, error) {
	return g.source.GetIDs(ctx, g.cfg.BatchSize, batch*g.cfg.BatchSize)
}

// ProcessItems renders items for every destination and appends each
// destination's output in a single write. It returns the number of items that
// were rendered for at least one destination.
func (g *Generator) ProcessItems(
	ctx context.Context,
	dests []destination.Destination,
	items []catalog.ItemID,
) (int, error) {
	buffers := make([]strings.Builder, len(dests))
	processed := 0

	for _, id := range items {
		rendered := false
		for i, dest := range dests {
			fragment, err := g.source.Render(ctx, id, dest)
			if err != nil {
				return 0, fmt.Errorf("failed to render item %d for market %s: %w", id, dest.Market, err)
			}
			if fragment != "" {
				buffers[i].WriteString(fragment)
				rendered = true
			}
		}
		if rendered {
			processed++
		}
	}

	for i, dest := range dests {
		if err := g.files.Append(dest, buffers[i].String()); err != nil {
			return 0, err
		}
	}
	return processed, nil
}

// HandleBatch processes one batch and queues the next step. A failing batch is
// queued again until its retry budget is spent, then the error is returned.
func (g *Generator) HandleBatch(ctx context.Context, batch int) error {
	ctx, span := otel.StartSpan(ctx, g.tracer, "generator.HandleBatch",
		trace.WithAttributes(otel.AttrBatch.Int(batch)))
	defer span.End()

	st, err := g.state.Get(ctx, true)
	if err != nil {
		return err
	}
	if st.Status != status.PhaseInProgress {
		slog.Warn("Ignoring batch step, no cycle in progress", "batch", batch, "status", st.Status)
		return nil
	}
	if st.Checkpoint != nil && batch < st.Checkpoint.Batch {
		slog.Warn("Ignoring stale batch step", "batch", batch, "checkpoint", st.Checkpoint.Batch)
		return nil
	}

	count, err := g.processBatch(ctx, st, batch)
	if err == nil {
		if count == 0 {
			return g.scheduler.Enqueue(ctx, scheduler.StepEnd, scheduler.Args{})
		}
		return g.scheduler.Enqueue(ctx, scheduler.StepBatch, scheduler.Args{Batch: batch + 1})
	}

	otel.RecordError(span, err)
	if st.RetryCount < g.cfg.MaxRetriesPerBatch {
		g.metrics.RecordBatchFailure(ctx, false)
		retry := st.RetryCount + 1
		slog.Warn("Batch failed, retrying",
			"batch", batch,
			"attempt", retry,
			"max_retries", g.cfg.MaxRetriesPerBatch,
			"error", err)
		if _, setErr := g.state.Set(ctx, status.Update{RetryCount: &retry}); setErr != nil {
			return errors.Join(err, setErr)
		}
		return g.scheduler.Enqueue(ctx, scheduler.StepBatch, scheduler.Args{Batch: batch})
	}

	g.metrics.RecordBatchFailure(ctx, true)
	slog.Error("Batch failed, giving up on this cycle",
		"batch", batch,
		"retries", st.RetryCount,
		"error", err)

	failure := fmt.Errorf("batch %d failed after %d retries: %w", batch, st.RetryCount, err)
	if _, setErr := g.state.Set(ctx, status.Update{
		Status:          ptr.To(status.PhaseError),
		ErrorMessage:    ptr.To(failure.Error()),
		RetryCount:      ptr.To(0),
		ClearCheckpoint: true,
	}); setErr != nil {
		return errors.Join(failure, setErr)
	}
	return failure
}

// processBatch writes one batch and returns the number of ids it was given.
// Before writing, the temp file sizes are checkpointed; a repeated attempt of
// the same batch first cuts the files back to the checkpoint.
func (g *Generator) processBatch(ctx context.Context, st status.GenerationState, batch int) (int, error) {
	ids, err := g.GetItemsForBatch(ctx, batch)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		if _, err := g.state.Set(ctx, status.Update{RetryCount: ptr.To(0)}); err != nil {
			return 0, err
		}
		return 0, nil
	}

	destMap, err := g.registry.Destinations(ctx)
	if err != nil {
		return 0, err
	}
	dests := destination.Sorted(destMap)

	baseCount, err := g.checkpoint(ctx, st, batch, dests)
	if err != nil {
		return 0, err
	}

	processed, err := g.ProcessItems(ctx, dests, ids)
	if err != nil {
		return 0, err
	}

	if _, err := g.state.Set(ctx, status.Update{
		ProductCount: ptr.To(baseCount + processed),
		RetryCount:   ptr.To(0),
	}); err != nil {
		return 0, err
	}
	g.metrics.RecordBatch(ctx, processed)

	slog.Debug("Batch written", "batch", batch, "items", len(ids), "processed", processed)
	return len(ids), nil
}

// checkpoint records or restores the file offsets at the start of batch and
// returns the product count to build on
func (g *Generator) checkpoint(
	ctx context.Context,
	st status.GenerationState,
	batch int,
	dests []destination.Destination,
) (int, error) {
	if cp := st.Checkpoint; cp != nil && cp.Batch == batch {
		for _, dest := range dests {
			offset, ok := cp.Offsets[string(dest.Market)]
			if !ok {
				continue
			}
			if err := g.files.Truncate(dest, offset); err != nil {
				return 0, err
			}
		}
		slog.Info("Rewound feed files for repeated batch", "batch", batch)
		return cp.ProductCount, nil
	}

	cp := &status.Checkpoint{
		Batch:        batch,
		ProductCount: st.ProductCount,
		Offsets:      make(map[string]int64, len(dests)),
	}
	for _, dest := range dests {
		size, err := g.files.Size(dest)
		if err != nil {
			return 0, err
		}
		cp.Offsets[string(dest.Market)] = size
	}
	if _, err := g.state.Set(ctx, status.Update{Checkpoint: cp}); err != nil {
		return 0, err
	}
	return st.ProductCount, nil
}

// HandleEnd publishes the feed files and completes the cycle. A dirty flag set
// during the cycle starts the next one right away.
func (g *Generator) HandleEnd(ctx context.Context) error {
	ctx, span := otel.StartSpan(ctx, g.tracer, "generator.HandleEnd")
	defer span.End()

	st, err := g.state.Get(ctx, true)
	if err != nil {
		return err
	}
	if st.Status != status.PhaseInProgress {
		slog.Warn("Ignoring end step, no cycle in progress", "status", st.Status)
		return nil
	}

	destMap, err := g.registry.Destinations(ctx)
	if err != nil {
		return g.fail(ctx, err)
	}
	if err := g.files.Finalize(destination.Sorted(destMap)); err != nil {
		otel.RecordError(span, err)
		return g.fail(ctx, err)
	}

	var duration time.Duration
	if st.StartedAt != nil {
		duration = g.now().Sub(*st.StartedAt)
	}
	if _, err := g.state.Set(ctx, status.Update{
		Status:             ptr.To(status.PhaseGenerated),
		RecentProductCount: ptr.To(st.ProductCount),
		LastDuration:       &duration,
		ErrorMessage:       ptr.To(""),
		ClearCheckpoint:    true,
	}); err != nil {
		return err
	}
	g.metrics.RecordCycle(ctx, duration, st.ProductCount, true)

	slog.Info("Feed generation completed",
		"products", st.ProductCount,
		"destinations", len(destMap),
		"duration", duration)

	dirty, err := g.state.IsDirty(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	slog.Info("Catalog changed during generation, starting another cycle")
	return g.startDirty(ctx)
}

// MarkDirty records a catalog change. Without a running cycle a new one is
// started; otherwise the running cycle picks the flag up when it ends.
func (g *Generator) MarkDirty(ctx context.Context) error {
	if err := g.state.MarkDirty(ctx); err != nil {
		return err
	}

	st, err := g.state.Get(ctx, true)
	if err != nil {
		return err
	}
	if st.Status == status.PhaseInProgress {
		slog.Debug("Catalog marked dirty during generation")
		return nil
	}

	return g.startDirty(ctx)
}

// startDirty starts a cycle for a pending catalog change. The dirty flag is
// only cleared once the cycle is queued, so a failed enqueue keeps it.
func (g *Generator) startDirty(ctx context.Context) error {
	if err := g.StartGeneration(ctx, ReasonDirty); err != nil {
		return err
	}
	return g.state.ClearDirty(ctx)
}

// RecoverInterrupted marks a cycle that stopped making progress as failed and
// schedules a retry. It is called at startup.
func (g *Generator) RecoverInterrupted(ctx context.Context) error {
	st, err := g.state.Get(ctx, true)
	if err != nil {
		return err
	}
	if st.Status != status.PhaseInProgress {
		return nil
	}

	stalled, err := g.stalled(ctx, st)
	if err != nil || !stalled {
		return err
	}

	slog.Warn("Previous feed generation was interrupted, resetting to error",
		"last_activity_at", st.LastActivityAt)
	if _, err := g.markInterrupted(ctx); err != nil {
		return err
	}
	return g.scheduleRetry(ctx)
}

// Deregister cancels pending generation steps, deletes the feed files and
// resets the generation state
func (g *Generator) Deregister(ctx context.Context) error {
	for _, step := range scheduler.GenerationSteps {
		if err := g.scheduler.CancelAll(ctx, step); err != nil {
			return err
		}
	}

	dests, err := g.registry.Destinations(ctx)
	if err != nil {
		return err
	}
	if err := g.files.Remove(destination.Sorted(dests)); err != nil {
		return err
	}
	return g.state.Reset(ctx)
}

// stalled reports whether an in-progress cycle has had no activity for the
// stall timeout and has no step left in the queue
func (g *Generator) stalled(ctx context.Context, st status.GenerationState) (bool, error) {
	if st.LastActivityAt != nil && g.now().Sub(*st.LastActivityAt) < g.cfg.StallTimeout {
		return false, nil
	}
	for _, step := range []scheduler.Step{scheduler.StepStart, scheduler.StepBatch, scheduler.StepEnd} {
		queued, err := g.scheduler.HasScheduled(ctx, step)
		if err != nil {
			return false, err
		}
		if queued {
			return false, nil
		}
	}
	return true, nil
}

func (g *Generator) markInterrupted(ctx context.Context) (status.GenerationState, error) {
	return g.state.Set(ctx, status.Update{
		Status:          ptr.To(status.PhaseError),
		ErrorMessage:    ptr.To(ErrInterrupted.Error()),
		RetryCount:      ptr.To(0),
		ClearCheckpoint: true,
	})
}

// fail records a cycle failure. Unless the failure needs a configuration
// change, a new cycle is scheduled after the error cooldown. The original
// error is returned so that the scheduler records a failed invocation.
func (g *Generator) fail(ctx context.Context, cause error) error {
	g.recordError(ctx, cause)

	st, _ := g.state.Get(ctx, false)
	var duration time.Duration
	if st.StartedAt != nil {
		duration = g.now().Sub(*st.StartedAt)
	}
	g.metrics.RecordCycle(ctx, duration, 0, false)

	if feederr.Is(cause, feederr.KindConfiguration) {
		slog.Error("Feed generation failed, configuration needs attention", "error", cause)
		return cause
	}

	slog.Error("Feed generation failed, retry scheduled",
		"error", cause,
		"retry_in", g.cfg.WaitOnErrorBeforeRetry)
	if err := g.scheduleRetry(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (g *Generator) scheduleRetry(ctx context.Context) error {
	return g.scheduler.Enqueue(ctx, scheduler.StepGenerate,
		scheduler.Args{Reason: ReasonRetryAfterError},
		scheduler.WithDelay(g.cfg.WaitOnErrorBeforeRetry))
}

func (g *Generator) recordError(ctx context.Context, cause error) {
	if _, err := g.state.Set(ctx, status.Update{
		Status:          ptr.To(status.PhaseError),
		ErrorMessage:    ptr.To(cause.Error()),
		ClearCheckpoint: true,
	}); err != nil {
		slog.Error("Failed to record generation error", "error", err, "cause", cause)
	}
}
