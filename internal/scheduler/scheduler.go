// Package scheduler defines the durable at-least-once job queue that drives the
// feed pipeline, and an in-process implementation persisted in the key-value store.
package scheduler

import (
	"context"
	"time"
)

// Step names a unit of work
type Step string

const (
	// StepGenerate starts a new generation cycle
	StepGenerate Step = "feed.generate"
	// StepStart prepares the feed files of a cycle
	StepStart Step = "feed.generation.start"
	// StepBatch processes one batch of items
	StepBatch Step = "feed.generation.batch"
	// StepEnd publishes the feed files
	StepEnd Step = "feed.generation.end"
	// StepRegister reconciles destinations with the remote catalog
	StepRegister Step = "feed.register"
)

// GenerationSteps are the steps belonging to a generation cycle
var GenerationSteps = []Step{StepGenerate, StepStart, StepBatch, StepEnd}

// Args are the arguments passed to a step handler
type Args struct {
	Batch  int    `json:"batch,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Handler runs one step invocation. It may be invoked more than once for the same job.
type Handler func(ctx context.Context, args Args) error

// Scheduler is the job queue contract consumed by the generator and registrar.
// Delivery is at-least-once and there is no ordering guarantee across steps.
//
//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks -source=scheduler.go Scheduler
type Scheduler interface {
	// Enqueue schedules a single invocation of step
	Enqueue(ctx context.Context, step Step, args Args, opts ...EnqueueOption) error
	// EnqueueRecurring schedules step to run every interval. Re-registering a
	// recurring step updates its interval instead of adding another job.
	EnqueueRecurring(ctx context.Context, step Step, interval time.Duration, args Args) error
	// CancelAll removes every pending invocation of step, including recurring ones
	CancelAll(ctx context.Context, step Step) error
	// HasScheduled reports whether any invocation of step is pending or running
	HasScheduled(ctx context.Context, step Step) (bool, error)
}

// EnqueueOption configures a single Enqueue call
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	delay time.Duration
}

// WithDelay defers the invocation by d
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}
