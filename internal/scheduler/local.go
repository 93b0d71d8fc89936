package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/catalog-feed-server/internal/kvstore"
)

const (
	// JobsKey is the store key holding the job queue
	JobsKey = "scheduler/jobs"

	defaultPollInterval = 10 * time.Second
	// pollingJitter is the maximum random offset applied to the polling interval
	pollingJitter = 2 * time.Second
)

// Job is one persisted invocation
type Job struct {
	ID       string        `json:"id"`
	Seq      uint64        `json:"seq"`
	Step     Step          `json:"step"`
	Args     Args          `json:"args"`
	RunAt    time.Time     `json:"run_at"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Recurring reports whether the job is rescheduled after it runs
func (j Job) Recurring() bool {
	return j.Interval > 0
}

type queue struct {
	NextSeq uint64 `json:"next_seq"`
	Jobs    []Job  `json:"jobs"`
}

// RunObserver is called after every handler invocation
type RunObserver func(step Step, duration time.Duration, err error)

// Option configures the local scheduler
type Option func(*Local)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Local) {
		l.now = now
	}
}

// WithPollInterval sets how often the run loop looks for due jobs
func WithPollInterval(d time.Duration) Option {
	return func(l *Local) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithRunObserver registers a callback invoked after each handler run
func WithRunObserver(o RunObserver) Option {
	return func(l *Local) {
		l.observers = append(l.observers, o)
	}
}

// Local is an in-process Scheduler persisted in a kvstore.Store. A job is
// removed from the store only after its handler returns, so a job whose
// handler was interrupted by a crash runs again after restart.
type Local struct {
	store        kvstore.Store
	now          func() time.Time
	pollInterval time.Duration
	observers    []RunObserver

	mu       sync.Mutex
	handlers map[Step]Handler

	// serializes read-modify-write of the queue document
	queueMu sync.Mutex

	wake chan struct{}
}

var _ Scheduler = (*Local)(nil)

// NewLocal creates a local scheduler
func NewLocal(store kvstore.Store, opts ...Option) *Local {
	l := &Local{
		store:        store,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		handlers:     make(map[Step]Handler),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register binds a handler to a step
func (l *Local) Register(step Step, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[step] = handler
}

// Enqueue implements Scheduler
func (l *Local) Enqueue(ctx context.Context, step Step, args Args, opts ...EnqueueOption) error {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	err := l.update(ctx, func(q *queue) bool {
		q.Jobs = append(q.Jobs, Job{
			ID:    uuid.NewString(),
			Seq:   q.NextSeq,
			Step:  step,
			Args:  args,
			RunAt: l.now().Add(o.delay).UTC(),
		})
		q.NextSeq++
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue step '%s': %w", step, err)
	}

	slog.Debug("Enqueued step", "step", step, "batch", args.Batch, "reason", args.Reason, "delay", o.delay)
	l.notify()
	return nil
}

// EnqueueRecurring implements Scheduler. A new recurring job first runs immediately.
func (l *Local) EnqueueRecurring(ctx context.Context, step Step, interval time.Duration, args Args) error {
	if interval <= 0 {
		return fmt.Errorf("interval for recurring step '%s' must be positive", step)
	}

	err := l.update(ctx, func(q *queue) bool {
		for i := range q.Jobs {
			if q.Jobs[i].Step == step && q.Jobs[i].Recurring() {
				if q.Jobs[i].Interval == interval && q.Jobs[i].Args == args {
					return false
				}
				q.Jobs[i].Interval = interval
				q.Jobs[i].Args = args
				return true
			}
		}
		q.Jobs = append(q.Jobs, Job{
			ID:       uuid.NewString(),
			Seq:      q.NextSeq,
			Step:     step,
			Args:     args,
			RunAt:    l.now().UTC(),
			Interval: interval,
		})
		q.NextSeq++
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue recurring step '%s': %w", step, err)
	}

	slog.Info("Registered recurring step", "step", step, "interval", interval)
	l.notify()
	return nil
}

// CancelAll implements Scheduler
func (l *Local) CancelAll(ctx context.Context, step Step) error {
	cancelled := 0
	err := l.update(ctx, func(q *queue) bool {
		kept := q.Jobs[:0]
		for _, job := range q.Jobs {
			if job.Step == step {
				cancelled++
				continue
			}
			kept = append(kept, job)
		}
		q.Jobs = kept
		return cancelled > 0
	})
	if err != nil {
		return fmt.Errorf("failed to cancel step '%s': %w", step, err)
	}
	if cancelled > 0 {
		slog.Info("Cancelled scheduled step", "step", step, "count", cancelled)
	}
	return nil
}

// HasScheduled implements Scheduler
func (l *Local) HasScheduled(ctx context.Context, step Step) (bool, error) {
	jobs, err := l.Jobs(ctx)
	if err != nil {
		return false, err
	}
	for _, job := range jobs {
		if job.Step == step {
			return true, nil
		}
	}
	return false, nil
}

// Jobs returns the pending jobs ordered by due time
func (l *Local) Jobs(ctx context.Context) ([]Job, error) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	q, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	sortJobs(q.Jobs)
	return q.Jobs, nil
}

// Start runs due jobs until ctx is cancelled
func (l *Local) Start(ctx context.Context) error {
	slog.Info("Starting step scheduler", "poll_interval", l.pollInterval)

	ticker := time.NewTicker(l.nextPollInterval())
	defer ticker.Stop()

	if _, err := l.RunDue(ctx); err != nil {
		slog.Error("Error running scheduled steps", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Step scheduler stopping")
			return nil
		case <-ticker.C:
			ticker.Reset(l.nextPollInterval())
		case <-l.wake:
		}

		if _, err := l.RunDue(ctx); err != nil {
			slog.Error("Error running scheduled steps", "error", err)
		}
	}
}

// RunDue runs every job that is due, including jobs that become due while it
// runs, and returns the number of handler invocations
func (l *Local) RunDue(ctx context.Context) (int, error) {
	ran := 0
	for {
		if ctx.Err() != nil {
			return ran, nil
		}

		job, ok, err := l.nextDue(ctx)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}

		l.run(ctx, job)
		ran++

		if err := l.complete(ctx, job); err != nil {
			return ran, err
		}
	}
}

// Drain runs due one-off jobs until none is left, skipping recurring jobs.
// It is used by one-shot commands that run a full cycle in the foreground.
func (l *Local) Drain(ctx context.Context) (int, error) {
	ran := 0
	for {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}

		job, ok, err := l.nextDueMatching(ctx, func(j Job) bool { return !j.Recurring() })
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}

		l.run(ctx, job)
		ran++

		if err := l.complete(ctx, job); err != nil {
			return ran, err
		}
	}
}

func (l *Local) run(ctx context.Context, job Job) {
	l.mu.Lock()
	handler, ok := l.handlers[job.Step]
	l.mu.Unlock()

	if !ok {
		slog.Error("No handler registered for step, dropping job", "step", job.Step, "job_id", job.ID)
		return
	}

	start := l.now()
	err := handler(ctx, job.Args)
	duration := l.now().Sub(start)

	if err != nil {
		// Failures are not retried by the scheduler, handlers schedule their own retries
		slog.Error("Step failed",
			"step", job.Step,
			"job_id", job.ID,
			"batch", job.Args.Batch,
			"duration", duration,
			"error", err)
	} else {
		slog.Debug("Step completed", "step", job.Step, "job_id", job.ID, "duration", duration)
	}

	for _, o := range l.observers {
		o(job.Step, duration, err)
	}
}

// complete removes a finished job, or moves a recurring job to its next run
func (l *Local) complete(ctx context.Context, job Job) error {
	return l.update(ctx, func(q *queue) bool {
		for i := range q.Jobs {
			if q.Jobs[i].ID != job.ID {
				continue
			}
			if q.Jobs[i].Recurring() {
				q.Jobs[i].RunAt = l.now().Add(q.Jobs[i].Interval).UTC()
				return true
			}
			q.Jobs = append(q.Jobs[:i], q.Jobs[i+1:]...)
			return true
		}
		// Cancelled while running
		return false
	})
}

func (l *Local) nextDue(ctx context.Context) (Job, bool, error) {
	return l.nextDueMatching(ctx, func(Job) bool { return true })
}

func (l *Local) nextDueMatching(ctx context.Context, match func(Job) bool) (Job, bool, error) {
	jobs, err := l.Jobs(ctx)
	if err != nil {
		return Job{}, false, err
	}
	now := l.now()
	for _, job := range jobs {
		if job.RunAt.After(now) {
			break
		}
		if match(job) {
			return job, true, nil
		}
	}
	return Job{}, false, nil
}

func (l *Local) update(ctx context.Context, fn func(q *queue) bool) error {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	q, err := l.load(ctx)
	if err != nil {
		return err
	}
	if !fn(&q) {
		return nil
	}
	return kvstore.SetJSON(ctx, l.store, JobsKey, q)
}

func (l *Local) load(ctx context.Context) (queue, error) {
	var q queue
	if _, err := kvstore.GetJSON(ctx, l.store, JobsKey, &q); err != nil {
		return queue{}, fmt.Errorf("failed to load job queue: %w", err)
	}
	return q, nil
}

func (l *Local) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// nextPollInterval returns the poll interval with a random jitter applied
func (l *Local) nextPollInterval() time.Duration {
	jitter := pollingJitter
	if jitter >= l.pollInterval {
		jitter = l.pollInterval / 2
	}
	if jitter <= 0 {
		return l.pollInterval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return l.pollInterval + offset
}

func sortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return jobs[i].RunAt.Before(jobs[j].RunAt)
		}
		return jobs[i].Seq < jobs[j].Seq
	})
}
