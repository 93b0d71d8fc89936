package generator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/generator/state"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// renameFailFs fails renames onto paths containing match
type renameFailFs struct {
	afero.Fs
	match string
}

func (f *renameFailFs) Rename(oldname, newname string) error {
	if f.match != "" && strings.Contains(newname, f.match) {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrPermission}
	}
	return f.Fs.Rename(oldname, newname)
}

// flakyFiles fails the next n appends to one market
type flakyFiles struct {
	*feedfile.Writer
	mu     sync.Mutex
	market destination.MarketKey
	fails  int
}

func (f *flakyFiles) Append(dest destination.Destination, content string) error {
	f.mu.Lock()
	fail := dest.Market == f.market && f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("disk quota exceeded")
	}
	return f.Writer.Append(dest, content)
}

type harness struct {
	gen      *generator.Generator
	sched    *scheduler.Local
	state    state.Service
	registry destination.Registry
	writer   *feedfile.Writer
	files    *flakyFiles
	fs       *renameFailFs
	repo     *catalog.MemoryRepository
	clock    *fakeClock

	mu     sync.Mutex
	steps  []scheduler.Step
	onStep func(step scheduler.Step, err error)
}

var testMarkets = []destination.Market{
	{Key: "US", Country: "US", Locale: "en-US", Currency: "USD"},
	{Key: "EU", Country: "DE", Locale: "de-DE", Currency: "EUR"},
}

func products(n int) []catalog.Product {
	out := make([]catalog.Product, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, catalog.Product{
			ID:     catalog.ItemID(i),
			Title:  fmt.Sprintf("Product %d", i),
			Link:   fmt.Sprintf("https://shop.example.com/p/%d", i),
			Prices: map[string]catalog.Price{catalog.DefaultPriceKey: {Amount: float64(i)}},
		})
	}
	return out
}

func newHarness(t *testing.T, cfg generator.Config, items int) *harness {
	t.Helper()

	h := &harness{
		clock: &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		fs:    &renameFailFs{Fs: afero.NewMemMapFs()},
		repo:  catalog.NewMemoryRepository(products(items)...),
	}

	store := kvstore.NewMemoryStore()
	h.registry = destination.NewRegistry(store, destination.Options{
		OutputDir:     "/srv/feeds",
		PublicBaseURL: "https://cdn.example.com/feeds",
	})
	h.state = state.NewService(store, h.registry, state.WithClock(h.clock.Now))
	h.sched = scheduler.NewLocal(store,
		scheduler.WithClock(h.clock.Now),
		scheduler.WithRunObserver(func(step scheduler.Step, _ time.Duration, err error) {
			h.mu.Lock()
			h.steps = append(h.steps, step)
			hook := h.onStep
			h.mu.Unlock()
			if hook != nil {
				hook(step, err)
			}
		}),
	)
	h.writer = feedfile.NewWriter(h.fs)
	h.files = &flakyFiles{Writer: h.writer}

	source, err := catalog.NewSource(h.repo, catalog.NewRenderer(cfg.Markets), 0)
	require.NoError(t, err)

	h.gen = generator.New(cfg, h.registry, h.files, source, h.state, h.sched,
		generator.WithClock(h.clock.Now))
	h.gen.Register(h.sched)
	return h
}

func defaultConfig() generator.Config {
	return generator.Config{
		Markets:                testMarkets,
		BatchSize:              100,
		MaxRetriesPerBatch:     2,
		WaitOnErrorBeforeRetry: time.Hour,
	}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	_, err := h.sched.Drain(context.Background())
	require.NoError(t, err)
}

func (h *harness) count(step scheduler.Step) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.steps {
		if s == step {
			n++
		}
	}
	return n
}

func (h *harness) currentState(t *testing.T) status.GenerationState {
	t.Helper()
	st, err := h.state.Get(context.Background(), true)
	require.NoError(t, err)
	return st
}

func (h *harness) destinations(t *testing.T) []destination.Destination {
	t.Helper()
	dests, err := h.registry.Destinations(context.Background())
	require.NoError(t, err)
	return destination.Sorted(dests)
}

func (h *harness) jobs(t *testing.T, step scheduler.Step) []scheduler.Job {
	t.Helper()
	all, err := h.sched.Jobs(context.Background())
	require.NoError(t, err)
	var out []scheduler.Job
	for _, j := range all {
		if j.Step == step {
			out = append(out, j)
		}
	}
	return out
}

func TestFullCycle_PaginatesAndPublishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 250)
	ctx := context.Background()

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	assert.Equal(t, status.PhaseScheduled, h.currentState(t).Status)

	h.drain(t)

	st := h.currentState(t)
	assert.Equal(t, status.PhaseGenerated, st.Status)
	assert.Equal(t, 250, st.RecentProductCount)
	assert.Empty(t, st.ErrorMessage)
	assert.Nil(t, st.Checkpoint)

	// three full or partial pages, then one empty page ends the cycle
	assert.Equal(t, 4, h.count(scheduler.StepBatch))
	assert.Equal(t, 1, h.count(scheduler.StepEnd))

	dests := h.destinations(t)
	require.Len(t, dests, 2)
	for _, dest := range dests {
		summary, err := h.writer.Inspect(dest)
		require.NoError(t, err)
		assert.Equal(t, 250, summary.Items, "market %s", dest.Market)

		exists, err := afero.Exists(h.fs, dest.TempPath)
		require.NoError(t, err)
		assert.False(t, exists, "temp file should be renamed")
	}
}

func TestFullCycle_UnrenderableItemsAreNotCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 10)
	h.repo.Put(catalog.Product{ID: 11, Title: "", Prices: map[string]catalog.Price{catalog.DefaultPriceKey: {Amount: 5}}})
	h.repo.Put(catalog.Product{ID: 12, Title: "Free sample"})
	// only sold in Europe
	h.repo.Put(catalog.Product{ID: 13, Title: "Bike", Prices: map[string]catalog.Price{"EU": {Amount: 500}}})

	require.NoError(t, h.gen.StartGeneration(context.Background(), generator.ReasonManual))
	h.drain(t)

	assert.Equal(t, 11, h.currentState(t).RecentProductCount)
	for _, dest := range h.destinations(t) {
		summary, err := h.writer.Inspect(dest)
		require.NoError(t, err)
		want := 10
		if dest.Market == "EU" {
			want = 11
		}
		assert.Equal(t, want, summary.Items, "market %s", dest.Market)
	}
}

func TestStartGeneration_SingleFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 150)
	ctx := context.Background()

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonScheduled))
	assert.Len(t, h.jobs(t, scheduler.StepStart), 1)

	triggered := false
	h.onStep = func(step scheduler.Step, _ error) {
		if step == scheduler.StepBatch && !triggered {
			triggered = true
			require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
		}
	}
	h.drain(t)

	assert.True(t, triggered)
	assert.Equal(t, 1, h.count(scheduler.StepStart))
	assert.Equal(t, 1, h.count(scheduler.StepEnd))
	assert.Equal(t, 150, h.currentState(t).RecentProductCount)
}

func TestStartGeneration_NoMarkets(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Markets = nil
	h := newHarness(t, cfg, 5)

	err := h.gen.StartGeneration(context.Background(), generator.ReasonManual)
	require.ErrorIs(t, err, destination.ErrNoMarkets)

	st := h.currentState(t)
	assert.Equal(t, status.PhaseError, st.Status)
	assert.Contains(t, st.ErrorMessage, "no markets configured")
	assert.Empty(t, h.jobs(t, scheduler.StepGenerate), "configuration errors are not retried")
	assert.Empty(t, h.jobs(t, scheduler.StepStart))
}

func TestBatch_RetriesThenGivesUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 250)
	ctx := context.Background()
	h.files.market = "EU"
	h.files.fails = 100

	var retryCounts []int
	var batchErrs []error
	h.onStep = func(step scheduler.Step, err error) {
		if step == scheduler.StepBatch {
			retryCounts = append(retryCounts, h.currentState(t).RetryCount)
			batchErrs = append(batchErrs, err)
		}
	}

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	h.drain(t)

	assert.Equal(t, []int{1, 2, 0}, retryCounts)
	require.Len(t, batchErrs, 3)
	assert.NoError(t, batchErrs[0])
	assert.NoError(t, batchErrs[1])
	require.Error(t, batchErrs[2])
	assert.Contains(t, batchErrs[2].Error(), "disk quota exceeded")

	st := h.currentState(t)
	assert.Equal(t, status.PhaseError, st.Status)
	assert.Contains(t, st.ErrorMessage, "batch 0 failed after 2 retries")
	assert.Equal(t, 0, h.count(scheduler.StepEnd))
}

func TestBatch_RetryRewindsPartialWrites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 250)
	ctx := context.Background()

	// EU sorts before US, so fail US to leave a written EU batch behind
	h.onStep = func(step scheduler.Step, _ error) {
		if step == scheduler.StepBatch && h.count(scheduler.StepBatch) == 1 {
			h.files.mu.Lock()
			h.files.market = "US"
			h.files.fails = 1
			h.files.mu.Unlock()
		}
	}

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	h.drain(t)

	st := h.currentState(t)
	require.Equal(t, status.PhaseGenerated, st.Status)
	assert.Equal(t, 250, st.RecentProductCount)
	assert.Equal(t, 5, h.count(scheduler.StepBatch))

	for _, dest := range h.destinations(t) {
		ids, err := h.writer.ItemIDs(dest)
		require.NoError(t, err)
		assert.Len(t, ids, 250, "market %s", dest.Market)

		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate item %s in %s", id, dest.Market)
			seen[id] = true
		}
	}
}

func TestEnd_FinalizeFailureRetriesAfterCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 30)
	ctx := context.Background()
	h.fs.match = "-eu.xml"

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	h.drain(t)

	st := h.currentState(t)
	require.Equal(t, status.PhaseError, st.Status)
	var eu destination.Destination
	for _, d := range h.destinations(t) {
		if d.Market == "EU" {
			eu = d
		}
	}
	assert.Contains(t, st.ErrorMessage, eu.TempPath)
	assert.Contains(t, st.ErrorMessage, eu.FinalPath)

	retries := h.jobs(t, scheduler.StepGenerate)
	require.Len(t, retries, 1)
	assert.Equal(t, generator.ReasonRetryAfterError, retries[0].Args.Reason)
	assert.True(t, h.clock.Now().Add(time.Hour).Equal(retries[0].RunAt))

	// nothing runs before the cooldown has elapsed
	h.drain(t)
	assert.Equal(t, status.PhaseError, h.currentState(t).Status)

	h.fs.match = ""
	h.clock.Advance(time.Hour)
	h.drain(t)

	st = h.currentState(t)
	assert.Equal(t, status.PhaseGenerated, st.Status)
	assert.Empty(t, st.ErrorMessage)
	assert.Equal(t, 30, st.RecentProductCount)
}

// runUntilEnd runs a cycle up to, but not including, the end step
func (h *harness) runUntilEnd(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	require.NoError(t, h.gen.HandleStart(ctx))
	require.NoError(t, h.gen.HandleBatch(ctx, 0))
	require.NoError(t, h.gen.HandleBatch(ctx, 1))
	require.Equal(t, status.PhaseInProgress, h.currentState(t).Status)
}

func TestEnd_RedeliveredAfterFootersPublishesOneFooter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 30)
	ctx := context.Background()
	h.runUntilEnd(t)

	// The first delivery wrote the footers and stopped before renaming
	for _, d := range h.destinations(t) {
		f, err := h.fs.OpenFile(d.TempPath, os.O_WRONLY|os.O_APPEND, 0644)
		require.NoError(t, err)
		_, err = f.WriteString(feedfile.Footer)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	require.NoError(t, h.gen.HandleEnd(ctx))

	st := h.currentState(t)
	assert.Equal(t, status.PhaseGenerated, st.Status)
	assert.Equal(t, 30, st.RecentProductCount)
	for _, d := range h.destinations(t) {
		data, err := afero.ReadFile(h.fs, d.FinalPath)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(data), feedfile.Footer), "market %s", d.Market)

		summary, err := h.writer.Inspect(d)
		require.NoError(t, err)
		assert.Equal(t, 30, summary.Items)
	}
}

func TestEnd_RedeliveredAfterRenameCompletesCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 30)
	ctx := context.Background()
	h.runUntilEnd(t)

	// The first delivery published the files but did not record the result
	require.NoError(t, h.writer.Finalize(h.destinations(t)))

	require.NoError(t, h.gen.HandleEnd(ctx))

	st := h.currentState(t)
	assert.Equal(t, status.PhaseGenerated, st.Status)
	assert.Empty(t, st.ErrorMessage)
	assert.Equal(t, 30, st.RecentProductCount)
	assert.Empty(t, h.jobs(t, scheduler.StepGenerate), "no retry after a published cycle")

	for _, d := range h.destinations(t) {
		data, err := afero.ReadFile(h.fs, d.FinalPath)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(data), feedfile.Footer), "market %s", d.Market)
	}
}

func TestMarkDirty_DuringGenerationRerunsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 120)
	ctx := context.Background()

	marked := false
	h.onStep = func(step scheduler.Step, _ error) {
		if step == scheduler.StepBatch && !marked {
			marked = true
			require.NoError(t, h.gen.MarkDirty(ctx))
			require.NoError(t, h.gen.MarkDirty(ctx))
		}
	}

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	h.drain(t)

	assert.Equal(t, 2, h.count(scheduler.StepStart))
	assert.Equal(t, 2, h.count(scheduler.StepEnd))
	assert.Equal(t, status.PhaseGenerated, h.currentState(t).Status)

	dirty, err := h.state.IsDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestMarkDirty_IdleStartsGeneration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 3)
	ctx := context.Background()

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	h.drain(t)
	require.Equal(t, status.PhaseGenerated, h.currentState(t).Status)

	h.repo.Put(products(4)[3])
	require.NoError(t, h.gen.MarkDirty(ctx))
	require.NoError(t, h.gen.MarkDirty(ctx))

	assert.Equal(t, status.PhaseScheduled, h.currentState(t).Status)
	assert.Len(t, h.jobs(t, scheduler.StepStart), 1)

	h.drain(t)
	assert.Equal(t, 4, h.currentState(t).RecentProductCount)
}

func TestRecoverInterrupted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 3)
	ctx := context.Background()

	_, err := h.state.Set(ctx, status.Update{Status: ptr.To(status.PhaseInProgress)})
	require.NoError(t, err)

	// recent activity is left alone
	require.NoError(t, h.gen.RecoverInterrupted(ctx))
	assert.Equal(t, status.PhaseInProgress, h.currentState(t).Status)

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.gen.RecoverInterrupted(ctx))

	st := h.currentState(t)
	assert.Equal(t, status.PhaseError, st.Status)
	assert.Equal(t, generator.ErrInterrupted.Error(), st.ErrorMessage)
	require.Len(t, h.jobs(t, scheduler.StepGenerate), 1)

	h.clock.Advance(time.Hour)
	h.drain(t)
	assert.Equal(t, status.PhaseGenerated, h.currentState(t).Status)
}

func TestStartGeneration_StalledCycleIsReplaced(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 3)
	ctx := context.Background()

	_, err := h.state.Set(ctx, status.Update{Status: ptr.To(status.PhaseInProgress)})
	require.NoError(t, err)

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	assert.Equal(t, status.PhaseInProgress, h.currentState(t).Status, "active cycle is not interrupted")

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	assert.Equal(t, status.PhaseScheduled, h.currentState(t).Status)

	h.drain(t)
	assert.Equal(t, status.PhaseGenerated, h.currentState(t).Status)
}

func TestDeregister_RemovesFilesAndState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), 3)
	ctx := context.Background()

	require.NoError(t, h.gen.StartGeneration(ctx, generator.ReasonManual))
	h.drain(t)
	dests := h.destinations(t)
	require.NotEmpty(t, dests)

	require.NoError(t, h.gen.MarkDirty(ctx))
	require.NoError(t, h.gen.Deregister(ctx))

	for _, dest := range dests {
		exists, err := afero.Exists(h.fs, dest.FinalPath)
		require.NoError(t, err)
		assert.False(t, exists)
	}
	for _, step := range scheduler.GenerationSteps {
		assert.Empty(t, h.jobs(t, step), "step %s", step)
	}
	assert.Equal(t, status.Default().Status, h.currentState(t).Status)
}
