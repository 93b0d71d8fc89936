package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/generator/state"
	statemocks "github.com/stacklok/catalog-feed-server/internal/generator/state/mocks"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/service"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

type countingMarker struct {
	calls int
	err   error
}

func (m *countingMarker) MarkDirty(context.Context) error {
	m.calls++
	return m.err
}

type fixture struct {
	svc      service.FeedService
	registry destination.Registry
	fs       afero.Fs
	files    *feedfile.Writer
	sched    *scheduler.Local
	dirty    *countingMarker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := kvstore.NewMemoryStore()
	registry := destination.NewRegistry(store, destination.Options{
		OutputDir:     "/srv/feeds",
		PublicBaseURL: "https://cdn.example.com/feeds",
	})
	fs := afero.NewMemMapFs()
	files := feedfile.NewWriter(fs)
	sched := scheduler.NewLocal(store)
	dirty := &countingMarker{}
	markets := []destination.MarketKey{"EU", "US"}

	svc := service.New(markets, registry, files, state.NewService(store, registry), dirty, sched)
	return &fixture{svc: svc, registry: registry, fs: fs, files: files, sched: sched, dirty: dirty}
}

func (f *fixture) publish(t *testing.T, dest destination.Destination, items string) {
	t.Helper()
	dests := []destination.Destination{dest}
	require.NoError(t, f.files.Prepare(dests))
	require.NoError(t, f.files.Append(dest, items))
	require.NoError(t, f.files.Finalize(dests))
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, got.FeedID)
	assert.Equal(t, status.PhasePendingConfig, got.State.Status)
	assert.Equal(t, []destination.MarketKey{"EU", "US"}, got.Markets)
	assert.Empty(t, got.PendingSteps)

	require.NoError(t, f.svc.TriggerGeneration(ctx))

	got, err = f.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []scheduler.Step{scheduler.StepGenerate}, got.PendingSteps)

	jobs, err := f.sched.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, generator.ReasonManual, jobs[0].Args.Reason)
}

func TestListDestinations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	dests, err := f.registry.EnsureDestinations(ctx, []destination.MarketKey{"EU", "US"})
	require.NoError(t, err)
	require.NoError(t, f.registry.SetRegisteredFeedID(ctx, "EU", "feed-eu"))
	f.publish(t, dests["EU"], "<item><g:id>7</g:id><title>Lamp</title></item>\n")

	all, err := f.svc.ListDestinations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, destination.MarketKey("EU"), all[0].Market)
	assert.Equal(t, "feed-eu", all[0].RegisteredFeedID)
	assert.True(t, all[0].Published)
	assert.Nil(t, all[0].Feed, "summary is only read on request")
	assert.False(t, all[1].Published)

	eu, err := f.svc.ListDestinations(ctx, service.WithMarket("EU"), service.WithInspect(true))
	require.NoError(t, err)
	require.Len(t, eu, 1)
	require.NotNil(t, eu[0].Feed)
	assert.Equal(t, 1, eu[0].Feed.Items)

	_, err = f.svc.ListDestinations(ctx, service.WithMarket("JP"))
	assert.ErrorIs(t, err, service.ErrUnknownMarket)

	_, err = f.svc.ListDestinations(ctx, service.WithMarket(""))
	assert.Error(t, err)
}

func TestListDestinations_UnparsableFeed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	dests, err := f.registry.EnsureDestinations(ctx, []destination.MarketKey{"US"})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(f.fs, dests["US"].FinalPath, []byte("not a feed"), 0o644))

	got, err := f.svc.ListDestinations(ctx, service.WithInspect(true))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Published)
	assert.Nil(t, got[0].Feed)
	assert.NotEmpty(t, got[0].InspectError)
}

func TestMarkDirty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.svc.MarkDirty(context.Background()))
	assert.Equal(t, 1, f.dirty.calls)

	f.dirty.err = errors.New("boom")
	assert.Error(t, f.svc.MarkDirty(context.Background()))
}

func TestCheckReadiness(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	stateSvc := statemocks.NewMockService(ctrl)
	svc := service.New(nil, nil, nil, stateSvc, nil, nil)

	stateSvc.EXPECT().Get(gomock.Any(), true).Return(status.Default(), nil)
	require.NoError(t, svc.CheckReadiness(context.Background()))

	stateSvc.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{}, errors.New("connection refused"))
	err := svc.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state store not reachable")
}
