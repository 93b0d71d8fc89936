package generator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	catalogmocks "github.com/stacklok/catalog-feed-server/internal/catalog/mocks"
	"github.com/stacklok/catalog-feed-server/internal/destination"
	destmocks "github.com/stacklok/catalog-feed-server/internal/destination/mocks"
	"github.com/stacklok/catalog-feed-server/internal/feederr"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	statemocks "github.com/stacklok/catalog-feed-server/internal/generator/state/mocks"
	schedmocks "github.com/stacklok/catalog-feed-server/internal/scheduler/mocks"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

type mocked struct {
	gen      *generator.Generator
	state    *statemocks.MockService
	sched    *schedmocks.MockScheduler
	registry *destmocks.MockRegistry
	source   *catalogmocks.MockSource
}

func newMocked(t *testing.T) *mocked {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := &mocked{
		state:    statemocks.NewMockService(ctrl),
		sched:    schedmocks.NewMockScheduler(ctrl),
		registry: destmocks.NewMockRegistry(ctrl),
		source:   catalogmocks.NewMockSource(ctrl),
	}
	m.gen = generator.New(defaultConfig(), m.registry, feedfile.NewWriter(afero.NewMemMapFs()),
		m.source, m.state, m.sched)
	return m
}

func TestStartGeneration_AlreadyScheduled(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseScheduled}, nil)
	m.sched.EXPECT().HasScheduled(gomock.Any(), scheduler.StepStart).Return(true, nil)

	require.NoError(t, m.gen.StartGeneration(context.Background(), generator.ReasonManual))
}

func TestStartGeneration_ScheduledWithoutStartJobIsRequeued(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseScheduled}, nil)
	m.sched.EXPECT().HasScheduled(gomock.Any(), scheduler.StepStart).Return(false, nil)

	gomock.InOrder(
		m.state.EXPECT().Set(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, u status.Update) (status.GenerationState, error) {
				require.NotNil(t, u.Status)
				assert.Equal(t, status.PhaseScheduled, *u.Status)
				return status.GenerationState{Status: *u.Status}, nil
			}),
		m.sched.EXPECT().Enqueue(gomock.Any(), scheduler.StepStart, scheduler.Args{Reason: generator.ReasonManual}).Return(nil),
	)

	require.NoError(t, m.gen.StartGeneration(context.Background(), generator.ReasonManual))
}

func TestStartGeneration_EnqueueFailureRecordsError(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	queueDown := errors.New("queue unavailable")

	m.state.EXPECT().Get(gomock.Any(), true).Return(status.Default(), nil)
	var phases []status.Phase
	var message string
	m.state.EXPECT().Set(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, u status.Update) (status.GenerationState, error) {
			phases = append(phases, *u.Status)
			if u.ErrorMessage != nil {
				message = *u.ErrorMessage
			}
			return status.GenerationState{Status: *u.Status}, nil
		}).Times(2)
	m.sched.EXPECT().Enqueue(gomock.Any(), scheduler.StepStart, gomock.Any()).Return(queueDown)

	err := m.gen.StartGeneration(context.Background(), generator.ReasonManual)
	require.ErrorIs(t, err, queueDown)
	assert.Equal(t, []status.Phase{status.PhaseScheduled, status.PhaseError}, phases)
	assert.Equal(t, "queue unavailable", message)
}

func TestStartGeneration_RetryOnlyLeavesError(t *testing.T) {
	t.Parallel()

	// a cooldown retry that finds the feed already generated does nothing
	m := newMocked(t)
	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseGenerated}, nil)

	require.NoError(t, m.gen.StartGeneration(context.Background(), generator.ReasonRetryAfterError))
}

func TestHandleStart_DuplicateIsIgnored(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseInProgress}, nil)

	require.NoError(t, m.gen.HandleStart(context.Background()))
}

func TestHandleBatch_IgnoredOutsideCycle(t *testing.T) {
	t.Parallel()

	for _, phase := range []status.Phase{status.PhaseGenerated, status.PhaseError, status.PhaseScheduled} {
		m := newMocked(t)
		m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: phase}, nil)
		require.NoError(t, m.gen.HandleBatch(context.Background(), 3), "phase %s", phase)
	}
}

func TestHandleBatch_StaleDeliveryIsIgnored(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{
		Status:     status.PhaseInProgress,
		Checkpoint: &status.Checkpoint{Batch: 4},
	}, nil)

	require.NoError(t, m.gen.HandleBatch(context.Background(), 2))
}

func TestHandleEnd_IgnoredOutsideCycle(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseGenerated}, nil)

	require.NoError(t, m.gen.HandleEnd(context.Background()))
}

func TestGetItemsForBatch(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	m.source.EXPECT().GetIDs(gomock.Any(), 100, 300).Return(nil, nil)

	ids, err := m.gen.GetItemsForBatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMarkDirty_ClearsFlagOnlyAfterCycleIsQueued(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	generated := status.GenerationState{Status: status.PhaseGenerated}

	gomock.InOrder(
		m.state.EXPECT().MarkDirty(gomock.Any()).Return(nil),
		m.state.EXPECT().Get(gomock.Any(), true).Return(generated, nil),
		m.state.EXPECT().Get(gomock.Any(), true).Return(generated, nil),
		m.state.EXPECT().Set(gomock.Any(), gomock.Any()).Return(status.GenerationState{Status: status.PhaseScheduled}, nil),
		m.sched.EXPECT().Enqueue(gomock.Any(), scheduler.StepStart, scheduler.Args{Reason: generator.ReasonDirty}).Return(nil),
		m.state.EXPECT().ClearDirty(gomock.Any()).Return(nil),
	)

	require.NoError(t, m.gen.MarkDirty(context.Background()))
}

func TestMarkDirty_EnqueueFailureKeepsFlag(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	queueDown := errors.New("queue unavailable")
	generated := status.GenerationState{Status: status.PhaseGenerated}

	m.state.EXPECT().MarkDirty(gomock.Any()).Return(nil)
	m.state.EXPECT().Get(gomock.Any(), true).Return(generated, nil).Times(2)
	m.state.EXPECT().Set(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, u status.Update) (status.GenerationState, error) {
			return status.GenerationState{Status: *u.Status}, nil
		}).Times(2)
	m.sched.EXPECT().Enqueue(gomock.Any(), scheduler.StepStart, gomock.Any()).Return(queueDown)
	// No ClearDirty call: the controller fails the test on an unexpected call

	err := m.gen.MarkDirty(context.Background())
	require.ErrorIs(t, err, queueDown)
}

func TestHandleStart_StoreOutageSchedulesRetry(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	storeDown := feederr.Transient("load destinations", errors.New("connection refused"))

	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseScheduled}, nil)
	m.state.EXPECT().Get(gomock.Any(), false).Return(status.GenerationState{Status: status.PhaseError}, nil)
	var phases []status.Phase
	m.state.EXPECT().Set(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, u status.Update) (status.GenerationState, error) {
			phases = append(phases, *u.Status)
			return status.GenerationState{Status: *u.Status}, nil
		}).Times(2)
	m.registry.EXPECT().EnsureDestinations(gomock.Any(), gomock.Any()).Return(nil, storeDown)
	m.sched.EXPECT().Enqueue(gomock.Any(), scheduler.StepGenerate,
		scheduler.Args{Reason: generator.ReasonRetryAfterError}, gomock.Any()).Return(nil)

	err := m.gen.HandleStart(context.Background())
	require.ErrorIs(t, err, storeDown)
	assert.Equal(t, []status.Phase{status.PhaseInProgress, status.PhaseError}, phases)
}

func TestHandleStart_NoMarketsDoesNotRetry(t *testing.T) {
	t.Parallel()

	m := newMocked(t)
	noMarkets := feederr.Configuration("ensure destinations", destination.ErrNoMarkets)

	m.state.EXPECT().Get(gomock.Any(), true).Return(status.GenerationState{Status: status.PhaseScheduled}, nil)
	m.state.EXPECT().Get(gomock.Any(), false).Return(status.GenerationState{Status: status.PhaseError}, nil)
	m.state.EXPECT().Set(gomock.Any(), gomock.Any()).Return(status.GenerationState{}, nil).Times(2)
	m.registry.EXPECT().EnsureDestinations(gomock.Any(), gomock.Any()).Return(nil, noMarkets)
	// No Enqueue: a configuration error waits for a configuration change

	err := m.gen.HandleStart(context.Background())
	assert.ErrorIs(t, err, destination.ErrNoMarkets)
}
