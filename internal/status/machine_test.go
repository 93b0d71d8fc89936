package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Phase
		event   Event
		want    Phase
		wantErr bool
	}{
		{name: "first schedule", from: PhasePendingConfig, event: EventSchedule, want: PhaseScheduled},
		{name: "empty phase behaves as pending", from: "", event: EventSchedule, want: PhaseScheduled},
		{name: "start scheduled cycle", from: PhaseScheduled, event: EventStart, want: PhaseInProgress},
		{name: "success", from: PhaseInProgress, event: EventSucceed, want: PhaseGenerated},
		{name: "failure", from: PhaseInProgress, event: EventFail, want: PhaseError},
		{name: "cooldown elapsed", from: PhaseError, event: EventCooldownElapsed, want: PhaseScheduled},
		{name: "dirty at cycle end", from: PhaseGenerated, event: EventDirtyObserved, want: PhaseScheduled},
		{name: "daily trigger after success", from: PhaseGenerated, event: EventSchedule, want: PhaseScheduled},
		{name: "duplicate start is rejected", from: PhaseInProgress, event: EventStart, wantErr: true},
		{name: "cannot succeed without running", from: PhaseScheduled, event: EventSucceed, wantErr: true},
		{name: "cooldown only applies to errors", from: PhaseGenerated, event: EventCooldownElapsed, wantErr: true},
		{name: "dirty only applies to generated", from: PhaseError, event: EventDirtyObserved, wantErr: true},
		{name: "cannot schedule running cycle", from: PhaseInProgress, event: EventSchedule, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Transition(tt.from, tt.event)
			if tt.wantErr {
				require.Error(t, err)
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.event, te.Event)
				assert.False(t, CanTransition(tt.from, tt.event))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, CanTransition(tt.from, tt.event))
		})
	}
}

func TestIsActive(t *testing.T) {
	t.Parallel()

	active := map[Phase]bool{
		PhasePendingConfig: false,
		PhaseScheduled:     true,
		PhaseInProgress:    true,
		PhaseGenerated:     false,
		PhaseError:         false,
	}
	for _, p := range Phases {
		assert.Equal(t, active[p], IsActive(p), p)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	d := Default()
	assert.Equal(t, PhasePendingConfig, d.Status)
	assert.Zero(t, d.ProductCount)
	assert.Zero(t, d.RetryCount)
	assert.False(t, d.Dirty)
	assert.Nil(t, d.StartedAt)
}
