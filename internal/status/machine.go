package status

import "fmt"

// Event drives a status transition
type Event string

const (
	// EventSchedule queues a new cycle
	EventSchedule Event = "schedule"

	// EventStart begins a queued cycle
	EventStart Event = "start"

	// EventSucceed completes a running cycle
	EventSucceed Event = "succeed"

	// EventFail aborts a cycle
	EventFail Event = "fail"

	// EventCooldownElapsed re-queues a failed feed after the error cooldown
	EventCooldownElapsed Event = "cooldown_elapsed"

	// EventDirtyObserved re-queues a generated feed whose catalog changed during the cycle
	EventDirtyObserved Event = "dirty_observed"
)

type transitionKey struct {
	from  Phase
	event Event
}

var transitions = map[transitionKey]Phase{
	{PhasePendingConfig, EventSchedule}:  PhaseScheduled,
	{PhaseGenerated, EventSchedule}:      PhaseScheduled,
	{PhaseError, EventSchedule}:          PhaseScheduled,
	{PhaseScheduled, EventSchedule}:      PhaseScheduled,
	{PhaseError, EventCooldownElapsed}:   PhaseScheduled,
	{PhaseGenerated, EventDirtyObserved}: PhaseScheduled,
	{PhaseScheduled, EventStart}:         PhaseInProgress,
	{PhaseInProgress, EventSucceed}:      PhaseGenerated,
	{PhaseInProgress, EventFail}:         PhaseError,
	{PhaseScheduled, EventFail}:          PhaseError,
	{PhasePendingConfig, EventFail}:      PhaseError,
}

// TransitionError is returned for an event that is not allowed in the current phase
type TransitionError struct {
	From  Phase
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %q not allowed in phase %q", e.Event, e.From)
}

// Transition returns the phase reached by applying ev in phase from
func Transition(from Phase, ev Event) (Phase, error) {
	if from == "" {
		from = PhasePendingConfig
	}
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// CanTransition reports whether ev is allowed in phase from
func CanTransition(from Phase, ev Event) bool {
	_, err := Transition(from, ev)
	return err == nil
}

// IsActive reports whether a cycle is queued or running in phase p
func IsActive(p Phase) bool {
	return p == PhaseScheduled || p == PhaseInProgress
}
