// Package status defines the persisted generation state of the feed and the
// state machine that governs its status transitions.
package status

import "time"

// Phase is the status of the feed generation lifecycle
type Phase string

const (
	// PhasePendingConfig is the initial phase before any cycle was scheduled
	PhasePendingConfig Phase = "pending_config"

	// PhaseScheduled means a generation cycle is queued
	PhaseScheduled Phase = "scheduled_for_generation"

	// PhaseInProgress means a generation cycle is running
	PhaseInProgress Phase = "in_progress"

	// PhaseGenerated means the last cycle published all feed files
	PhaseGenerated Phase = "generated"

	// PhaseError means the last cycle failed
	PhaseError Phase = "error"
)

// Phases lists every phase in lifecycle order
var Phases = []Phase{PhasePendingConfig, PhaseScheduled, PhaseInProgress, PhaseGenerated, PhaseError}

// Checkpoint records how far the temp files of the current cycle were written
// before a batch started, so that a retried batch can drop its partial output
type Checkpoint struct {
	Batch        int              `json:"batch"`
	ProductCount int              `json:"product_count"`
	Offsets      map[string]int64 `json:"offsets"`
}

// GenerationState is the durable state of the feed generation lifecycle
type GenerationState struct {
	// Status is the current lifecycle phase
	Status Phase `json:"status"`

	// StartedAt is stamped when the status moves to in_progress
	StartedAt *time.Time `json:"started_at,omitempty"`

	// LastActivityAt is stamped on every update
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	// ProductCount is the number of items written by the current or last cycle
	ProductCount int `json:"product_count"`

	// RecentProductCount is ProductCount as of the last successful cycle
	RecentProductCount int `json:"recent_product_count"`

	// LastDuration is the wall-clock duration of the last successful cycle
	LastDuration time.Duration `json:"last_duration"`

	// ErrorMessage describes the last cycle failure
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount counts failed attempts of the current batch
	RetryCount int `json:"retry_count"`

	// Dirty is set when the catalog changed since the last completed cycle
	Dirty bool `json:"dirty"`

	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// Default returns the state of a feed that has never been generated
func Default() GenerationState {
	return GenerationState{Status: PhasePendingConfig}
}

// Update is a partial update of GenerationState. Nil fields are left unchanged.
type Update struct {
	Status             *Phase
	ProductCount       *int
	RecentProductCount *int
	LastDuration       *time.Duration
	ErrorMessage       *string
	RetryCount         *int
	Checkpoint         *Checkpoint
	ClearCheckpoint    bool
}

// StatusChange is delivered to observers after a status transition was persisted
type StatusChange struct {
	Previous Phase           `json:"previous"`
	Current  Phase           `json:"current"`
	State    GenerationState `json:"state"`
}
