package domain

import "time"

// ─── Failover State ─────────────────────────────────────────────────────────

// FailoverTrigger records what initiated a transition.
type FailoverTrigger string

const (
	TriggerAutomatic FailoverTrigger = "automatic"
	TriggerManual    FailoverTrigger = "manual"
	TriggerFailback  FailoverTrigger = "failback"
)

// FailoverState is the orchestrator's single source of truth for which
// region is authoritative for writes. It is published as an immutable
// snapshot behind one atomically swapped reference: readers never observe
// two primaries, zero primaries, or a half-applied transition.
type FailoverState struct {
	// PrimaryRegion is the currently designated primary.
	PrimaryRegion RegionID `json:"primary_region"`

	// OriginalPrimary is the region designated at startup; failback
	// returns to it.
	OriginalPrimary RegionID `json:"original_primary"`

	InProgress     bool      `json:"in_progress"`
	LastFailoverAt time.Time `json:"last_failover_at,omitzero"`
	LastFailbackAt time.Time `json:"last_failback_at,omitzero"`

	// LastTrigger is what caused the most recent transition.
	LastTrigger FailoverTrigger `json:"last_trigger,omitempty"`

	// LastTransitionID identifies the most recent transition in logs.
	LastTransitionID string `json:"last_transition_id,omitempty"`

	// FailbackEnabled is cleared by a manual failover so an intentional
	// maintenance move is not silently undone; operators re-enable it.
	FailbackEnabled bool `json:"failback_enabled"`
}

// FailedOver reports whether the current primary differs from the
// startup designation.
func (s FailoverState) FailedOver() bool {
	return s.PrimaryRegion != s.OriginalPrimary
}
