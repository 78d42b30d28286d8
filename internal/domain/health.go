package domain

import "time"

// ─── Health State ───────────────────────────────────────────────────────────

// HealthState is the per-endpoint probe state machine:
// Unknown until the first probe completes, then Healthy ⇄ Unhealthy.
// A single successful probe recovers an unhealthy endpoint; policy
// (hysteresis) lives in the failover orchestrator, not here.
type HealthState string

const (
	StateUnknown   HealthState = "unknown"
	StateHealthy   HealthState = "healthy"
	StateUnhealthy HealthState = "unhealthy"
)

// HealthRecord is the probe outcome for one logical endpoint key.
// Records are value snapshots: readers always see a complete record,
// never a torn update.
type HealthRecord struct {
	Key       string      `json:"key"`
	State     HealthState `json:"state"`
	LastCheck time.Time   `json:"last_check,omitzero"`

	// HealthySince is when the record last entered StateHealthy;
	// zero while unhealthy or unknown. Drives failback grace timing.
	HealthySince time.Time `json:"healthy_since,omitzero"`

	// ConsecutiveFails counts sequential failed probes since the last
	// success. Reset to zero by any success, never decremented by failure.
	ConsecutiveFails int `json:"consecutive_fails"`

	// LastError is the most recent probe error, empty when healthy.
	LastError string `json:"last_error,omitempty"`
}

// Healthy reports whether the endpoint's last probe succeeded.
func (r HealthRecord) Healthy() bool { return r.State == StateHealthy }

// Usable reports whether the endpoint may be selected: anything not
// known-bad. Unknown endpoints are usable but never preferred over
// healthy ones.
func (r HealthRecord) Usable() bool { return r.State != StateUnhealthy }

// HealthSnapshot is a point-in-time view of the whole health table.
// Staleness is bounded by the probe interval; callers must not assume
// anything fresher.
type HealthSnapshot struct {
	Records        []HealthRecord `json:"records"`
	HealthyCount   int            `json:"healthy_count"`
	UnhealthyCount int            `json:"unhealthy_count"`
	TakenAt        time.Time      `json:"taken_at"`
}
