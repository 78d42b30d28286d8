package domain

import "errors"

// ─── Error Taxonomy ─────────────────────────────────────────────────────────
// Callers branch on these with errors.Is. Anything wrapping one of the
// retryable sentinels surfaces to API clients as a retryable 5xx.

var (
	// ErrConfiguration is fatal at startup: missing or inconsistent
	// region topology. Never returned at runtime.
	ErrConfiguration = errors.New("invalid region configuration")

	// ErrRegionNotFound reports an unknown region id.
	ErrRegionNotFound = errors.New("region not found")

	// ErrNoPrimaryAvailable means every primary-capable endpoint is
	// unhealthy. Retryable; writes must not degrade to a replica.
	ErrNoPrimaryAvailable = errors.New("no primary available")

	// ErrNoReplicaAvailable means no healthy endpoint remains for reads.
	ErrNoReplicaAvailable = errors.New("no healthy endpoint available")

	// ErrPoolTimeout means connection acquisition timed out under
	// transient pool pressure. Retryable.
	ErrPoolTimeout = errors.New("connection pool timeout")

	// ErrFailoverInProgress rejects a transition request while another
	// is in flight. Callers retry after the window closes.
	ErrFailoverInProgress = errors.New("failover already in progress")

	// ErrAlreadyPrimary rejects a manual failover targeting the region
	// that already holds the primary designation. A caller mistake, not
	// a transient condition.
	ErrAlreadyPrimary = errors.New("region is already primary")

	// ErrProbeTimeout is internal to the health monitor: recorded as a
	// probe failure, never propagated to API callers.
	ErrProbeTimeout = errors.New("health probe timed out")

	// ErrReadOnlyReplica rejects a write-shaped command routed to a
	// replica client. Replicas are read-only by construction.
	ErrReadOnlyReplica = errors.New("write command on read-only replica")
)

// Retryable reports whether err is transient from the caller's point of
// view: worth retrying after a short backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrNoPrimaryAvailable) ||
		errors.Is(err, ErrNoReplicaAvailable) ||
		errors.Is(err, ErrPoolTimeout) ||
		errors.Is(err, ErrFailoverInProgress)
}
