// Package health maintains the shared endpoint health table and the
// background probe loops that feed it. The table is the single place
// health transitions happen; connection managers and the routing layer
// only ever read snapshots from it.
package health

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/metrics"
)

// Table is the concurrent health record store, keyed by logical endpoint
// id ("primary", "replica-<region>", "cache-…"). All counter updates go
// through Compute so increments and resets are serialized per key; reads
// return value snapshots, never a torn record.
type Table struct {
	records *xsync.MapOf[string, domain.HealthRecord]
}

// NewTable returns an empty health table. Endpoints appear on their
// first report and start in StateUnknown until then.
func NewTable() *Table {
	return &Table{records: xsync.NewMapOf[string, domain.HealthRecord]()}
}

// Get returns the record for key, or a zero StateUnknown record.
func (t *Table) Get(key string) domain.HealthRecord {
	if rec, ok := t.records.Load(key); ok {
		return rec
	}
	return domain.HealthRecord{Key: key, State: domain.StateUnknown}
}

// Healthy reports whether key's last probe succeeded.
func (t *Table) Healthy(key string) bool { return t.Get(key).Healthy() }

// Usable reports whether key may still be selected (not known-bad).
func (t *Table) Usable(key string) bool { return t.Get(key).Usable() }

// ReportSuccess records a successful probe: marks the endpoint healthy
// and resets its consecutive-failure counter.
func (t *Table) ReportSuccess(key string) {
	t.records.Compute(key, func(old domain.HealthRecord, _ bool) (domain.HealthRecord, bool) {
		now := time.Now()
		rec := old
		rec.Key = key
		rec.LastCheck = now
		rec.ConsecutiveFails = 0
		rec.LastError = ""
		if rec.State != domain.StateHealthy {
			rec.HealthySince = now
		}
		rec.State = domain.StateHealthy
		return rec, false
	})
	metrics.EndpointHealthy.WithLabelValues(key).Set(1)
	metrics.ConsecutiveFailures.WithLabelValues(key).Set(0)
}

// ReportFailure records a failed probe (or a connection-level command
// failure reported by a manager): marks the endpoint unhealthy and
// increments its consecutive-failure counter.
func (t *Table) ReportFailure(key string, cause error) {
	var fails int
	t.records.Compute(key, func(old domain.HealthRecord, _ bool) (domain.HealthRecord, bool) {
		rec := old
		rec.Key = key
		rec.State = domain.StateUnhealthy
		rec.LastCheck = time.Now()
		rec.HealthySince = time.Time{}
		rec.ConsecutiveFails++
		if cause != nil {
			rec.LastError = cause.Error()
		}
		fails = rec.ConsecutiveFails
		return rec, false
	})
	metrics.EndpointHealthy.WithLabelValues(key).Set(0)
	metrics.ConsecutiveFailures.WithLabelValues(key).Set(float64(fails))
}

// Force overrides an endpoint's health flag. Forcing healthy behaves
// like a successful probe and resets the failure counter; forcing
// unhealthy preserves it, so a later automatic failover still sees the
// accumulated streak.
func (t *Table) Force(key string, healthy bool) {
	if healthy {
		t.ReportSuccess(key)
		return
	}
	t.records.Compute(key, func(old domain.HealthRecord, _ bool) (domain.HealthRecord, bool) {
		rec := old
		rec.Key = key
		rec.State = domain.StateUnhealthy
		rec.LastCheck = time.Now()
		rec.HealthySince = time.Time{}
		return rec, false
	})
	metrics.EndpointHealthy.WithLabelValues(key).Set(0)
}

// Reset removes a key from the table, returning it to StateUnknown.
// Used when the primary designation moves and role-based keys restart
// their history.
func (t *Table) Reset(key string) {
	t.records.Delete(key)
}

// Snapshot returns a point-in-time view of every record. Staleness is
// bounded by the probe interval.
func (t *Table) Snapshot() domain.HealthSnapshot {
	snap := domain.HealthSnapshot{TakenAt: time.Now()}
	t.records.Range(func(_ string, rec domain.HealthRecord) bool {
		snap.Records = append(snap.Records, rec)
		switch rec.State {
		case domain.StateHealthy:
			snap.HealthyCount++
		case domain.StateUnhealthy:
			snap.UnhealthyCount++
		}
		return true
	})
	return snap
}
