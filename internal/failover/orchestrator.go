// Package failover implements the orchestrator that turns raw health
// outcomes into policy: when to declare the primary region lost, promote
// a standby, and later fail back. All designation changes happen inside
// one serialized transition function; readers only ever see complete
// FailoverState snapshots behind a single atomically swapped reference.
package failover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/metrics"
	"github.com/hse-digital/datalayer/internal/region"
)

// Repointer is the slice of a connection manager the orchestrator
// drives: atomically re-designating which region is primary.
type Repointer interface {
	Repoint(id domain.RegionID) error
}

// Config holds failover policy knobs.
type Config struct {
	// Threshold is the consecutive primary probe failures required
	// before an automatic failover triggers.
	Threshold int

	// Interval is the orchestrator's evaluation cadence.
	Interval time.Duration

	// FailbackEnabled allows automatic return to the original primary.
	FailbackEnabled bool

	// FailbackGrace is how long the original primary must stay
	// continuously healthy before failback.
	FailbackGrace time.Duration
}

// DefaultConfig returns the standard failover policy.
func DefaultConfig() Config {
	return Config{
		Threshold:       3,
		Interval:        15 * time.Second,
		FailbackEnabled: true,
		FailbackGrace:   5 * time.Minute,
	}
}

// Orchestrator owns FailoverState and the only code path that mutates it.
type Orchestrator struct {
	registry *region.Registry
	table    *health.Table
	store    Repointer
	cache    Repointer // nil when no cache is configured
	cfg      Config
	log      zerolog.Logger

	// transition serializes every designation change; concurrent
	// triggers collapse into one transition.
	transition sync.Mutex
	state      atomic.Pointer[domain.FailoverState]
}

// New creates the orchestrator with the current region as the original
// primary designation.
func New(reg *region.Registry, table *health.Table, store, cache Repointer, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.FailbackGrace <= 0 {
		cfg.FailbackGrace = DefaultConfig().FailbackGrace
	}

	o := &Orchestrator{
		registry: reg,
		table:    table,
		store:    store,
		cache:    cache,
		cfg:      cfg,
		log:      logger.With().Str("component", "failover").Logger(),
	}
	cur := reg.Current().ID
	o.state.Store(&domain.FailoverState{
		PrimaryRegion:   cur,
		OriginalPrimary: cur,
		FailbackEnabled: cfg.FailbackEnabled,
	})
	return o
}

// State returns a consistent snapshot of the failover state. Callers
// read it once per decision instead of re-reading fields.
func (o *Orchestrator) State() domain.FailoverState {
	return *o.state.Load()
}

// SetFailbackEnabled flips automatic failback, e.g. to re-arm it after a
// manual maintenance failover.
func (o *Orchestrator) SetFailbackEnabled(enabled bool) {
	o.transition.Lock()
	defer o.transition.Unlock()
	st := *o.state.Load()
	st.FailbackEnabled = enabled
	o.state.Store(&st)
}

// Run evaluates failover policy on the configured interval until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Evaluate(ctx)
		}
	}
}

// Evaluate runs one policy cycle: automatic failover when the primary's
// consecutive-failure count crosses the threshold, failback when the
// original primary has been healthy for the grace period.
func (o *Orchestrator) Evaluate(ctx context.Context) {
	st := o.State()

	rec := o.table.Get(domain.KeyPrimary)
	if rec.ConsecutiveFails >= o.cfg.Threshold {
		if err := o.Trigger(ctx, "", domain.TriggerAutomatic); err != nil {
			o.log.Error().Err(err).Msg("automatic failover failed")
		}
		return
	}

	if st.FailedOver() && st.FailbackEnabled {
		orig := o.table.Get(domain.StoreEndpointKey(st.OriginalPrimary))
		if !orig.HealthySince.IsZero() && time.Since(orig.HealthySince) >= o.cfg.FailbackGrace {
			if err := o.Trigger(ctx, st.OriginalPrimary, domain.TriggerFailback); err != nil {
				o.log.Error().Err(err).Msg("failback failed")
			}
		}
	}
}

// Trigger performs one failover transition. For automatic triggers the
// target is chosen from the registry's candidates; manual and failback
// triggers name their target. A second trigger while one is in flight is
// rejected with ErrFailoverInProgress and leaves the state untouched, as
// does any transition error.
func (o *Orchestrator) Trigger(ctx context.Context, target domain.RegionID, trigger domain.FailoverTrigger) error {
	if !o.transition.TryLock() {
		metrics.FailoversRejected.WithLabelValues("in_progress").Inc()
		return domain.ErrFailoverInProgress
	}
	defer o.transition.Unlock()

	prev := *o.state.Load()
	if prev.InProgress {
		metrics.FailoversRejected.WithLabelValues("in_progress").Inc()
		return domain.ErrFailoverInProgress
	}

	if target == "" {
		var err error
		if target, err = o.pickCandidate(prev.PrimaryRegion); err != nil {
			metrics.FailoversRejected.WithLabelValues("no_candidate").Inc()
			return err
		}
	} else {
		reg, err := o.registry.Get(target)
		if err != nil {
			return err
		}
		if target == prev.PrimaryRegion {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyPrimary, target)
		}
		if trigger == domain.TriggerManual && !o.table.Usable(domain.StoreEndpointKey(reg.ID)) {
			metrics.FailoversRejected.WithLabelValues("target_unhealthy").Inc()
			return fmt.Errorf("%w: target %s is unhealthy", domain.ErrNoPrimaryAvailable, target)
		}
	}

	id := uuid.NewString()
	start := time.Now()
	o.log.Info().Str("transition", id).Str("trigger", string(trigger)).
		Stringer("from", prev.PrimaryRegion).Stringer("to", target).
		Msg("failover transition starting")

	// Publish the in-progress flag so concurrent manual triggers are
	// rejected even across processes reading the status surface.
	inflight := prev
	inflight.InProgress = true
	o.state.Store(&inflight)

	if err := o.repoint(prev.PrimaryRegion, target); err != nil {
		o.state.Store(&prev) // unchanged, not partially applied
		return err
	}

	// Role keys restart their history under the new designation.
	o.table.Reset(domain.KeyPrimary)
	o.table.Reset(domain.KeyCachePrimary)

	next := prev
	next.PrimaryRegion = target
	next.InProgress = false
	next.LastTrigger = trigger
	next.LastTransitionID = id
	switch trigger {
	case domain.TriggerFailback:
		next.LastFailbackAt = time.Now()
	default:
		next.LastFailoverAt = time.Now()
	}
	if trigger == domain.TriggerManual {
		// Don't silently undo an intentional maintenance move.
		next.FailbackEnabled = false
	}
	o.state.Store(&next)

	metrics.FailoversTotal.WithLabelValues(string(trigger)).Inc()
	metrics.FailoverDuration.Observe(time.Since(start).Seconds())
	o.log.Info().Str("transition", id).Stringer("primary", target).
		Dur("took", time.Since(start)).Msg("failover transition complete")
	return nil
}

// repoint moves both managers to the new primary. If the cache repoint
// fails after the store moved, the store is rolled back so the two never
// disagree about the designation.
func (o *Orchestrator) repoint(from, to domain.RegionID) error {
	if err := o.store.Repoint(to); err != nil {
		return fmt.Errorf("repoint store: %w", err)
	}
	if o.cache != nil {
		if err := o.cache.Repoint(to); err != nil {
			if rbErr := o.store.Repoint(from); rbErr != nil {
				o.log.Error().Err(rbErr).Msg("store rollback failed after cache repoint error")
			}
			return fmt.Errorf("repoint cache: %w", err)
		}
	}
	return nil
}

// pickCandidate selects the highest-priority region whose store endpoint
// is currently healthy.
func (o *Orchestrator) pickCandidate(exclude domain.RegionID) (domain.RegionID, error) {
	for _, r := range o.registry.FailoverCandidates(exclude) {
		if o.table.Healthy(domain.StoreEndpointKey(r.ID)) {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("%w: no healthy failover candidate", domain.ErrNoPrimaryAvailable)
}
