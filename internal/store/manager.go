// Package store implements the data store connection manager: pooled
// read/write-split access to the relational store across regions. Writes
// always target the currently designated primary; reads prefer a healthy
// replica near the caller and fall back without ever selecting a
// known-unhealthy endpoint while a healthy alternative exists.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, used for dev and tests

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/metrics"
	"github.com/hse-digital/datalayer/internal/region"
)

// Config holds per-endpoint pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

// DefaultConfig returns standard pool settings.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		AcquireTimeout:  3 * time.Second,
	}
}

// regionPools holds one region's opened endpoint pools.
type regionPools struct {
	id       domain.RegionID
	primary  *sql.DB
	replicas []*sql.DB
	next     atomic.Uint32 // round-robin cursor over replicas
}

func (rp *regionPools) nextReplica() *sql.DB {
	n := len(rp.replicas)
	if n == 0 {
		return nil
	}
	return rp.replicas[int(rp.next.Add(1))%n]
}

// primaryRef is the single write barrier for primary designation: one
// atomically swapped reference, so no reader ever observes zero or two
// primaries.
type primaryRef struct {
	region domain.RegionID
	db     *sql.DB
}

// Manager hands out pooled connections with read/write splitting.
type Manager struct {
	registry *region.Registry
	health   *health.Table
	cfg      Config
	log      zerolog.Logger

	pools   map[domain.RegionID]*regionPools
	primary atomic.Pointer[primaryRef]
}

// Open builds pools for every configured endpoint and designates the
// current region's primary-capable endpoint as the initial primary.
// Pools are opened lazily by the driver; no endpoint is dialed here.
func Open(reg *region.Registry, table *health.Table, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg = DefaultConfig()
	}
	m := &Manager{
		registry: reg,
		health:   table,
		cfg:      cfg,
		log:      logger.With().Str("component", "store").Logger(),
		pools:    make(map[domain.RegionID]*regionPools),
	}

	for _, r := range reg.List() {
		rp := &regionPools{id: r.ID}
		db, err := m.open(r.DataStore.Primary)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("region %s primary: %w", r.ID, err)
		}
		rp.primary = db
		for _, dsn := range r.DataStore.Replicas {
			rdb, err := m.open(dsn)
			if err != nil {
				m.closeAll()
				return nil, fmt.Errorf("region %s replica: %w", r.ID, err)
			}
			rp.replicas = append(rp.replicas, rdb)
		}
		m.pools[r.ID] = rp
	}

	cur := reg.Current().ID
	m.primary.Store(&primaryRef{region: cur, db: m.pools[cur].primary})
	return m, nil
}

// open maps a DSN to its registered driver. Postgres endpoints use pgx;
// sqlite endpoints serve dev and tests.
func (m *Manager) open(dsn string) (*sql.DB, error) {
	var driver, arg string
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		driver, arg = "pgx", dsn
	case strings.HasPrefix(dsn, "sqlite:"):
		driver, arg = "sqlite", strings.TrimPrefix(dsn, "sqlite:")
	default:
		return nil, fmt.Errorf("%w: unsupported DSN scheme in %q", domain.ErrConfiguration, dsn)
	}

	db, err := sql.Open(driver, arg)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", driver, err)
	}
	db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	return db, nil
}

// PrimaryRegion returns the currently designated primary region.
func (m *Manager) PrimaryRegion() domain.RegionID {
	return m.primary.Load().region
}

// Write returns a connection to the currently designated primary. It
// fails with ErrNoPrimaryAvailable when the primary is marked unhealthy;
// it never degrades a write to a replica.
func (m *Manager) Write(ctx context.Context) (*Conn, error) {
	p := m.primary.Load()
	if !m.health.Usable(domain.KeyPrimary) {
		return nil, fmt.Errorf("%w: primary %s marked unhealthy", domain.ErrNoPrimaryAvailable, p.region)
	}
	return m.acquire(ctx, p.db, domain.KeyPrimary, p.region)
}

// Read returns a read connection, preferring a healthy replica in pref
// when given, then the primary, then any other healthy replica (logged
// as a degraded read). A known-unhealthy endpoint is never selected
// while a healthy alternative exists.
func (m *Manager) Read(ctx context.Context, pref domain.RegionID) (*Conn, error) {
	p := m.primary.Load()

	if pref != "" {
		if rp, ok := m.pools[pref]; ok && len(rp.replicas) > 0 && m.health.Healthy(domain.ReplicaKey(pref)) {
			return m.acquire(ctx, rp.nextReplica(), domain.ReplicaKey(pref), pref)
		}
	}

	if m.health.Healthy(domain.KeyPrimary) {
		if pref != "" {
			m.degraded(pref, p.region)
		}
		return m.acquire(ctx, p.db, domain.KeyPrimary, p.region)
	}

	// Any other healthy replica set.
	for _, r := range m.registry.List() {
		if r.ID == pref {
			continue
		}
		rp := m.pools[r.ID]
		if len(rp.replicas) > 0 && m.health.Healthy(domain.ReplicaKey(r.ID)) {
			m.degraded(pref, r.ID)
			return m.acquire(ctx, rp.nextReplica(), domain.ReplicaKey(r.ID), r.ID)
		}
	}

	// Nothing confirmed healthy: fall back to anything not known-bad
	// (probes may simply not have completed yet).
	if m.health.Usable(domain.KeyPrimary) {
		return m.acquire(ctx, p.db, domain.KeyPrimary, p.region)
	}
	for _, r := range m.registry.List() {
		rp := m.pools[r.ID]
		if len(rp.replicas) > 0 && m.health.Usable(domain.ReplicaKey(r.ID)) {
			return m.acquire(ctx, rp.nextReplica(), domain.ReplicaKey(r.ID), r.ID)
		}
	}
	return nil, domain.ErrNoReplicaAvailable
}

func (m *Manager) degraded(want, got domain.RegionID) {
	metrics.DegradedReads.Inc()
	m.log.Warn().Stringer("preferred", want).Stringer("served_by", got).
		Msg("degraded read: preferred replica unhealthy")
}

// acquire checks a connection out of db's pool under the acquire
// timeout. Exhaustion surfaces ErrPoolTimeout instead of blocking until
// the caller's own deadline.
func (m *Manager) acquire(ctx context.Context, db *sql.DB, key string, reg domain.RegionID) (*Conn, error) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	conn, err := db.Conn(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.PoolTimeouts.WithLabelValues(key).Inc()
			return nil, fmt.Errorf("%w: endpoint %s", domain.ErrPoolTimeout, key)
		}
		// Failed to establish a connection at all: fast invalidation,
		// don't wait for the next probe cycle.
		m.health.ReportFailure(key, err)
		return nil, fmt.Errorf("acquire %s connection: %w", key, err)
	}
	return &Conn{conn: conn, key: key, region: reg, health: m.health}, nil
}

// Repoint atomically re-designates the primary to the given region.
// Dependent readers observe either the old or the new designation, never
// an intermediate.
func (m *Manager) Repoint(id domain.RegionID) error {
	rp, ok := m.pools[id]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrRegionNotFound, id)
	}
	old := m.primary.Swap(&primaryRef{region: id, db: rp.primary})
	m.log.Info().Stringer("from", old.region).Stringer("to", id).Msg("primary repointed")
	return nil
}

// PingPrimary probes whichever endpoint is currently designated primary.
func (m *Manager) PingPrimary(ctx context.Context) error {
	return m.primary.Load().db.PingContext(ctx)
}

// PingEndpoint probes a region's primary-capable endpoint regardless of
// its current role. Used to watch a demoted primary recover.
func (m *Manager) PingEndpoint(ctx context.Context, id domain.RegionID) error {
	rp, ok := m.pools[id]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrRegionNotFound, id)
	}
	return rp.primary.PingContext(ctx)
}

// PingReplicas probes a region's replica set; it succeeds if any replica
// responds.
func (m *Manager) PingReplicas(ctx context.Context, id domain.RegionID) error {
	rp, ok := m.pools[id]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrRegionNotFound, id)
	}
	if len(rp.replicas) == 0 {
		return fmt.Errorf("region %s has no replicas", id)
	}
	var last error
	for _, db := range rp.replicas {
		if last = db.PingContext(ctx); last == nil {
			return nil
		}
	}
	return last
}

// Close releases every pool.
func (m *Manager) Close() error {
	var first error
	for _, rp := range m.pools {
		if err := rp.primary.Close(); err != nil && first == nil {
			first = err
		}
		for _, db := range rp.replicas {
			if err := db.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *Manager) closeAll() { _ = m.Close() }
