package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/metrics"
	"github.com/hse-digital/datalayer/internal/region"
)

// ─── Commands ───────────────────────────────────────────────────────────────

// Op identifies a cache operation shape.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpDel    Op = "del"
	OpExists Op = "exists"
	OpExpire Op = "expire"
)

// Write reports whether the operation mutates state and must therefore
// only ever run against the primary client.
func (o Op) Write() bool {
	switch o {
	case OpSet, OpDel, OpExpire:
		return true
	}
	return false
}

// Command is one cache operation.
type Command struct {
	Op    Op
	Key   string
	Keys  []string // Del/Exists
	Value string
	TTL   time.Duration
}

// ExecOptions steer client selection for one command.
type ExecOptions struct {
	RegionPreference domain.RegionID

	// RetryOnFailure retries the command once against the primary when
	// the selected client was not already the primary.
	RetryOnFailure bool
}

// Result is the outcome of an Execute.
type Result struct {
	Value string
	N     int64
	OK    bool
}

// ─── Manager ────────────────────────────────────────────────────────────────

type primaryRef struct {
	region domain.RegionID
	client Client
}

// Manager selects clients with the same healthy-primary-first ordering as
// the store manager, driven by the same health table. Marking a cluster
// unhealthy only changes selection preference — clients stay connected so
// a transient failure does not destroy warm connections.
type Manager struct {
	registry *region.Registry
	health   *health.Table
	log      zerolog.Logger

	clients map[domain.RegionID]Client
	primary atomic.Pointer[primaryRef]
}

// Open builds one client per configured region cache and designates the
// current region's cluster as primary. Regions without a cache section
// are skipped.
func Open(reg *region.Registry, table *health.Table, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		registry: reg,
		health:   table,
		log:      logger.With().Str("component", "cache").Logger(),
		clients:  make(map[domain.RegionID]Client),
	}

	for _, r := range reg.List() {
		if !r.HasCache() {
			continue
		}
		c, err := NewFromTopology(r.Cache)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("region %s cache: %w", r.ID, err)
		}
		m.clients[r.ID] = c
	}

	cur := reg.Current().ID
	if c, ok := m.clients[cur]; ok {
		m.primary.Store(&primaryRef{region: cur, client: c})
	}
	return m, nil
}

// PrimaryRegion returns the region whose cluster is designated primary,
// or empty when no cache is configured.
func (m *Manager) PrimaryRegion() domain.RegionID {
	if p := m.primary.Load(); p != nil {
		return p.region
	}
	return ""
}

// Execute resolves a client for cmd and runs it. Writes only ever reach
// the primary; reads prefer a healthy preferred-region replica, then the
// primary, then any healthy cluster. When a non-primary client fails and
// RetryOnFailure is set, the command is retried once against the primary.
func (m *Manager) Execute(ctx context.Context, cmd Command, opts ExecOptions) (Result, error) {
	if cmd.Op.Write() {
		p := m.primary.Load()
		if p == nil {
			return Result{}, fmt.Errorf("%w: no cache configured", domain.ErrNoPrimaryAvailable)
		}
		if !m.health.Usable(domain.KeyCachePrimary) {
			return Result{}, fmt.Errorf("%w: cache primary %s marked unhealthy", domain.ErrNoPrimaryAvailable, p.region)
		}
		res, err := m.run(ctx, p.client, cmd)
		m.observe(domain.KeyCachePrimary, err)
		return res, err
	}

	sel, key, isPrimary, err := m.selectRead(opts.RegionPreference)
	if err != nil {
		return Result{}, err
	}

	res, err := m.run(ctx, sel, cmd)
	m.observe(key, err)
	if err == nil || isPrimary || !opts.RetryOnFailure || !retryable(err) {
		return res, err
	}

	p := m.primary.Load()
	if p == nil {
		return res, err
	}
	metrics.CacheRetries.Inc()
	m.log.Warn().Str("endpoint", key).Err(err).Msg("retrying cache command against primary")
	res, err = m.run(ctx, p.client, cmd)
	m.observe(domain.KeyCachePrimary, err)
	return res, err
}

// selectRead picks a read client: preferred-region cluster when healthy,
// then the primary, then any healthy cluster, then anything not
// known-bad.
func (m *Manager) selectRead(pref domain.RegionID) (Client, string, bool, error) {
	p := m.primary.Load()

	if pref != "" && (p == nil || pref != p.region) {
		if c, ok := m.clients[pref]; ok && m.health.Healthy(domain.CacheEndpointKey(pref)) {
			return readOnlyView{c}, domain.CacheEndpointKey(pref), false, nil
		}
	}

	if p != nil && m.health.Healthy(domain.KeyCachePrimary) {
		return p.client, domain.KeyCachePrimary, true, nil
	}

	for _, r := range m.registry.List() {
		if r.ID == pref || (p != nil && r.ID == p.region) {
			continue
		}
		if c, ok := m.clients[r.ID]; ok && m.health.Healthy(domain.CacheEndpointKey(r.ID)) {
			return readOnlyView{c}, domain.CacheEndpointKey(r.ID), false, nil
		}
	}

	if p != nil && m.health.Usable(domain.KeyCachePrimary) {
		return p.client, domain.KeyCachePrimary, true, nil
	}
	for _, r := range m.registry.List() {
		if c, ok := m.clients[r.ID]; ok && m.health.Usable(domain.CacheEndpointKey(r.ID)) {
			return readOnlyView{c}, domain.CacheEndpointKey(r.ID), false, nil
		}
	}
	return nil, "", false, domain.ErrNoReplicaAvailable
}

func (m *Manager) run(ctx context.Context, c Client, cmd Command) (Result, error) {
	switch cmd.Op {
	case OpGet:
		v, err := c.Get(ctx, cmd.Key)
		return Result{Value: v}, err
	case OpSet:
		return Result{OK: true}, c.Set(ctx, cmd.Key, cmd.Value, cmd.TTL)
	case OpDel:
		n, err := c.Del(ctx, cmd.keys()...)
		return Result{N: n}, err
	case OpExists:
		n, err := c.Exists(ctx, cmd.keys()...)
		return Result{N: n}, err
	case OpExpire:
		ok, err := c.Expire(ctx, cmd.Key, cmd.TTL)
		return Result{OK: ok}, err
	default:
		return Result{}, fmt.Errorf("unknown cache op %q", cmd.Op)
	}
}

func (cmd Command) keys() []string {
	if len(cmd.Keys) > 0 {
		return cmd.Keys
	}
	return []string{cmd.Key}
}

// observe reports connection-level failures for fast invalidation. A
// missing key or a caller-side cancellation is not an endpoint failure.
func (m *Manager) observe(key string, err error) {
	if err == nil || errors.Is(err, Nil) || errors.Is(err, domain.ErrReadOnlyReplica) {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	m.health.ReportFailure(key, err)
}

// retryable reports whether a primary retry could help.
func retryable(err error) bool {
	return !errors.Is(err, Nil) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// MarkHealthy forces a cluster's health flag on. Shares the store
// manager's logical id space so one monitor drives both.
func (m *Manager) MarkHealthy(key string) { m.health.Force(key, true) }

// MarkUnhealthy forces a cluster's health flag off without closing its
// client.
func (m *Manager) MarkUnhealthy(key string) { m.health.Force(key, false) }

// Repoint atomically re-designates the primary cache cluster.
func (m *Manager) Repoint(id domain.RegionID) error {
	c, ok := m.clients[id]
	if !ok {
		return fmt.Errorf("%w: region %q has no cache", domain.ErrRegionNotFound, id)
	}
	old := m.primary.Swap(&primaryRef{region: id, client: c})
	from := domain.RegionID("")
	if old != nil {
		from = old.region
	}
	m.log.Info().Stringer("from", from).Stringer("to", id).Msg("cache primary repointed")
	return nil
}

// PingPrimary probes the currently designated primary cluster.
func (m *Manager) PingPrimary(ctx context.Context) error {
	p := m.primary.Load()
	if p == nil {
		return fmt.Errorf("no cache configured")
	}
	return p.client.Ping(ctx)
}

// PingEndpoint probes a region's cluster regardless of role.
func (m *Manager) PingEndpoint(ctx context.Context, id domain.RegionID) error {
	c, ok := m.clients[id]
	if !ok {
		return fmt.Errorf("%w: region %q has no cache", domain.ErrRegionNotFound, id)
	}
	return c.Ping(ctx)
}

// HasCache reports whether any region has a cache configured.
func (m *Manager) HasCache() bool { return len(m.clients) > 0 }

// Regions lists regions with a configured cache.
func (m *Manager) Regions() []domain.RegionID {
	out := make([]domain.RegionID, 0, len(m.clients))
	for _, r := range m.registry.List() {
		if _, ok := m.clients[r.ID]; ok {
			out = append(out, r.ID)
		}
	}
	return out
}

// Close shuts every client down.
func (m *Manager) Close() error {
	var first error
	for _, c := range m.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Manager) closeAll() { _ = m.Close() }
