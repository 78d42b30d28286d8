package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/metrics"
)

// ProbeFunc checks one endpoint. It must respect ctx; the monitor bounds
// every call with the per-probe timeout.
type ProbeFunc func(ctx context.Context) error

type probe struct {
	key string
	fn  ProbeFunc
}

// Config holds monitor timing. The per-probe timeout must stay below the
// interval so a hung probe cannot starve the next cycle.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the standard probe cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Monitor runs one background probe loop per registered endpoint and
// writes outcomes into the shared Table. It reports raw probe results
// only; failover policy lives in the orchestrator.
type Monitor struct {
	table    *Table
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	probes []probe
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor writing into table.
func NewMonitor(table *Table, cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 || cfg.Timeout >= cfg.Interval {
		cfg.Timeout = min(DefaultConfig().Timeout, cfg.Interval/2)
	}
	return &Monitor{
		table:    table,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		log:      logger.With().Str("component", "health").Logger(),
	}
}

// Table returns the shared health table.
func (m *Monitor) Table() *Table { return m.table }

// Interval returns the probe cadence; snapshot staleness is bounded by it.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Register adds an endpoint probe. Must be called before Run.
func (m *Monitor) Register(key string, fn ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, probe{key: key, fn: fn})
}

// Run starts one probe loop per registered endpoint and blocks until ctx
// is cancelled. Each endpoint is probed immediately on start, then on the
// configured interval.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	probes := make([]probe, len(m.probes))
	copy(probes, m.probes)
	m.mu.Unlock()

	m.log.Info().Int("endpoints", len(probes)).
		Dur("interval", m.interval).Dur("timeout", m.timeout).
		Msg("starting probe loops")

	for _, p := range probes {
		m.wg.Add(1)
		go func(p probe) {
			defer m.wg.Done()
			m.loop(ctx, p)
		}(p)
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, p probe) {
	m.probeOnce(ctx, p)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx, p)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, p probe) {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := p.fn(pctx)
	cancel()

	if ctx.Err() != nil {
		return // shutting down, not a probe outcome
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrProbeTimeout
		}
		m.table.ReportFailure(p.key, err)
		metrics.ProbesTotal.WithLabelValues(p.key, "failure").Inc()
		m.log.Warn().Str("endpoint", p.key).Err(err).
			Int("consecutive_fails", m.table.Get(p.key).ConsecutiveFails).
			Msg("probe failed")
		return
	}

	prev := m.table.Get(p.key)
	m.table.ReportSuccess(p.key)
	metrics.ProbesTotal.WithLabelValues(p.key, "success").Inc()
	if prev.State == domain.StateUnhealthy {
		m.log.Info().Str("endpoint", p.key).Msg("endpoint recovered")
	}
}

// Snapshot returns the current table view for status surfaces and the
// routing layer.
func (m *Monitor) Snapshot() domain.HealthSnapshot {
	return m.table.Snapshot()
}
