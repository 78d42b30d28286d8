package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/api"
	"github.com/hse-digital/datalayer/internal/cache"
	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/failover"
	"github.com/hse-digital/datalayer/internal/georoute"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/region"
	"github.com/hse-digital/datalayer/internal/store"
	"github.com/hse-digital/datalayer/internal/tenant"
)

// Daemon is the datalayerd runtime. It wires the registry, connection
// managers, health monitor, failover orchestrator, routing layer, and
// HTTP API together.
type Daemon struct {
	Config       Config
	Registry     *region.Registry
	Store        *store.Manager
	Cache        *cache.Manager
	Monitor      *health.Monitor
	Orchestrator *failover.Orchestrator
	Tenants      *tenant.Service
	Router       *georoute.Router
	Server       *api.Server

	log zerolog.Logger
}

// New loads configuration from path and wires a Daemon.
func New(cfgPath string) (*Daemon, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires a Daemon from an already-loaded configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	logger := newLogger(cfg.Logging)

	reg, err := region.New(cfg.Regions)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}

	table := health.NewTable()

	storeMgr, err := store.Open(reg, table, store.Config{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: parseDuration(cfg.Store.ConnMaxLifetime, 30*time.Minute),
		AcquireTimeout:  parseDuration(cfg.Store.AcquireTimeout, 3*time.Second),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store pools: %w", err)
	}

	cacheMgr, err := cache.Open(reg, table, logger)
	if err != nil {
		storeMgr.Close()
		return nil, fmt.Errorf("open cache clients: %w", err)
	}

	monitor := health.NewMonitor(table, health.Config{
		Interval: parseDuration(cfg.Health.Interval, 30*time.Second),
		Timeout:  parseDuration(cfg.Health.Timeout, 5*time.Second),
	}, logger)

	var cacheRepointer failover.Repointer
	if cacheMgr.HasCache() {
		cacheRepointer = cacheMgr
	}
	orch := failover.New(reg, table, storeMgr, cacheRepointer, failover.Config{
		Threshold:       cfg.Failover.Threshold,
		Interval:        parseDuration(cfg.Failover.Interval, 15*time.Second),
		FailbackEnabled: cfg.Failover.FailbackEnabled,
		FailbackGrace:   parseDuration(cfg.Failover.FailbackGrace, 5*time.Minute),
	}, logger)

	tenants := tenant.NewService(storeMgr, reg, logger)

	router := georoute.New(reg, table, orch, tenants, georoute.Config{
		ProxyTimeout: parseDuration(cfg.Routing.ProxyTimeout, 10*time.Second),
	}, logger)

	srv := api.NewServer(reg, monitor, orch, tenants, router, cfg.API.AdminToken, logger)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	d := &Daemon{
		Config:       cfg,
		Registry:     reg,
		Store:        storeMgr,
		Cache:        cacheMgr,
		Monitor:      monitor,
		Orchestrator: orch,
		Tenants:      tenants,
		Router:       router,
		Server:       srv,
		log:          logger.With().Str("component", "daemon").Logger(),
	}
	d.registerProbes()
	return d, nil
}

// registerProbes wires every endpoint into the monitor: the role keys
// the orchestrator gates on, and the per-endpoint keys candidate
// selection and failback grace timing consult.
func (d *Daemon) registerProbes() {
	d.Monitor.Register(domain.KeyPrimary, d.Store.PingPrimary)
	for _, r := range d.Registry.List() {
		id := r.ID
		d.Monitor.Register(domain.StoreEndpointKey(id), func(ctx context.Context) error {
			return d.Store.PingEndpoint(ctx, id)
		})
		if len(r.DataStore.Replicas) > 0 {
			d.Monitor.Register(domain.ReplicaKey(id), func(ctx context.Context) error {
				return d.Store.PingReplicas(ctx, id)
			})
		}
	}
	if d.Cache.HasCache() {
		d.Monitor.Register(domain.KeyCachePrimary, d.Cache.PingPrimary)
		for _, id := range d.Cache.Regions() {
			d.Monitor.Register(domain.CacheEndpointKey(id), func(ctx context.Context) error {
				return d.Cache.PingEndpoint(ctx, id)
			})
		}
	}
}

// Serve runs the daemon until ctx is cancelled: tenant migration,
// probe loops, the failover orchestrator, and the HTTP server.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mctx, mcancel := context.WithTimeout(ctx, 10*time.Second)
	err := d.Tenants.Migrate(mctx)
	mcancel()
	if err != nil {
		// The primary may legitimately be unreachable at boot; the
		// daemon still serves health state and can fail over.
		d.log.Warn().Err(err).Msg("tenant preference migration deferred")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		d.Orchestrator.Run(ctx)
	}()

	d.Server.SetApp(d.app())

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info().Str("addr", addr).
			Stringer("region", d.Registry.Current().ID).
			Msg("datalayerd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		if cerr := d.Close(); cerr != nil {
			d.log.Warn().Err(cerr).Msg("releasing pools after server error")
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		d.log.Warn().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return d.Close()
}

// app is the placeholder application handler routed by region. The real
// application mounts here; it answers with the serving region so
// cross-region routing is observable end to end.
func (d *Daemon) app() http.Handler {
	local := d.Registry.Current().ID
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"served_by":%q}`+"\n", local)
	})
}

// Close releases every pool and client.
func (d *Daemon) Close() error {
	var first error
	if err := d.Store.Close(); err != nil {
		first = err
	}
	if err := d.Cache.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// newLogger builds the root zerolog logger per config.
func newLogger(cfg LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
