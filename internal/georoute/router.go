// Package georoute resolves which region should serve a request and
// proxies it cross-region when the answer is not the local instance.
//
// Resolution priority:
//  1. Explicit tenant region preference, when that region is healthy
//  2. Client geo hint mapped to the nearest configured region, if healthy
//  3. The current failover primary (fail-open default)
//
// Routing never hard-fails a request for lack of a geo hint.
package georoute

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/metrics"
	"github.com/hse-digital/datalayer/internal/region"
)

// Header names carrying routing inputs. GeoCountryHeader is compatible
// with CDN-supplied viewer-country headers.
const (
	TenantHeader     = "X-Tenant-ID"
	GeoCountryHeader = "X-Geo-Country"
	servedByHeader   = "X-Served-By-Region"
)

// PreferenceLookup resolves a tenant's explicit region preference.
type PreferenceLookup interface {
	Preference(ctx context.Context, tenantID string) (domain.RegionID, bool, error)
}

// StateReader exposes the orchestrator's current failover snapshot.
type StateReader interface {
	State() domain.FailoverState
}

// Decision is the outcome of one resolution.
type Decision struct {
	Region domain.RegionID `json:"region"`
	Reason string          `json:"reason"`
	Local  bool            `json:"local"`
}

// Resolution reasons.
const (
	ReasonTenantPreference = "tenant_preference"
	ReasonGeoHint          = "geo_hint"
	ReasonPrimaryDefault   = "primary_default"
)

// Config holds routing knobs.
type Config struct {
	// ProxyTimeout bounds a cross-region proxy call independently of
	// the upstream client's own timeout.
	ProxyTimeout time.Duration
}

// DefaultConfig returns standard routing settings.
func DefaultConfig() Config {
	return Config{ProxyTimeout: 10 * time.Second}
}

// Router performs per-request region resolution.
type Router struct {
	registry *region.Registry
	table    *health.Table
	state    StateReader
	prefs    PreferenceLookup // nil disables tenant preferences
	cfg      Config
	log      zerolog.Logger
	local    domain.RegionID
}

// New creates a router serving from the registry's current region.
func New(reg *region.Registry, table *health.Table, state StateReader, prefs PreferenceLookup, cfg Config, logger zerolog.Logger) *Router {
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = DefaultConfig().ProxyTimeout
	}
	return &Router{
		registry: reg,
		table:    table,
		state:    state,
		prefs:    prefs,
		cfg:      cfg,
		log:      logger.With().Str("component", "georoute").Logger(),
		local:    reg.Current().ID,
	}
}

// Resolve picks the serving region for a request. It fails open to the
// current primary when inputs are absent, ambiguous, or point at an
// unhealthy region.
func (rt *Router) Resolve(ctx context.Context, tenantID, country string) Decision {
	if tenantID != "" && rt.prefs != nil {
		pref, ok, err := rt.prefs.Preference(ctx, tenantID)
		if err != nil {
			rt.log.Warn().Str("tenant", tenantID).Err(err).Msg("preference lookup failed, failing open")
		} else if ok && rt.regionHealthy(pref) {
			return rt.decide(pref, ReasonTenantPreference)
		}
	}

	if country != "" {
		if reg, ok := rt.registry.NearestTo(country); ok && rt.regionHealthy(reg.ID) {
			return rt.decide(reg.ID, ReasonGeoHint)
		}
	}

	return rt.decide(rt.state.State().PrimaryRegion, ReasonPrimaryDefault)
}

func (rt *Router) decide(id domain.RegionID, reason string) Decision {
	metrics.RouteDecisions.WithLabelValues(reason).Inc()
	return Decision{Region: id, Reason: reason, Local: id == rt.local}
}

// regionHealthy reports whether a region's data store endpoint is
// confirmed healthy. Unknown is not good enough to route a tenant away
// from the fail-open default.
func (rt *Router) regionHealthy(id domain.RegionID) bool {
	return rt.table.Healthy(domain.StoreEndpointKey(id))
}

// Middleware resolves every request and proxies it when the resolved
// region is not the local one.
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A request another instance already forwarded is served here:
		// one hop at most, even when two instances hold divergent views
		// of endpoint health.
		if r.Header.Get(servedByHeader) != "" {
			w.Header().Set(servedByHeader, rt.local.String())
			next.ServeHTTP(w, r)
			return
		}

		d := rt.Resolve(r.Context(), r.Header.Get(TenantHeader), r.Header.Get(GeoCountryHeader))
		if d.Local {
			w.Header().Set(servedByHeader, rt.local.String())
			next.ServeHTTP(w, r)
			return
		}
		rt.proxy(w, r, d, next)
	})
}

// proxy forwards the request to the resolved region's ingress. The call
// carries its own timeout and is cancelled with the client's request
// context, releasing the upstream connection on disconnect. A region
// with no usable ingress falls back to serving locally — routing never
// hard-fails a request over its own configuration.
func (rt *Router) proxy(w http.ResponseWriter, r *http.Request, d Decision, local http.Handler) {
	reg, err := rt.registry.Get(d.Region)
	if err != nil || reg.Ingress == "" {
		rt.log.Warn().Stringer("region", d.Region).Msg("no ingress for resolved region, serving locally")
		w.Header().Set(servedByHeader, rt.local.String())
		local.ServeHTTP(w, r)
		return
	}

	target, err := url.Parse(reg.Ingress)
	if err != nil {
		rt.log.Error().Str("ingress", reg.Ingress).Err(err).Msg("bad ingress URL, serving locally")
		w.Header().Set(servedByHeader, rt.local.String())
		local.ServeHTTP(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.cfg.ProxyTimeout)
	defer cancel()

	metrics.CrossRegionProxies.WithLabelValues(d.Region.String()).Inc()
	rt.log.Debug().Stringer("region", d.Region).Str("reason", d.Reason).
		Str("path", r.URL.Path).Msg("proxying cross-region")

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		rt.log.Warn().Stringer("region", d.Region).Err(err).Msg("cross-region proxy failed")
		http.Error(w, "cross-region proxy failed", http.StatusBadGateway)
	}
	r2 := r.Clone(ctx)
	r2.Header.Set(servedByHeader, rt.local.String())
	proxy.ServeHTTP(w, r2)
}
