package georoute

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/region"
)

type fakePrefs struct {
	prefs map[string]domain.RegionID
	err   error
}

func (f *fakePrefs) Preference(_ context.Context, tenantID string) (domain.RegionID, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.prefs[tenantID]
	return id, ok, nil
}

type fakeState struct {
	primary domain.RegionID
}

func (f *fakeState) State() domain.FailoverState {
	return domain.FailoverState{PrimaryRegion: f.primary, OriginalPrimary: "eu-west"}
}

func routingRegions(t *testing.T, euIngress, usIngress string) *region.Registry {
	t.Helper()
	reg, err := region.New([]domain.Region{
		{
			ID: "eu-west", Name: "Europe West", Priority: 1, Current: true,
			Countries: []string{"GB", "DE", "FR"},
			Ingress:   euIngress,
			DataStore: domain.DataStoreTopology{Primary: "sqlite::memory:"},
		},
		{
			ID: "us-east", Name: "US East", Priority: 2,
			Countries: []string{"US", "CA"},
			Ingress:   usIngress,
			DataStore: domain.DataStoreTopology{Primary: "sqlite::memory:"},
		},
	})
	if err != nil {
		t.Fatalf("region.New() error: %v", err)
	}
	return reg
}

func newTestRouter(t *testing.T, prefs PreferenceLookup, usIngress string) (*Router, *health.Table) {
	t.Helper()
	table := health.NewTable()
	rt := New(routingRegions(t, "", usIngress), table, &fakeState{primary: "eu-west"}, prefs,
		DefaultConfig(), zerolog.Nop())
	return rt, table
}

// ─── Resolution ─────────────────────────────────────────────────────────────

func TestResolve_TenantPreferenceWins(t *testing.T) {
	prefs := &fakePrefs{prefs: map[string]domain.RegionID{"t1": "us-east"}}
	rt, table := newTestRouter(t, prefs, "")
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	// Geo hint points at eu-west; the explicit preference still wins.
	d := rt.Resolve(context.Background(), "t1", "DE")
	if d.Region != "us-east" || d.Reason != ReasonTenantPreference {
		t.Errorf("decision = %+v, want us-east via tenant_preference", d)
	}
	if d.Local {
		t.Error("us-east resolved as local from eu-west")
	}
}

func TestResolve_GeoHintWhenNoPreference(t *testing.T) {
	rt, table := newTestRouter(t, &fakePrefs{}, "")
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	d := rt.Resolve(context.Background(), "t-unknown", "us")
	if d.Region != "us-east" || d.Reason != ReasonGeoHint {
		t.Errorf("decision = %+v, want us-east via geo_hint", d)
	}
}

func TestResolve_UnhealthyPreferenceFailsOpen(t *testing.T) {
	prefs := &fakePrefs{prefs: map[string]domain.RegionID{"t1": "us-east"}}
	rt, table := newTestRouter(t, prefs, "")
	table.ReportFailure(domain.StoreEndpointKey("us-east"), errors.New("down"))

	d := rt.Resolve(context.Background(), "t1", "")
	if d.Region != "eu-west" || d.Reason != ReasonPrimaryDefault {
		t.Errorf("decision = %+v, want eu-west via primary_default", d)
	}
	if !d.Local {
		t.Error("primary default not marked local")
	}
}

func TestResolve_UnknownRegionNotPreferred(t *testing.T) {
	// No probe has run yet: an Unknown region must not pull a tenant away
	// from the fail-open default.
	prefs := &fakePrefs{prefs: map[string]domain.RegionID{"t1": "us-east"}}
	rt, _ := newTestRouter(t, prefs, "")

	d := rt.Resolve(context.Background(), "t1", "US")
	if d.Region != "eu-west" || d.Reason != ReasonPrimaryDefault {
		t.Errorf("decision = %+v, want eu-west via primary_default", d)
	}
}

func TestResolve_LookupErrorFailsOpen(t *testing.T) {
	rt, table := newTestRouter(t, &fakePrefs{err: errors.New("db down")}, "")
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	d := rt.Resolve(context.Background(), "t1", "")
	if d.Region != "eu-west" || d.Reason != ReasonPrimaryDefault {
		t.Errorf("decision = %+v, want fail-open to primary", d)
	}
}

func TestResolve_NoInputsFollowsFailoverPrimary(t *testing.T) {
	table := health.NewTable()
	rt := New(routingRegions(t, "", ""), table, &fakeState{primary: "us-east"}, nil,
		DefaultConfig(), zerolog.Nop())

	d := rt.Resolve(context.Background(), "", "")
	if d.Region != "us-east" || d.Reason != ReasonPrimaryDefault {
		t.Errorf("decision = %+v, want failover primary us-east", d)
	}
	if d.Local {
		t.Error("post-failover primary marked local on eu-west instance")
	}
}

// ─── Middleware ─────────────────────────────────────────────────────────────

func TestMiddleware_ServesLocallyWithHeader(t *testing.T) {
	rt, _ := newTestRouter(t, nil, "")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "local")
	})
	rec := httptest.NewRecorder()
	rt.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/data", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "local" {
		t.Fatalf("local response = %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Served-By-Region"); got != "eu-west" {
		t.Errorf("served-by header = %q, want eu-west", got)
	}
}

func TestMiddleware_ProxiesToRemoteIngress(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "from-us-east")
	}))
	defer upstream.Close()

	rt, table := newTestRouter(t, nil, upstream.URL)
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("local handler invoked for a remote decision")
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set(GeoCountryHeader, "US")
	rt.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "from-us-east" {
		t.Fatalf("proxied response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMiddleware_MissingIngressServesLocally(t *testing.T) {
	rt, table := newTestRouter(t, nil, "")
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "local-fallback")
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set(GeoCountryHeader, "US")
	rt.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "local-fallback" {
		t.Fatalf("fallback response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMiddleware_ProxyCancelledAtTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cancelled := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(cancelled)
		case <-release:
		}
	}))
	defer upstream.Close()

	table := health.NewTable()
	rt := New(routingRegions(t, "", upstream.URL), table, &fakeState{primary: "eu-west"}, nil,
		Config{ProxyTimeout: 100 * time.Millisecond}, zerolog.Nop())
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set(GeoCountryHeader, "US")
	start := time.Now()
	rt.Middleware(http.NotFoundHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("proxy returned after %s, want roughly the proxy timeout", took)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("stalled upstream never observed cancellation")
	}
}

func TestMiddleware_ForwardedRequestServedLocally(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("forwarded request proxied a second hop")
	}))
	defer upstream.Close()

	rt, table := newTestRouter(t, nil, upstream.URL)
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "served-here")
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set(GeoCountryHeader, "US")
	req.Header.Set("X-Served-By-Region", "us-east")
	rt.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "served-here" {
		t.Fatalf("forwarded response = %d %q, want local handler", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Served-By-Region"); got != "eu-west" {
		t.Errorf("served-by header = %q, want eu-west", got)
	}
}

func TestMiddleware_ProxyTransportErrorIsBadGateway(t *testing.T) {
	// Port 1 is never listening.
	rt, table := newTestRouter(t, nil, "http://127.0.0.1:1")
	table.ReportSuccess(domain.StoreEndpointKey("us-east"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set(GeoCountryHeader, "US")
	rt.Middleware(http.NotFoundHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
