package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hse-digital/datalayer/internal/domain"
)

// ─── Status ─────────────────────────────────────────────────────────────────

// statusResponse is the read-only status surface consumed by operators
// and dashboards. Health staleness is bounded by the probe interval.
type statusResponse struct {
	Failover             domain.FailoverState  `json:"failover"`
	Health               domain.HealthSnapshot `json:"health"`
	ProbeIntervalSeconds float64               `json:"probe_interval_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Failover:             s.orchestrator.State(),
		Health:               s.monitor.Snapshot(),
		ProbeIntervalSeconds: s.monitor.Interval().Seconds(),
	})
}

// regionView is a Region with connection secrets elided.
type regionView struct {
	ID        domain.RegionID  `json:"id"`
	Name      string           `json:"name"`
	Priority  int              `json:"priority"`
	Current   bool             `json:"current"`
	Primary   bool             `json:"primary"`
	CacheMode domain.CacheMode `json:"cache_mode,omitempty"`
	Replicas  int              `json:"replicas"`
	Countries []string         `json:"countries,omitempty"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	primary := s.orchestrator.State().PrimaryRegion
	regions := s.registry.List()
	out := make([]regionView, 0, len(regions))
	for _, reg := range regions {
		out = append(out, regionView{
			ID:        reg.ID,
			Name:      reg.Name,
			Priority:  reg.Priority,
			Current:   reg.Current,
			Primary:   reg.ID == primary,
			CacheMode: reg.Cache.Mode,
			Replicas:  len(reg.DataStore.Replicas),
			Countries: reg.Countries,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": out})
}

// ─── Failover ───────────────────────────────────────────────────────────────

type failoverRequest struct {
	TargetRegion domain.RegionID `json:"target_region"`
}

func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	var req failoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetRegion == "" {
		writeError(w, http.StatusBadRequest, "target_region is required")
		return
	}

	if err := s.orchestrator.Trigger(r.Context(), req.TargetRegion, domain.TriggerManual); err != nil {
		s.log.Warn().Stringer("target", req.TargetRegion).Err(err).Msg("manual failover rejected")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orchestrator.State())
}

type failbackRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleFailback(w http.ResponseWriter, r *http.Request) {
	var req failbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.orchestrator.SetFailbackEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, s.orchestrator.State())
}

// ─── Tenant Preferences ─────────────────────────────────────────────────────

type tenantRegionResponse struct {
	TenantID string          `json:"tenant_id"`
	Region   domain.RegionID `json:"region,omitempty"`
	Set      bool            `json:"set"`
}

func (s *Server) handleGetTenantRegion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reg, ok, err := s.tenants.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenantRegionResponse{TenantID: id, Region: reg, Set: ok})
}

type putTenantRegionRequest struct {
	Region domain.RegionID `json:"region"`
}

func (s *Server) handlePutTenantRegion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req putTenantRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Region == "" {
		writeError(w, http.StatusBadRequest, "region is required")
		return
	}

	if err := s.tenants.Set(r.Context(), id, req.Region); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenantRegionResponse{TenantID: id, Region: req.Region, Set: true})
}

func (s *Server) handleDeleteTenantRegion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tenants.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenantRegionResponse{TenantID: id, Set: false})
}
