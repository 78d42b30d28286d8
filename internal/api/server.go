// Package api exposes the resilience subsystem's HTTP surface: the
// health/failover status endpoint, the manual failover trigger, tenant
// region preferences, and the geo-routing middleware for application
// traffic.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/failover"
	"github.com/hse-digital/datalayer/internal/georoute"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/region"
	"github.com/hse-digital/datalayer/internal/tenant"
)

// Server is the subsystem's HTTP server.
type Server struct {
	registry     *region.Registry
	monitor      *health.Monitor
	orchestrator *failover.Orchestrator
	tenants      *tenant.Service
	router       *georoute.Router
	log          zerolog.Logger

	adminToken     string
	metricsEnabled bool
	app            http.Handler // application traffic behind geo-routing
}

// NewServer wires the API against the live components.
func NewServer(reg *region.Registry, mon *health.Monitor, orch *failover.Orchestrator, tenants *tenant.Service, rt *georoute.Router, adminToken string, logger zerolog.Logger) *Server {
	return &Server{
		registry:     reg,
		monitor:      mon,
		orchestrator: orch,
		tenants:      tenants,
		router:       rt,
		log:          logger.With().Str("component", "api").Logger(),
		adminToken:   adminToken,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetApp mounts the application handler behind the geo-routing
// middleware. Everything outside /v1, /healthz and /metrics is routed
// per-region.
func (s *Server) SetApp(h http.Handler) { s.app = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/regions", s.handleRegions)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/failover", s.handleFailover)
			r.Post("/failback", s.handleFailback)
		})

		r.Route("/tenants/{id}/region", func(r chi.Router) {
			r.Get("/", s.handleGetTenantRegion)
			r.Put("/", s.handlePutTenantRegion)
			r.Delete("/", s.handleDeleteTenantRegion)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	if s.app != nil && s.router != nil {
		r.With(s.router.Middleware).Handle("/*", s.app)
	}

	return r
}

// requireAdmin guards operator endpoints with a bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled: no admin token configured")
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) ||
			subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the error taxonomy onto HTTP statuses: retryable
// resource errors become 503, concurrent transitions 409, unknown
// regions 404.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrFailoverInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRegionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyPrimary):
		return http.StatusBadRequest
	case domain.Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
