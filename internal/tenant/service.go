// Package tenant stores per-tenant region preferences in the primary
// data store and serves them to the routing layer.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/region"
	"github.com/hse-digital/datalayer/internal/store"
)

// Service reads and writes tenant → region preferences through the
// connection manager, so it follows the primary across failovers like
// any other business-logic caller.
type Service struct {
	store    *store.Manager
	registry *region.Registry
	log      zerolog.Logger
}

// NewService creates the preference service.
func NewService(m *store.Manager, reg *region.Registry, logger zerolog.Logger) *Service {
	return &Service{
		store:    m,
		registry: reg,
		log:      logger.With().Str("component", "tenant").Logger(),
	}
}

// Migrate creates the preference table on the primary. Idempotent.
func (s *Service) Migrate(ctx context.Context) error {
	conn, err := s.store.Write(ctx)
	if err != nil {
		return fmt.Errorf("migrate tenant prefs: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tenant_region_prefs (
		tenant_id   TEXT PRIMARY KEY,
		region_id   TEXT NOT NULL,
		updated_at  INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create tenant_region_prefs: %w", err)
	}
	return nil
}

// Set upserts a tenant's preferred region. The region must exist in the
// loaded topology.
func (s *Service) Set(ctx context.Context, tenantID string, regionID domain.RegionID) error {
	if tenantID == "" {
		return fmt.Errorf("empty tenant id")
	}
	if _, err := s.registry.Get(regionID); err != nil {
		return err
	}

	conn, err := s.store.Write(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO tenant_region_prefs (tenant_id, region_id, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT(tenant_id) DO UPDATE SET region_id = excluded.region_id, updated_at = excluded.updated_at`,
		tenantID, regionID.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set preference for %s: %w", tenantID, err)
	}
	s.log.Info().Str("tenant", tenantID).Stringer("region", regionID).Msg("tenant preference updated")
	return nil
}

// Get returns a tenant's preferred region; the second return is false
// when no preference is set.
func (s *Service) Get(ctx context.Context, tenantID string) (domain.RegionID, bool, error) {
	conn, err := s.store.Read(ctx, "")
	if err != nil {
		return "", false, err
	}
	defer conn.Close()

	var regionID string
	err = conn.QueryRowContext(ctx,
		`SELECT region_id FROM tenant_region_prefs WHERE tenant_id = $1`, tenantID).Scan(&regionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference for %s: %w", tenantID, err)
	}
	return domain.RegionID(regionID), true, nil
}

// Delete clears a tenant's preference, returning it to geo-resolved
// routing.
func (s *Service) Delete(ctx context.Context, tenantID string) error {
	conn, err := s.store.Write(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx,
		`DELETE FROM tenant_region_prefs WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete preference for %s: %w", tenantID, err)
	}
	return nil
}

// Preference implements the routing layer's lookup interface.
func (s *Service) Preference(ctx context.Context, tenantID string) (domain.RegionID, bool, error) {
	return s.Get(ctx, tenantID)
}
