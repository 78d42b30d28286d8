package tenant

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
	"github.com/hse-digital/datalayer/internal/region"
	"github.com/hse-digital/datalayer/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	reg, err := region.New([]domain.Region{
		{
			ID: "eu-west", Name: "Europe West", Priority: 1, Current: true,
			DataStore: domain.DataStoreTopology{Primary: "sqlite:" + filepath.Join(dir, "eu.db")},
		},
		{
			ID: "us-east", Name: "US East", Priority: 2,
			DataStore: domain.DataStoreTopology{Primary: "sqlite:" + filepath.Join(dir, "us.db")},
		},
	})
	if err != nil {
		t.Fatalf("region.New() error: %v", err)
	}

	m, err := store.Open(reg, health.NewTable(), store.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	s := NewService(m, reg, zerolog.Nop())
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestService(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() error: %v", err)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "t1"); err != nil || ok {
		t.Fatalf("Get() before Set = (ok=%v, err=%v), want no preference", ok, err)
	}

	if err := s.Set(ctx, "t1", "us-east"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, ok, err := s.Get(ctx, "t1")
	if err != nil || !ok || got != "us-east" {
		t.Fatalf("Get() = (%s, %v, %v), want (us-east, true, nil)", got, ok, err)
	}

	// Upsert replaces, never duplicates.
	if err := s.Set(ctx, "t1", "eu-west"); err != nil {
		t.Fatalf("Set() upsert error: %v", err)
	}
	if got, _, _ := s.Get(ctx, "t1"); got != "eu-west" {
		t.Errorf("Get() after upsert = %s, want eu-west", got)
	}

	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "t1"); ok {
		t.Error("preference survived Delete()")
	}
}

func TestSet_Validation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if err := s.Set(ctx, "", "us-east"); err == nil {
		t.Error("Set() with empty tenant id succeeded")
	}
	if err := s.Set(ctx, "t1", "mars"); !errors.Is(err, domain.ErrRegionNotFound) {
		t.Errorf("Set() with unknown region error = %v, want ErrRegionNotFound", err)
	}
}

func TestDelete_MissingTenantIsNoop(t *testing.T) {
	s := newTestService(t)
	if err := s.Delete(context.Background(), "never-existed"); err != nil {
		t.Errorf("Delete() of absent tenant error: %v", err)
	}
}

func TestPreference_ServesRoutingLookup(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if err := s.Set(ctx, "t9", "us-east"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, ok, err := s.Preference(ctx, "t9")
	if err != nil || !ok || got != "us-east" {
		t.Errorf("Preference() = (%s, %v, %v), want (us-east, true, nil)", got, ok, err)
	}
}
