// Package region implements the region registry: pure lookups over the
// deployment topology loaded at startup. The registry has no behavior of
// its own — health and failover live elsewhere and only consume it.
package region

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hse-digital/datalayer/internal/domain"
)

// Registry is the static catalog of deployment regions. Immutable after
// construction, so lookups need no locking.
type Registry struct {
	regions []domain.Region
	byID    map[domain.RegionID]domain.Region
	current domain.RegionID

	// byCountry maps upper-cased ISO country codes to the nearest region.
	byCountry map[string]domain.RegionID
}

// New builds a registry from the loaded topology. It fails with
// ErrConfiguration when the topology is empty, contains duplicates, or
// does not include exactly one current region — all fatal at startup.
func New(regions []domain.Region) (*Registry, error) {
	if len(regions) == 0 {
		return nil, fmt.Errorf("%w: no regions configured", domain.ErrConfiguration)
	}

	r := &Registry{
		regions:   make([]domain.Region, len(regions)),
		byID:      make(map[domain.RegionID]domain.Region, len(regions)),
		byCountry: make(map[string]domain.RegionID),
	}
	copy(r.regions, regions)
	sort.SliceStable(r.regions, func(i, j int) bool {
		return r.regions[i].Priority < r.regions[j].Priority
	})

	for _, reg := range r.regions {
		if reg.ID == "" {
			return nil, fmt.Errorf("%w: region with empty id", domain.ErrConfiguration)
		}
		if _, dup := r.byID[reg.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate region %q", domain.ErrConfiguration, reg.ID)
		}
		if !reg.HasDataStore() {
			return nil, fmt.Errorf("%w: region %q has no data store primary", domain.ErrConfiguration, reg.ID)
		}
		if reg.HasCache() && !reg.Cache.Mode.Valid() {
			return nil, fmt.Errorf("%w: region %q has unknown cache mode %q", domain.ErrConfiguration, reg.ID, reg.Cache.Mode)
		}
		if reg.Cache.Mode == domain.CacheSentinel && reg.Cache.MasterName == "" {
			return nil, fmt.Errorf("%w: region %q uses sentinel mode without master_name", domain.ErrConfiguration, reg.ID)
		}
		r.byID[reg.ID] = reg

		if reg.Current {
			if r.current != "" {
				return nil, fmt.Errorf("%w: both %q and %q marked current", domain.ErrConfiguration, r.current, reg.ID)
			}
			r.current = reg.ID
		}

		for _, cc := range reg.Countries {
			cc = strings.ToUpper(cc)
			if _, taken := r.byCountry[cc]; !taken {
				r.byCountry[cc] = reg.ID
			}
		}
	}

	if r.current == "" {
		return nil, fmt.Errorf("%w: current region not present in topology", domain.ErrConfiguration)
	}
	return r, nil
}

// List returns all regions in priority order.
func (r *Registry) List() []domain.Region {
	out := make([]domain.Region, len(r.regions))
	copy(out, r.regions)
	return out
}

// Get looks up a region by id.
func (r *Registry) Get(id domain.RegionID) (domain.Region, error) {
	reg, ok := r.byID[id]
	if !ok {
		return domain.Region{}, fmt.Errorf("%w: %q", domain.ErrRegionNotFound, id)
	}
	return reg, nil
}

// Current returns the region this process is deployed in.
func (r *Registry) Current() domain.Region {
	return r.byID[r.current]
}

// FailoverCandidates returns regions that could take over as primary,
// excluding the given region, ordered by configured priority. Only
// regions with a configured data store qualify; a candidate without a
// cache is acceptable, the cache layer simply has no primary there.
func (r *Registry) FailoverCandidates(exclude domain.RegionID) []domain.Region {
	out := make([]domain.Region, 0, len(r.regions))
	for _, reg := range r.regions {
		if reg.ID == exclude {
			continue
		}
		if !reg.HasDataStore() {
			continue
		}
		out = append(out, reg)
	}
	return out
}

// NearestTo maps a client-supplied ISO country code to the nearest
// configured region. The second return is false when no region claims
// the country.
func (r *Registry) NearestTo(country string) (domain.Region, bool) {
	id, ok := r.byCountry[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return domain.Region{}, false
	}
	return r.byID[id], true
}
