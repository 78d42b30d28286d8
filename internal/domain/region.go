// Package domain defines the core types shared across the data-layer
// resilience subsystem: regions, endpoint health, and failover state.
package domain

import "fmt"

// ─── Region Types ───────────────────────────────────────────────────────────

// RegionID uniquely identifies a deployment region.
type RegionID string

// String returns the region as a human-readable string.
func (r RegionID) String() string { return string(r) }

// CacheMode selects the key-value topology a region's cache runs as.
type CacheMode string

const (
	CacheStandalone CacheMode = "standalone"
	CacheCluster    CacheMode = "cluster"
	CacheSentinel   CacheMode = "sentinel"
)

// Valid reports whether m is a recognized cache mode.
func (m CacheMode) Valid() bool {
	switch m {
	case CacheStandalone, CacheCluster, CacheSentinel:
		return true
	}
	return false
}

// DataStoreTopology holds a region's relational store endpoints.
// Primary is the one primary-capable DSN; Replicas are read-only.
type DataStoreTopology struct {
	Primary  string   `toml:"primary" json:"primary"`
	Replicas []string `toml:"replicas" json:"replicas"`
}

// CacheTopology holds a region's key-value cluster endpoints.
// Exactly one of Nodes (standalone/cluster) or Sentinels (sentinel mode)
// is consulted, selected by Mode.
type CacheTopology struct {
	Mode       CacheMode `toml:"mode" json:"mode"`
	Nodes      []string  `toml:"nodes" json:"nodes,omitempty"`
	Sentinels  []string  `toml:"sentinels" json:"sentinels,omitempty"`
	MasterName string    `toml:"master_name" json:"master_name,omitempty"`
}

// Region is one deployment region's full endpoint topology.
// Immutable after process start; only its primary/replica role changes,
// and that is tracked in FailoverState, not here.
type Region struct {
	ID        RegionID          `toml:"id" json:"id"`
	Name      string            `toml:"name" json:"name"`
	DataStore DataStoreTopology `toml:"datastore" json:"datastore"`
	Cache     CacheTopology     `toml:"cache" json:"cache"`
	CDNOrigin string            `toml:"cdn_origin" json:"cdn_origin,omitempty"`
	Ingress   string            `toml:"ingress" json:"ingress,omitempty"`

	// Priority orders failover candidates; lower wins.
	Priority int `toml:"priority" json:"priority"`

	// Countries lists ISO country codes served nearest by this region,
	// used to map client geo hints to a serving region.
	Countries []string `toml:"countries" json:"countries,omitempty"`

	// Current marks the region this process is deployed in.
	Current bool `toml:"current" json:"current"`
}

// HasDataStore reports whether the region has at least one store endpoint.
func (r Region) HasDataStore() bool { return r.DataStore.Primary != "" }

// HasCache reports whether the region has at least one cache node configured.
func (r Region) HasCache() bool {
	return len(r.Cache.Nodes) > 0 || len(r.Cache.Sentinels) > 0
}

// ─── Health Key Space ───────────────────────────────────────────────────────
// Store and cache endpoints share one logical id space so a single health
// table drives both managers. Role keys ("primary") follow the designation
// across failovers and carry the consecutive-failure counter that gates
// automatic failover; endpoint keys ("store-<region>") stick to a fixed
// endpoint so a demoted primary's recovery is still observable.

// KeyPrimary is the role key for the currently designated store primary.
const KeyPrimary = "primary"

// KeyCachePrimary is the role key for the designated primary cache cluster.
const KeyCachePrimary = "cache-primary"

// ReplicaKey returns the health key for a region's store replica set.
func ReplicaKey(id RegionID) string { return fmt.Sprintf("replica-%s", id) }

// StoreEndpointKey returns the health key for a region's primary-capable
// store endpoint, independent of its current role.
func StoreEndpointKey(id RegionID) string { return fmt.Sprintf("store-%s", id) }

// CacheEndpointKey returns the health key for a region's cache cluster,
// independent of its current role.
func CacheEndpointKey(id RegionID) string { return fmt.Sprintf("cache-%s", id) }
