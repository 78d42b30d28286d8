// Package cache implements the cache cluster manager: health-aware
// client selection over a key-value layer that may run standalone, as a
// sharded cluster, or as a sentinel-supervised primary/replica set.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hse-digital/datalayer/internal/domain"
)

// Client is the capability interface every topology variant satisfies.
// Write-shaped methods on a read-only client fail with
// ErrReadOnlyReplica by construction, not convention.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	ReadOnly() bool
	Close() error
}

// Nil is returned by Get when the key does not exist.
var Nil = redis.Nil

// client wraps one go-redis connection (any topology) as a writable Client.
type client struct {
	rdb redis.UniversalClient
}

// NewStandalone connects to a single node.
func NewStandalone(addr string) Client {
	return &client{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewCluster connects to a sharded cluster.
func NewCluster(addrs []string) Client {
	return &client{rdb: redis.NewClusterClient(&redis.ClusterOptions{Addrs: addrs})}
}

// NewSentinel connects through sentinels to a supervised primary/replica
// set. The driver follows sentinel-announced promotions on its own;
// cross-region promotion stays with the failover orchestrator.
func NewSentinel(sentinels []string, masterName string) Client {
	return &client{rdb: redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    masterName,
		SentinelAddrs: sentinels,
	})}
}

// NewFromTopology dispatches on the topology variant exactly once,
// returning the matching constructor's client.
func NewFromTopology(t domain.CacheTopology) (Client, error) {
	switch t.Mode {
	case domain.CacheStandalone:
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: standalone cache with no nodes", domain.ErrConfiguration)
		}
		return NewStandalone(t.Nodes[0]), nil
	case domain.CacheCluster:
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: cluster cache with no nodes", domain.ErrConfiguration)
		}
		return NewCluster(t.Nodes), nil
	case domain.CacheSentinel:
		if len(t.Sentinels) == 0 || t.MasterName == "" {
			return nil, fmt.Errorf("%w: sentinel cache needs sentinels and master_name", domain.ErrConfiguration)
		}
		return NewSentinel(t.Sentinels, t.MasterName), nil
	default:
		return nil, fmt.Errorf("%w: unknown cache mode %q", domain.ErrConfiguration, t.Mode)
	}
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}

func (c *client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Exists(ctx, keys...).Result()
}

func (c *client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.Expire(ctx, key, ttl).Result()
}

func (c *client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *client) ReadOnly() bool { return false }

func (c *client) Close() error { return c.rdb.Close() }

// readOnlyView wraps a client so replica-routed callers cannot write,
// while sharing the underlying warm connections.
type readOnlyView struct {
	Client
}

func (v readOnlyView) Set(context.Context, string, string, time.Duration) error {
	return domain.ErrReadOnlyReplica
}

func (v readOnlyView) Del(context.Context, ...string) (int64, error) {
	return 0, domain.ErrReadOnlyReplica
}

func (v readOnlyView) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, domain.ErrReadOnlyReplica
}

func (v readOnlyView) ReadOnly() bool { return true }
