package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/cache"
	"github.com/BaSui01/storeflow/types"
)

// OrderingCache memoizes flattened group orderings as key lists.
type OrderingCache interface {
	Get(ctx context.Context, group types.StoreKey, variant string) ([]types.StoreKey, bool)
	Set(ctx context.Context, group types.StoreKey, variant string, keys []types.StoreKey)
	Invalidate(ctx context.Context, groups ...types.StoreKey) error
}

// JSONStore is the subset of cache.Manager the ordering cache needs.
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var orderingVariants = func() []string {
	var out []string
	for _, e := range []bool{false, true} {
		for _, r := range []bool{false, true} {
			for _, g := range []bool{false, true} {
				out = append(out, orderingVariant(e, r, g))
			}
		}
	}
	return out
}()

// RedisOrderingCache keeps orderings in Redis so every node shares them.
// The registry invalidates entries on every write, delete and rollback.
type RedisOrderingCache struct {
	store   JSONStore
	prefix  string
	ttl     time.Duration
	metrics CacheRecorder
	logger  *zap.Logger
}

// CacheRecorder counts ordering cache hits and misses.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const orderingCacheType = "group_ordering"

// NewRedisOrderingCache creates an ordering cache over store. A zero ttl
// uses the store's default.
func NewRedisOrderingCache(store JSONStore, prefix string, ttl time.Duration, logger *zap.Logger) *RedisOrderingCache {
	if prefix == "" {
		prefix = "storeflow:ordering:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisOrderingCache{
		store:  store,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "ordering_cache")),
	}
}

// WithMetrics reports hits and misses to m.
func (c *RedisOrderingCache) WithMetrics(m CacheRecorder) *RedisOrderingCache {
	c.metrics = m
	return c
}

func (c *RedisOrderingCache) key(group types.StoreKey, variant string) string {
	return c.prefix + group.String() + ":" + variant
}

// Get returns a cached ordering. Errors other than a miss are logged and
// treated as a miss.
func (c *RedisOrderingCache) Get(ctx context.Context, group types.StoreKey, variant string) ([]types.StoreKey, bool) {
	var keys []types.StoreKey
	if err := c.store.GetJSON(ctx, c.key(group, variant), &keys); err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("ordering cache read failed", zap.String("group", group.String()), zap.Error(err))
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(orderingCacheType)
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(orderingCacheType)
	}
	return keys, true
}

// Set stores an ordering.
func (c *RedisOrderingCache) Set(ctx context.Context, group types.StoreKey, variant string, keys []types.StoreKey) {
	if err := c.store.SetJSON(ctx, c.key(group, variant), keys, c.ttl); err != nil {
		c.logger.Warn("ordering cache write failed", zap.String("group", group.String()), zap.Error(err))
	}
}

// Invalidate drops every variant cached for groups.
func (c *RedisOrderingCache) Invalidate(ctx context.Context, groups ...types.StoreKey) error {
	if len(groups) == 0 {
		return nil
	}
	keys := make([]string, 0, len(groups)*len(orderingVariants))
	for _, g := range groups {
		for _, v := range orderingVariants {
			keys = append(keys, c.key(g, v))
		}
	}
	return c.store.Delete(ctx, keys...)
}

var _ OrderingCache = (*RedisOrderingCache)(nil)
