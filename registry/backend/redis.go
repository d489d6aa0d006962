package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/pool"
	"github.com/BaSui01/storeflow/types"
)

// RedisBackend is a Redis-based implementation of Backend.
// Suitable for multi-node deployments sharing one Redis.
// Each store is a JSON record; sets index keys globally and per
// (package type, store type). Affected-by edges are one set per member.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
	closer    io.Closer
	logger    *zap.Logger
}

// NewRedisBackend creates a Redis backend over an existing client. The
// client's lifecycle stays with the caller.
func NewRedisBackend(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "storeflow:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_backend")),
	}
}

// Close releases the connection owner, if the backend was given one
func (b *RedisBackend) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// Ping checks if the backend is healthy
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// storeKey returns the Redis key holding a store record
func (b *RedisBackend) storeKey(key types.StoreKey) string {
	return b.keyPrefix + "store:" + key.String()
}

// typeIndexKey returns the Redis key of a (package, type) index set
func (b *RedisBackend) typeIndexKey(packageType string, storeType types.StoreType) string {
	return b.keyPrefix + "index:" + packageType + ":" + string(storeType)
}

// allKeysKey returns the Redis key of the global key set
func (b *RedisBackend) allKeysKey() string {
	return b.keyPrefix + "keys"
}

// affectedKey returns the Redis key of the groups listing member
func (b *RedisBackend) affectedKey(member types.StoreKey) string {
	return b.keyPrefix + "affected:" + member.String()
}

// affectedMembersKey returns the Redis key of the set of members with edges
func (b *RedisBackend) affectedMembersKey() string {
	return b.keyPrefix + "affected"
}

// Get retrieves a store by key
func (b *RedisBackend) Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	data, err := b.client.Get(ctx, b.storeKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// Put upserts a store
func (b *RedisBackend) Put(ctx context.Context, store *types.ArtifactStore) (*types.ArtifactStore, error) {
	if err := checkStore(store); err != nil {
		return nil, err
	}

	prev, err := b.Get(ctx, store.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous value: %w", err)
	}

	rec, err := ToRecord(store)
	if err != nil {
		return nil, err
	}
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to marshal store: %w", err)
	}
	data := buf.Bytes()

	member := store.Key.String()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.storeKey(store.Key), data, 0)
		pipe.SAdd(ctx, b.allKeysKey(), member)
		pipe.SAdd(ctx, b.typeIndexKey(store.Key.PackageType, store.Key.Type), member)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Remove deletes a store
func (b *RedisBackend) Remove(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	prev, err := b.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous value: %w", err)
	}

	member := key.String()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.storeKey(key))
		pipe.SRem(ctx, b.allKeysKey(), member)
		pipe.SRem(ctx, b.typeIndexKey(key.PackageType, key.Type), member)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Keys lists all keys
func (b *RedisBackend) Keys(ctx context.Context) ([]types.StoreKey, error) {
	members, err := b.client.SMembers(ctx, b.allKeysKey()).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]types.StoreKey, 0, len(members))
	var errs []error
	for _, m := range members {
		k, err := types.ParseStoreKey(m)
		if err != nil {
			errs = append(errs, corruptError(m, err))
			continue
		}
		keys = append(keys, k)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return keys, nil
}

// List returns all stores
func (b *RedisBackend) List(ctx context.Context) ([]*types.ArtifactStore, error) {
	members, err := b.client.SMembers(ctx, b.allKeysKey()).Result()
	if err != nil {
		return nil, err
	}
	return b.loadMembers(ctx, members)
}

// ListByPackageAndType returns the stores matching packageType and storeType
func (b *RedisBackend) ListByPackageAndType(ctx context.Context, packageType string, storeType types.StoreType) ([]*types.ArtifactStore, error) {
	members, err := b.client.SMembers(ctx, b.typeIndexKey(packageType, storeType)).Result()
	if err != nil {
		return nil, err
	}
	return b.loadMembers(ctx, members)
}

// loadMembers fetches the records for index members in one round trip.
// Members whose record vanished between the two reads are skipped; malformed
// members and undecodable records fail the whole read.
func (b *RedisBackend) loadMembers(ctx context.Context, members []string) ([]*types.ArtifactStore, error) {
	result := make([]*types.ArtifactStore, 0, len(members))
	if len(members) == 0 {
		return result, nil
	}

	var errs []error
	redisKeys := make([]string, 0, len(members))
	for _, m := range members {
		k, err := types.ParseStoreKey(m)
		if err != nil {
			errs = append(errs, corruptError(m, err))
			continue
		}
		redisKeys = append(redisKeys, b.storeKey(k))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	values, err := b.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		store, err := decodeRecord([]byte(raw))
		if err != nil {
			errs = append(errs, corruptError(redisKeys[i], err))
			continue
		}
		result = append(result, store)
	}
	if len(errs) > 0 {
		b.logger.Error("undecodable records in index", zap.Int("count", len(errs)))
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// IsEmpty reports whether no store is persisted
func (b *RedisBackend) IsEmpty(ctx context.Context) (bool, error) {
	n, err := b.client.SCard(ctx, b.allKeysKey()).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Clear removes every store, index and affected-by edge
func (b *RedisBackend) Clear(ctx context.Context) error {
	keys, err := b.Keys(ctx)
	if err != nil {
		return err
	}
	affected, err := b.client.SMembers(ctx, b.affectedMembersKey()).Result()
	if err != nil {
		return err
	}

	toDelete := []string{b.allKeysKey(), b.affectedMembersKey()}
	indexes := make(map[string]struct{})
	for _, k := range keys {
		toDelete = append(toDelete, b.storeKey(k))
		indexes[b.typeIndexKey(k.PackageType, k.Type)] = struct{}{}
	}
	for idx := range indexes {
		toDelete = append(toDelete, idx)
	}
	for _, m := range affected {
		toDelete = append(toDelete, b.keyPrefix+"affected:"+m)
	}
	return b.client.Del(ctx, toDelete...).Err()
}

// =============================================================================
// 🔗 AffectedEdges
// =============================================================================

// AddAffectedBy records group as a direct container of members
func (b *RedisBackend) AddAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error {
	if len(members) == 0 {
		return nil
	}
	g := group.String()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			pipe.SAdd(ctx, b.affectedKey(m), g)
			pipe.SAdd(ctx, b.affectedMembersKey(), m.String())
		}
		return nil
	})
	return err
}

// RemoveAffectedBy drops the edges from members to group
func (b *RedisBackend) RemoveAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error {
	if len(members) == 0 {
		return nil
	}
	g := group.String()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			pipe.SRem(ctx, b.affectedKey(m), g)
		}
		return nil
	})
	return err
}

// AffectedBy returns the groups listing member directly
func (b *RedisBackend) AffectedBy(ctx context.Context, member types.StoreKey) ([]types.StoreKey, error) {
	raw, err := b.client.SMembers(ctx, b.affectedKey(member)).Result()
	if err != nil {
		return nil, err
	}
	groups := make([]types.StoreKey, 0, len(raw))
	for _, g := range raw {
		k, err := types.ParseStoreKey(g)
		if err != nil {
			return nil, corruptError(g, err)
		}
		groups = append(groups, k)
	}
	return groups, nil
}

func decodeRecord(data []byte) (*types.ArtifactStore, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store: %w", err)
	}
	return FromRecord(&rec)
}

var (
	_ Backend       = (*RedisBackend)(nil)
	_ AffectedEdges = (*RedisBackend)(nil)
)
