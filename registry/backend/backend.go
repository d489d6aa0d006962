// Package backend provides the persistence adapters behind the store registry.
//
// A Backend is a plain key/value surface over store definitions: it does no
// locking and fires no events. The registry layers per-key locking, change
// events and the affected-by index on top of it, so the same registry logic
// runs unchanged over every implementation.
//
// Supported backends:
// - Memory: single process, tests and development (default)
// - Redis: shared between nodes, JSON records plus set indexes
// - Gorm: relational (postgres, mysql, sqlite), schema managed by migrations
// - Mongo: one document per store
//
// Backends shared between nodes also implement AffectedEdges, which keeps the
// affected-by reverse edges next to the definitions so every node resolves
// against the same membership.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/storeflow/types"
)

// Common errors
var (
	ErrBackendClosed = errors.New("backend is closed")
	ErrInvalidInput  = errors.New("invalid input")
	ErrCorruptRecord = errors.New("corrupt store record")
)

// Type represents the kind of persistence backend
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
	TypeGorm   Type = "gorm"
	TypeMongo  Type = "mongo"
)

// Backend persists store definitions by key. Implementations must be safe for
// concurrent use. Every returned store is a private copy the caller may mutate.
type Backend interface {
	// Get returns the store for key, or nil when absent.
	Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error)

	// Put upserts store and returns the previous value, or nil.
	Put(ctx context.Context, store *types.ArtifactStore) (*types.ArtifactStore, error)

	// Remove deletes key and returns the removed value, or nil.
	Remove(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error)

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]types.StoreKey, error)

	// List returns every stored definition.
	List(ctx context.Context) ([]*types.ArtifactStore, error)

	// ListByPackageAndType returns the stores of one package type and store type.
	ListByPackageAndType(ctx context.Context, packageType string, storeType types.StoreType) ([]*types.ArtifactStore, error)

	// IsEmpty reports whether no store is persisted.
	IsEmpty(ctx context.Context) (bool, error)

	// Clear removes every store.
	Clear(ctx context.Context) error

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// AffectedEdges persists reverse membership edges (member to the groups that
// list it directly). Every method is idempotent per (member, group) pair, so
// concurrent writers of different groups never overwrite each other.
type AffectedEdges interface {
	// AddAffectedBy records group as a direct container of members.
	AddAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error

	// RemoveAffectedBy drops the edges from members to group.
	RemoveAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error

	// AffectedBy returns the groups recorded as direct containers of member.
	AffectedBy(ctx context.Context, member types.StoreKey) ([]types.StoreKey, error)
}

// corruptError wraps a decode failure of one persisted entry.
func corruptError(id string, err error) error {
	return fmt.Errorf("%w %s: %v", ErrCorruptRecord, id, err)
}

func checkStore(store *types.ArtifactStore) error {
	if store == nil {
		return ErrInvalidInput
	}
	return store.Validate()
}
