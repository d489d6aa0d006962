package backend

import (
	"context"
	"sync"

	"github.com/BaSui01/storeflow/types"
)

// MemoryBackend is an in-memory implementation of Backend.
// Suitable for development and testing. Data is lost on restart.
type MemoryBackend struct {
	stores map[types.StoreKey]*types.ArtifactStore
	mu     sync.RWMutex
	closed bool
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		stores: make(map[types.StoreKey]*types.ArtifactStore),
	}
}

// Close closes the backend
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Ping checks if the backend is healthy
func (b *MemoryBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBackendClosed
	}
	return nil
}

// Get retrieves a store by key
func (b *MemoryBackend) Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	return b.stores[key].Copy(), nil
}

// Put upserts a store
func (b *MemoryBackend) Put(ctx context.Context, store *types.ArtifactStore) (*types.ArtifactStore, error) {
	if err := checkStore(store); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	prev := b.stores[store.Key]
	b.stores[store.Key] = store.Copy()
	return prev, nil
}

// Remove deletes a store
func (b *MemoryBackend) Remove(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	prev := b.stores[key]
	delete(b.stores, key)
	return prev, nil
}

// Keys lists all keys
func (b *MemoryBackend) Keys(ctx context.Context) ([]types.StoreKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	keys := make([]types.StoreKey, 0, len(b.stores))
	for k := range b.stores {
		keys = append(keys, k)
	}
	return keys, nil
}

// List returns all stores
func (b *MemoryBackend) List(ctx context.Context) ([]*types.ArtifactStore, error) {
	return b.filter(func(types.StoreKey) bool { return true })
}

// ListByPackageAndType returns the stores matching packageType and storeType
func (b *MemoryBackend) ListByPackageAndType(ctx context.Context, packageType string, storeType types.StoreType) ([]*types.ArtifactStore, error) {
	return b.filter(func(k types.StoreKey) bool {
		return k.PackageType == packageType && k.Type == storeType
	})
}

func (b *MemoryBackend) filter(match func(types.StoreKey) bool) ([]*types.ArtifactStore, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	result := make([]*types.ArtifactStore, 0)
	for k, s := range b.stores {
		if match(k) {
			result = append(result, s.Copy())
		}
	}
	return result, nil
}

// IsEmpty reports whether no store is held
func (b *MemoryBackend) IsEmpty(ctx context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrBackendClosed
	}
	return len(b.stores) == 0, nil
}

// Clear removes every store
func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.stores = make(map[types.StoreKey]*types.ArtifactStore)
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
