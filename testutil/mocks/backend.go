// =============================================================================
// 🗄️ MockBackend - 可注入错误的存储后端
// =============================================================================
// 包装内存后端，支持按操作注入错误与统计调用次数
//
// 使用方法:
//
//	b := mocks.NewMockBackend().WithPutErr(errors.New("disk full"))
//	reg := registry.New(b)
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/types"
)

// MockBackend 是 backend.Backend 的模拟实现
type MockBackend struct {
	inner *backend.MemoryBackend

	mu sync.Mutex

	// 错误注入
	getErr    error
	putErr    error
	removeErr error
	listErr   error
	pingErr   error

	// 第 n 次 Put 起失败（从 1 计数，0 表示不启用）
	failPutFrom int

	// 调用记录
	getCalls    int
	putCalls    int
	removeCalls int
}

// NewMockBackend 创建新的 MockBackend
func NewMockBackend() *MockBackend {
	return &MockBackend{inner: backend.NewMemoryBackend()}
}

// WithGetErr 设置 Get 错误
func (m *MockBackend) WithGetErr(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
	return m
}

// WithPutErr 设置 Put 错误
func (m *MockBackend) WithPutErr(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
	return m
}

// FailPutFrom 让第 n 次及之后的 Put 返回 err
func (m *MockBackend) FailPutFrom(n int, err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPutFrom = n
	m.putErr = err
	return m
}

// WithRemoveErr 设置 Remove 错误
func (m *MockBackend) WithRemoveErr(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeErr = err
	return m
}

// WithListErr 设置 Keys/List 错误
func (m *MockBackend) WithListErr(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

// WithPingErr 设置 Ping 错误
func (m *MockBackend) WithPingErr(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
	return m
}

// =============================================================================
// 📊 调用统计
// =============================================================================

// GetCalls 返回 Get 调用次数
func (m *MockBackend) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// PutCalls 返回 Put 调用次数
func (m *MockBackend) PutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCalls
}

// RemoveCalls 返回 Remove 调用次数
func (m *MockBackend) RemoveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeCalls
}

// =============================================================================
// 🔌 Backend 实现
// =============================================================================

func (m *MockBackend) Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	m.mu.Lock()
	m.getCalls++
	err := m.getErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.Get(ctx, key)
}

func (m *MockBackend) Put(ctx context.Context, store *types.ArtifactStore) (*types.ArtifactStore, error) {
	m.mu.Lock()
	m.putCalls++
	err := m.putErr
	if m.failPutFrom > 0 && m.putCalls < m.failPutFrom {
		err = nil
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.Put(ctx, store)
}

func (m *MockBackend) Remove(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	m.mu.Lock()
	m.removeCalls++
	err := m.removeErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.Remove(ctx, key)
}

func (m *MockBackend) Keys(ctx context.Context) ([]types.StoreKey, error) {
	if err := m.listError(); err != nil {
		return nil, err
	}
	return m.inner.Keys(ctx)
}

func (m *MockBackend) List(ctx context.Context) ([]*types.ArtifactStore, error) {
	if err := m.listError(); err != nil {
		return nil, err
	}
	return m.inner.List(ctx)
}

func (m *MockBackend) ListByPackageAndType(ctx context.Context, packageType string, storeType types.StoreType) ([]*types.ArtifactStore, error) {
	if err := m.listError(); err != nil {
		return nil, err
	}
	return m.inner.ListByPackageAndType(ctx, packageType, storeType)
}

func (m *MockBackend) IsEmpty(ctx context.Context) (bool, error) {
	if err := m.listError(); err != nil {
		return false, err
	}
	return m.inner.IsEmpty(ctx)
}

func (m *MockBackend) Clear(ctx context.Context) error {
	return m.inner.Clear(ctx)
}

func (m *MockBackend) Ping(ctx context.Context) error {
	m.mu.Lock()
	err := m.pingErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.inner.Ping(ctx)
}

func (m *MockBackend) Close() error {
	return m.inner.Close()
}

func (m *MockBackend) listError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listErr
}

var _ backend.Backend = (*MockBackend)(nil)
