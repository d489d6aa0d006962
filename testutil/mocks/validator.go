// =============================================================================
// ✅ MockValidator - 可编排结果的存储校验器
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/storeflow/registry/validation"
	"github.com/BaSui01/storeflow/types"
)

// MockValidator 按存储键返回预设结果，未设置的键视为通过
type MockValidator struct {
	mu      sync.Mutex
	results map[types.StoreKey]*validation.Result
	err     error
	calls   []types.StoreKey
}

// NewMockValidator 创建新的 MockValidator
func NewMockValidator() *MockValidator {
	return &MockValidator{results: make(map[types.StoreKey]*validation.Result)}
}

// Invalid 让 key 的校验失败并附带 errs
func (v *MockValidator) Invalid(key types.StoreKey, errs map[string]string) *MockValidator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results[key] = &validation.Result{Key: key, Valid: false, Errors: errs}
	return v
}

// WithError 让每次校验返回 err
func (v *MockValidator) WithError(err error) *MockValidator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
	return v
}

// Calls 返回被校验的键序列
func (v *MockValidator) Calls() []types.StoreKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]types.StoreKey(nil), v.calls...)
}

// Validate 实现 validation.Validator
func (v *MockValidator) Validate(ctx context.Context, store *types.ArtifactStore) (*validation.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, store.Key)
	if v.err != nil {
		return nil, v.err
	}
	if r, ok := v.results[store.Key]; ok {
		return r, nil
	}
	return &validation.Result{Key: store.Key, Valid: true, Errors: map[string]string{}}, nil
}

var _ validation.Validator = (*MockValidator)(nil)
