// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	testutil.AssertStoreKeys(t, []string{"maven:remote:central"}, stores)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/BaSui01/storeflow/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// Keys 返回存储列表的键字符串，保持顺序
func Keys(stores []*types.ArtifactStore) []string {
	out := make([]string, len(stores))
	for i, s := range stores {
		out[i] = s.Key.String()
	}
	return out
}

// AssertStoreKeys 断言存储列表的键按顺序等于 expected
func AssertStoreKeys(t *testing.T, expected []string, actual []*types.ArtifactStore) {
	t.Helper()

	got := Keys(actual)
	if len(expected) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(expected, got) {
		t.Errorf("store keys mismatch:\nexpected: %v\nactual:   %v", expected, got)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
