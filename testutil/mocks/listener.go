// =============================================================================
// 👂 RecordingListener - 记录注册表事件
// =============================================================================
// 按顺序记录收到的事件，可对指定事件类型注入错误或回调
//
// 使用方法:
//
//	l := mocks.NewRecordingListener().FailOn(registry.EventPostUpdate, errBoom)
//	reg := registry.New(b, registry.WithListeners(l))
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/storeflow/registry"
)

// RecordingListener 是 registry.Listener 的模拟实现
type RecordingListener struct {
	mu     sync.Mutex
	events []registry.Event
	fail   map[registry.EventType]error
	hooks  map[registry.EventType]func(context.Context, registry.Event)
}

// NewRecordingListener 创建新的 RecordingListener
func NewRecordingListener() *RecordingListener {
	return &RecordingListener{
		fail:  make(map[registry.EventType]error),
		hooks: make(map[registry.EventType]func(context.Context, registry.Event)),
	}
}

// FailOn 让指定类型的事件返回 err
func (l *RecordingListener) FailOn(t registry.EventType, err error) *RecordingListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail[t] = err
	return l
}

// OnType 在收到指定类型事件时调用 fn（在记录之后、返回之前）
func (l *RecordingListener) OnType(t registry.EventType, fn func(context.Context, registry.Event)) *RecordingListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[t] = fn
	return l
}

// OnEvent 实现 registry.Listener
func (l *RecordingListener) OnEvent(ctx context.Context, ev registry.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	err := l.fail[ev.Type]
	hook := l.hooks[ev.Type]
	l.mu.Unlock()

	if hook != nil {
		hook(ctx, ev)
	}
	return err
}

// Events 返回已记录事件的副本
func (l *RecordingListener) Events() []registry.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]registry.Event(nil), l.events...)
}

// Types 返回已记录事件的类型序列
func (l *RecordingListener) Types() []registry.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]registry.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

// Reset 清空记录
func (l *RecordingListener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

var _ registry.Listener = (*RecordingListener)(nil)
