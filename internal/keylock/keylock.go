// Package keylock provides a table of named mutexes with acquisition timeouts.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned when a key could not be locked in time.
var ErrLockTimeout = errors.New("keylock: timed out waiting for lock")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Table serializes work per key. Different keys never contend.
// Entries are reference counted and dropped once no holder or waiter remains.
type Table[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty lock table.
func New[K comparable]() *Table[K] {
	return &Table[K]{entries: make(map[K]*entry)}
}

// Lock acquires the lock for key, waiting at most timeout. A non-positive
// timeout waits until ctx is done. The returned func releases the lock and is
// safe to call more than once.
func (t *Table[K]) Lock(ctx context.Context, key K, timeout time.Duration) (func(), error) {
	e := t.acquireEntry(key)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		t.releaseEntry(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			t.releaseEntry(key, e)
		})
	}, nil
}

// TryLock acquires the lock for key without waiting.
func (t *Table[K]) TryLock(key K) (func(), bool) {
	e := t.acquireEntry(key)
	if !e.sem.TryAcquire(1) {
		t.releaseEntry(key, e)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			t.releaseEntry(key, e)
		})
	}, true
}

// WithLock runs fn while holding the lock for key.
func (t *Table[K]) WithLock(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	unlock, err := t.Lock(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table[K]) acquireEntry(key K) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table[K]) releaseEntry(key K, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}
