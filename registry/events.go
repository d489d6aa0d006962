package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/metrics"
	"github.com/BaSui01/storeflow/types"
)

// EventType names a registry lifecycle notification.
type EventType string

const (
	EventPreUpdate   EventType = "pre-update"
	EventPostUpdate  EventType = "post-update"
	EventPreDelete   EventType = "pre-delete"
	EventPostDelete  EventType = "post-delete"
	EventPreEnable   EventType = "pre-enable"
	EventPostEnable  EventType = "post-enable"
	EventPreDisable  EventType = "pre-disable"
	EventPostDisable EventType = "post-disable"
)

// IsPost reports whether t fires after persistence.
func (t EventType) IsPost() bool {
	switch t {
	case EventPostUpdate, EventPostDelete, EventPostEnable, EventPostDisable:
		return true
	}
	return false
}

// StoreChange pairs the persisted value before and after a mutation. Old is
// nil on create, New is nil on delete.
type StoreChange struct {
	Old *types.ArtifactStore `json:"old,omitempty"`
	New *types.ArtifactStore `json:"new,omitempty"`
}

// Key returns the key of whichever side is set.
func (c StoreChange) Key() types.StoreKey {
	if c.New != nil {
		return c.New.Key
	}
	if c.Old != nil {
		return c.Old.Key
	}
	return types.StoreKey{}
}

// Event is delivered to listeners around every registry mutation.
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	Stores    []StoreChange       `json:"stores"`
	Summary   types.ChangeSummary `json:"summary"`
	Meta      *EventMetadata      `json:"-"`
	Timestamp time.Time           `json:"timestamp"`
}

func newEvent(t EventType, meta *EventMetadata, changes ...StoreChange) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Stores:    changes,
		Meta:      meta,
		Timestamp: time.Now().UTC(),
	}
	if meta != nil {
		ev.Summary = meta.Summary
	}
	return ev
}

// Listener observes registry events. An error from a pre-event aborts the
// mutation; an error from a post-event rolls it back.
type Listener interface {
	OnEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Dispatcher invokes listeners synchronously in registration order and stops
// at the first error.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger *zap.Logger, collector *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		metrics: collector,
		logger:  logger.With(zap.String("component", "event_dispatcher")),
	}
}

// Add registers listeners after the existing ones.
func (d *Dispatcher) Add(listeners ...Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Dispatch delivers ev to every listener in order.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (err error) {
	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.RUnlock()

	defer func() {
		if d.metrics != nil {
			d.metrics.RecordEvent(string(ev.Type), err)
		}
	}()

	for idx, l := range listeners {
		if err := safeInvoke(ctx, l, ev); err != nil {
			d.logger.Warn("listener failed",
				zap.String("event", string(ev.Type)),
				zap.String("event_id", ev.ID),
				zap.Int("listener", idx),
				zap.Error(err),
			)
			return fmt.Errorf("%s listener %d: %w", ev.Type, idx, err)
		}
	}
	return nil
}

func safeInvoke(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.OnEvent(ctx, ev)
}

// =============================================================================
// 📡 Broadcaster
// =============================================================================

// Broadcaster fans post-events out to subscribers such as the websocket
// stream. Slow subscribers lose events rather than stall the registry.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	buffer  int
	closed  bool
	dropped uint64
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster with per-subscriber buffers.
func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[uint64]chan Event),
		buffer: buffer,
		logger: logger.With(zap.String("component", "event_broadcaster")),
	}
}

// OnEvent implements Listener. It never fails.
func (b *Broadcaster) OnEvent(ctx context.Context, ev Event) error {
	if !ev.Type.IsPost() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			b.logger.Debug("subscriber buffer full, dropping event",
				zap.Uint64("subscriber", id), zap.String("event_id", ev.ID))
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned cancel func unsubscribes and
// closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

var (
	_ Listener = ListenerFunc(nil)
	_ Listener = (*Broadcaster)(nil)
)
