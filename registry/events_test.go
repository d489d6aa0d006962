package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/types"
)

func TestDispatcher_OrderAndAbort(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), nil)
	var calls []string
	boom := errors.New("boom")

	d.Add(
		ListenerFunc(func(ctx context.Context, ev Event) error {
			calls = append(calls, "first")
			return nil
		}),
		nil,
		ListenerFunc(func(ctx context.Context, ev Event) error {
			calls = append(calls, "second")
			return boom
		}),
		ListenerFunc(func(ctx context.Context, ev Event) error {
			calls = append(calls, "third")
			return nil
		}),
	)
	assert.Equal(t, 3, d.Len())

	err := d.Dispatch(context.Background(), newEvent(EventPreUpdate, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pre-update")
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher(nil, nil)
	d.Add(ListenerFunc(func(ctx context.Context, ev Event) error {
		panic("listener bug")
	}))

	err := d.Dispatch(context.Background(), newEvent(EventPostDelete, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener bug")
}

func TestNewEvent(t *testing.T) {
	meta := NewEventMetadata(types.NewChangeSummary("alice", "tweak"))
	s := types.NewHostedRepository("maven", "local")
	ev := newEvent(EventPostUpdate, meta, StoreChange{New: s})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "alice", ev.Summary.User)
	assert.Same(t, meta, ev.Meta)
	assert.Equal(t, s.Key, ev.Stores[0].Key())
	assert.False(t, ev.Timestamp.IsZero())
	assert.True(t, ev.Type.IsPost())
	assert.False(t, EventPreDisable.IsPost())
	assert.True(t, StoreChange{}.Key().IsZero())
	assert.Equal(t, s.Key, StoreChange{Old: s}.Key())
}

func TestBroadcaster_PostEventsOnly(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	ch, cancel := b.Subscribe()
	defer cancel()
	assert.Equal(t, 1, b.Subscribers())

	ctx := context.Background()
	require.NoError(t, b.OnEvent(ctx, newEvent(EventPreUpdate, nil)))
	require.NoError(t, b.OnEvent(ctx, newEvent(EventPostUpdate, nil)))

	select {
	case ev := <-ch:
		assert.Equal(t, EventPostUpdate, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	b := NewBroadcaster(1, nil)
	_, cancel := b.Subscribe()
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.OnEvent(ctx, newEvent(EventPostDelete, nil)))
	}
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestBroadcaster_CancelAndClose(t *testing.T) {
	b := NewBroadcaster(1, nil)
	ch1, cancel1 := b.Subscribe()
	ch2, _ := b.Subscribe()

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers())

	b.Close()
	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())

	ch3, cancel3 := b.Subscribe()
	defer cancel3()
	_, ok = <-ch3
	assert.False(t, ok)
	assert.NoError(t, b.OnEvent(context.Background(), newEvent(EventPostUpdate, nil)))
}
