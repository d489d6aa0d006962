package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/storeflow/internal/ctxkeys"
	"github.com/BaSui01/storeflow/types"
)

func TestEventMetadata_Values(t *testing.T) {
	m := NewEventMetadata(types.NewChangeSummary("bob", "x"))
	_, ok := m.Get("missing")
	assert.False(t, ok)

	m.Set("origin", "api").Set("attempt", 2)
	v, ok := m.Get("origin")
	assert.True(t, ok)
	assert.Equal(t, "api", v)
	assert.False(t, m.IgnoreReadonly)
	assert.True(t, m.WithIgnoreReadonly().IgnoreReadonly)
}

func TestEventMetadata_AffectedGroupsKeyIgnoresOrder(t *testing.T) {
	m := NewEventMetadata(types.ChangeSummary{})
	a, b := key("maven:hosted:a"), key("maven:remote:b")
	groups := []*types.ArtifactStore{types.NewGroup("maven", "g", a)}

	_, ok := m.AffectedGroups([]types.StoreKey{a, b})
	assert.False(t, ok)

	m.SetAffectedGroups([]types.StoreKey{b, a, b}, groups)
	got, ok := m.AffectedGroups([]types.StoreKey{a, b})
	assert.True(t, ok)
	assert.Equal(t, groups, got)

	_, ok = m.AffectedGroups([]types.StoreKey{a})
	assert.False(t, ok)
}

func TestResolveMetadata(t *testing.T) {
	explicit := NewEventMetadata(types.NewChangeSummary("explicit", "e"))
	fromCtx := NewEventMetadata(types.NewChangeSummary("ctx", "c"))
	ctx := ContextWithMetadata(context.Background(), fromCtx)

	assert.Same(t, explicit, resolveMetadata(ctx, explicit, types.ChangeSummary{}))
	assert.Same(t, fromCtx, resolveMetadata(ctx, nil, types.ChangeSummary{}))
	assert.Same(t, fromCtx, MetadataFromContext(ctx))
	assert.Nil(t, MetadataFromContext(context.Background()))

	t.Run("user from context", func(t *testing.T) {
		ctx := ctxkeys.WithUser(context.Background(), "carol")
		m := resolveMetadata(ctx, nil, types.ChangeSummary{Summary: "edit"})
		assert.Equal(t, "carol", m.Summary.User)
		assert.Equal(t, "edit", m.Summary.Summary)
		assert.False(t, m.Summary.Timestamp.IsZero())
	})

	t.Run("system fallback", func(t *testing.T) {
		m := resolveMetadata(context.Background(), nil, types.ChangeSummary{})
		assert.Equal(t, types.SystemUser, m.Summary.User)
	})

	t.Run("complete summary kept", func(t *testing.T) {
		ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		s := types.ChangeSummary{User: "dave", Summary: "s", Timestamp: ts}
		m := resolveMetadata(context.Background(), nil, s)
		assert.Equal(t, s, m.Summary)
	})

	t.Run("empty bag user filled", func(t *testing.T) {
		bag := NewEventMetadata(types.ChangeSummary{})
		m := resolveMetadata(context.Background(), bag, types.NewChangeSummary("erin", "s"))
		assert.Same(t, bag, m)
		assert.Equal(t, "erin", m.Summary.User)
	})
}
