package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/storeflow/internal/ctxkeys"
	"github.com/BaSui01/storeflow/types"
)

// EventMetadata is the request-scoped bag threaded through registry calls.
// It carries who is changing what, the readonly escape hatch, and memoized
// affected-by results so one logical operation computes them once.
type EventMetadata struct {
	Summary        types.ChangeSummary
	IgnoreReadonly bool

	mu       sync.Mutex
	affected map[string][]*types.ArtifactStore
	values   map[string]any
}

// NewEventMetadata creates a bag for summary.
func NewEventMetadata(summary types.ChangeSummary) *EventMetadata {
	return &EventMetadata{Summary: summary}
}

// WithIgnoreReadonly allows deleting readonly hosted repositories.
func (m *EventMetadata) WithIgnoreReadonly() *EventMetadata {
	m.IgnoreReadonly = true
	return m
}

// Set stores an arbitrary value.
func (m *EventMetadata) Set(key string, value any) *EventMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
	return m
}

// Get returns a value stored with Set.
func (m *EventMetadata) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// AffectedGroups returns a memoized affected-by result for keys.
func (m *EventMetadata) AffectedGroups(keys []types.StoreKey) ([]*types.ArtifactStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups, ok := m.affected[affectedCacheKey(keys)]
	return groups, ok
}

// SetAffectedGroups memoizes an affected-by result for keys.
func (m *EventMetadata) SetAffectedGroups(keys []types.StoreKey, groups []*types.ArtifactStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.affected == nil {
		m.affected = make(map[string][]*types.ArtifactStore)
	}
	m.affected[affectedCacheKey(keys)] = groups
}

// affectedCacheKey is independent of key order and duplicates.
func affectedCacheKey(keys []types.StoreKey) string {
	set := types.NewStoreKeySet(keys...)
	sorted := set.Sorted()
	parts := make([]string, len(sorted))
	for i, k := range sorted {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}

// ContextWithMetadata attaches meta to ctx.
func ContextWithMetadata(ctx context.Context, meta *EventMetadata) context.Context {
	return ctxkeys.WithEventMetadata(ctx, meta)
}

// MetadataFromContext returns the bag attached to ctx, or nil.
func MetadataFromContext(ctx context.Context) *EventMetadata {
	m, _ := ctxkeys.EventMetadata(ctx).(*EventMetadata)
	return m
}

// resolveMetadata picks the explicit bag, then the context bag, then a new
// one built from summary. A zero summary user falls back to the context user.
func resolveMetadata(ctx context.Context, meta *EventMetadata, summary types.ChangeSummary) *EventMetadata {
	if meta == nil {
		meta = MetadataFromContext(ctx)
	}
	if meta == nil {
		if summary.User == "" || summary.Timestamp.IsZero() {
			user := summary.User
			if user == "" {
				user, _ = ctxkeys.User(ctx)
			}
			summary = types.NewChangeSummary(user, summary.Summary)
		}
		return NewEventMetadata(summary)
	}
	if meta.Summary.User == "" && summary.User != "" {
		meta.Summary = summary
	}
	return meta
}
