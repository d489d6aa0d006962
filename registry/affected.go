package registry

import (
	"sync"

	"github.com/BaSui01/storeflow/types"
)

// AffectedIndex is the reverse membership map: member key to the groups that
// list it directly. It is derived from group definitions and can always be
// rebuilt from them.
type AffectedIndex struct {
	mu       sync.RWMutex
	byMember map[types.StoreKey]map[types.StoreKey]struct{}
}

// NewAffectedIndex creates an empty index.
func NewAffectedIndex() *AffectedIndex {
	return &AffectedIndex{byMember: make(map[types.StoreKey]map[types.StoreKey]struct{})}
}

// Update moves group's reverse edges from oldMembers to newMembers, touching
// only the keys that differ. It returns the added and removed members.
func (i *AffectedIndex) Update(group types.StoreKey, oldMembers, newMembers []types.StoreKey) (added, removed []types.StoreKey) {
	oldSet := make(map[types.StoreKey]struct{}, len(oldMembers))
	for _, k := range oldMembers {
		oldSet[k] = struct{}{}
	}
	newSet := make(map[types.StoreKey]struct{}, len(newMembers))
	for _, k := range newMembers {
		newSet[k] = struct{}{}
		if _, ok := oldSet[k]; !ok {
			added = append(added, k)
		}
	}
	for _, k := range oldMembers {
		if _, ok := newSet[k]; !ok {
			removed = append(removed, k)
		}
	}
	added = dedupKeys(added)
	removed = dedupKeys(removed)

	if len(added) == 0 && len(removed) == 0 {
		return nil, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for _, k := range removed {
		i.unlink(k, group)
	}
	for _, k := range added {
		i.link(k, group)
	}
	return added, removed
}

// RemoveGroup drops every reverse edge of a deleted group.
func (i *AffectedIndex) RemoveGroup(group types.StoreKey, members []types.StoreKey) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, k := range members {
		i.unlink(k, group)
	}
}

// DirectGroups returns the groups listing key, sorted.
func (i *AffectedIndex) DirectGroups(key types.StoreKey) []types.StoreKey {
	i.mu.RLock()
	defer i.mu.RUnlock()
	groups := i.byMember[key]
	if len(groups) == 0 {
		return nil
	}
	out := make([]types.StoreKey, 0, len(groups))
	for g := range groups {
		out = append(out, g)
	}
	types.SortStoreKeys(out)
	return out
}

// Ancestors returns every group reachable upward from keys through the
// index alone, regardless of disabled state. Sorted.
func (i *AffectedIndex) Ancestors(keys ...types.StoreKey) []types.StoreKey {
	i.mu.RLock()
	defer i.mu.RUnlock()

	seen := make(map[types.StoreKey]struct{})
	queue := append([]types.StoreKey(nil), keys...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for g := range i.byMember[next] {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			queue = append(queue, g)
		}
	}

	out := make([]types.StoreKey, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	types.SortStoreKeys(out)
	return out
}

// Snapshot copies the whole index with sorted group lists.
func (i *AffectedIndex) Snapshot() map[types.StoreKey][]types.StoreKey {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[types.StoreKey][]types.StoreKey, len(i.byMember))
	for member, groups := range i.byMember {
		list := make([]types.StoreKey, 0, len(groups))
		for g := range groups {
			list = append(list, g)
		}
		types.SortStoreKeys(list)
		out[member] = list
	}
	return out
}

// Rebuild replaces the index with the inversion of groups.
func (i *AffectedIndex) Rebuild(groups []*types.ArtifactStore) {
	fresh := BuildMembership(groups)
	i.mu.Lock()
	i.byMember = fresh
	i.mu.Unlock()
}

// Len returns the number of member keys with at least one group.
func (i *AffectedIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byMember)
}

func (i *AffectedIndex) link(member, group types.StoreKey) {
	set, ok := i.byMember[member]
	if !ok {
		set = make(map[types.StoreKey]struct{})
		i.byMember[member] = set
	}
	set[group] = struct{}{}
}

func (i *AffectedIndex) unlink(member, group types.StoreKey) {
	set, ok := i.byMember[member]
	if !ok {
		return
	}
	delete(set, group)
	if len(set) == 0 {
		delete(i.byMember, member)
	}
}

// BuildMembership inverts the constituent lists of groups. Non-group stores
// are ignored.
func BuildMembership(groups []*types.ArtifactStore) map[types.StoreKey]map[types.StoreKey]struct{} {
	out := make(map[types.StoreKey]map[types.StoreKey]struct{})
	for _, g := range groups {
		if g == nil || !g.IsGroup() {
			continue
		}
		for _, member := range g.Constituents() {
			set, ok := out[member]
			if !ok {
				set = make(map[types.StoreKey]struct{})
				out[member] = set
			}
			set[g.Key] = struct{}{}
		}
	}
	return out
}

func dedupKeys(keys []types.StoreKey) []types.StoreKey {
	if len(keys) < 2 {
		return keys
	}
	seen := make(map[types.StoreKey]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
