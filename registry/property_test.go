package registry_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/BaSui01/storeflow/registry"
	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/testutil"
	"github.com/BaSui01/storeflow/types"
)

const (
	propGroups = 5
	propHosted = 3
)

func propUniverse() ([]types.StoreKey, []*types.ArtifactStore) {
	var keys []types.StoreKey
	var hosted []*types.ArtifactStore
	for i := 0; i < propGroups; i++ {
		keys = append(keys, types.NewStoreKey("maven", types.StoreTypeGroup, fmt.Sprintf("g%d", i)))
	}
	for i := 0; i < propHosted; i++ {
		h := types.NewHostedRepository("maven", fmt.Sprintf("h%d", i))
		hosted = append(hosted, h)
		keys = append(keys, h.Key)
	}
	return keys, hosted
}

// 任意写入/删除序列之后，索引都等于对全部组定义的反转
func TestAffectedIndex_MatchesScanProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		r := registry.New(backend.NewMemoryBackend())
		universe, hosted := propUniverse()
		for _, h := range hosted {
			if _, err := r.Store(ctx, h, summary, false, false, nil); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
		groupKeys := universe[:propGroups]

		ops := rapid.IntRange(1, 25).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			gk := rapid.SampledFrom(groupKeys).Draw(t, "group")
			if rapid.Bool().Draw(t, "delete") {
				if err := r.Delete(ctx, gk, summary, nil); err != nil {
					t.Fatalf("delete %s: %v", gk, err)
				}
			} else {
				members := rapid.SliceOfDistinct(rapid.SampledFrom(universe), types.StoreKey.String).Draw(t, "members")
				g := types.NewGroup("maven", gk.Name, members...)
				g.Disabled = rapid.Bool().Draw(t, "disabled")
				if _, err := r.Store(ctx, g, summary, false, true, nil); err != nil {
					t.Fatalf("store %s: %v", gk, err)
				}
			}

			groups, err := r.GetAllByType(ctx, types.StoreTypeGroup)
			if err != nil {
				t.Fatal(err)
			}
			expected := registry.NewAffectedIndex()
			expected.Rebuild(groups)
			if !reflect.DeepEqual(expected.Snapshot(), r.Index().Snapshot()) {
				t.Fatalf("index drifted:\nexpected %v\nactual   %v", expected.Snapshot(), r.Index().Snapshot())
			}
		}

		for _, k := range universe {
			indexed, err := r.AffectedBy(ctx, []types.StoreKey{k}, nil)
			if err != nil {
				t.Fatal(err)
			}
			scanned, err := r.Query().GetGroupsAffectedBy(ctx, k)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(testutil.Keys(indexed), testutil.Keys(scanned)) {
				t.Fatalf("affected-by mismatch for %s: index %v scan %v", k, testutil.Keys(indexed), testutil.Keys(scanned))
			}
			seen := map[string]bool{}
			for _, s := range indexed {
				if seen[s.Key.String()] {
					t.Fatalf("duplicate group %s", s.Key)
				}
				seen[s.Key.String()] = true
			}
		}
	})
}

// 任意（可能成环的）成员图上，组展开都会终止、不重复，且恰好覆盖可达的具体存储
func TestProperty_OrderedStoresCycleSafe(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("ordered flattening visits each reachable store once", prop.ForAll(
		func(adjacency [][]int) bool {
			ctx := context.Background()
			universe, hosted := propUniverse()
			r := registry.New(backend.NewMemoryBackend())
			for _, h := range hosted {
				if _, err := r.Store(ctx, h, summary, false, false, nil); err != nil {
					return false
				}
			}

			edges := make(map[types.StoreKey][]types.StoreKey)
			for i := 0; i < propGroups; i++ {
				var members []types.StoreKey
				if i < len(adjacency) {
					for _, m := range adjacency[i] {
						members = append(members, universe[m])
					}
				}
				g := types.NewGroup("maven", universe[i].Name, members...)
				edges[g.Key] = g.Constituents()
				if _, err := r.Store(ctx, g, summary, false, false, nil); err != nil {
					return false
				}
			}

			root := universe[0]
			want := map[string]bool{}
			visited := map[types.StoreKey]bool{root: true}
			queue := []types.StoreKey{root}
			for len(queue) > 0 {
				next := queue[0]
				queue = queue[1:]
				for _, m := range edges[next] {
					if visited[m] {
						continue
					}
					visited[m] = true
					if m.Type == types.StoreTypeGroup {
						queue = append(queue, m)
					} else {
						want[m.String()] = true
					}
				}
			}

			got, err := r.Query().GetOrderedConcreteStoresInGroup(ctx, "maven", root.Name, false)
			if err != nil {
				t.Logf("ordering failed: %v", err)
				return false
			}
			seen := map[string]bool{}
			for _, s := range got {
				k := s.Key.String()
				if seen[k] || !want[k] {
					t.Logf("unexpected or duplicate %s", k)
					return false
				}
				seen[k] = true
			}
			return len(seen) == len(want)
		},
		gen.SliceOfN(propGroups, gen.SliceOf(gen.IntRange(0, propGroups+propHosted-1))),
	))

	properties.TestingRun(t)
}
