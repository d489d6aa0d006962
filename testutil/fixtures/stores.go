// =============================================================================
// 📦 测试数据工厂 - 存储定义
// =============================================================================
// 提供预定义的存储与组拓扑，用于测试
// =============================================================================
package fixtures

import (
	"strconv"

	"github.com/BaSui01/storeflow/types"
)

const pkg = types.PackageTypeMaven

// =============================================================================
// 🏪 单个存储
// =============================================================================

// Remote 返回指向 url 的 maven 远程仓库
func Remote(name, url string) *types.ArtifactStore {
	return types.NewRemoteRepository(pkg, name, url)
}

// Hosted 返回 maven 托管仓库
func Hosted(name string) *types.ArtifactStore {
	return types.NewHostedRepository(pkg, name)
}

// ReadonlyHosted 返回只读托管仓库
func ReadonlyHosted(name string) *types.ArtifactStore {
	s := Hosted(name)
	s.Hosted.Readonly = true
	return s
}

// Group 返回按顺序包含 members 的 maven 组
func Group(name string, members ...*types.ArtifactStore) *types.ArtifactStore {
	keys := make([]types.StoreKey, len(members))
	for i, m := range members {
		keys[i] = m.Key
	}
	return types.NewGroup(pkg, name, keys...)
}

// Disabled 返回 s 的禁用副本
func Disabled(s *types.ArtifactStore) *types.ArtifactStore {
	c := s.Copy()
	c.Disabled = true
	return c
}

// Central 返回 maven central 远程仓库
func Central() *types.ArtifactStore {
	return Remote("central", "https://repo.maven.apache.org/maven2/")
}

// =============================================================================
// 🕸️ 组拓扑
// =============================================================================

// Topology 是按写入顺序排列的一组存储
type Topology []*types.ArtifactStore

// Diamond 返回菱形拓扑：
//
//	top -> [left, right]; left -> [base]; right -> [base]; base -> [h]
func Diamond() Topology {
	h := Hosted("h")
	base := Group("base", h)
	left := Group("left", base)
	right := Group("right", base)
	top := Group("top", left, right)
	return Topology{h, base, left, right, top}
}

// Cycle 返回互相包含的两个组 a -> [h, b]，b -> [a, r]
func Cycle() Topology {
	h := Hosted("h")
	r := Remote("r", "https://r.example.org/repo")
	a := types.NewGroup(pkg, "a", h.Key, types.NewStoreKey(pkg, types.StoreTypeGroup, "b"))
	b := types.NewGroup(pkg, "b", a.Key, r.Key)
	return Topology{h, r, a, b}
}

// Chain 返回 n 层嵌套组 g0 -> [h]，gi -> [g(i-1)]
func Chain(n int) Topology {
	h := Hosted("h")
	out := Topology{h}
	prev := h
	for i := 0; i < n; i++ {
		g := Group(groupName(i), prev)
		out = append(out, g)
		prev = g
	}
	return out
}

func groupName(i int) string {
	return "g" + strconv.Itoa(i)
}
