package api

import (
	"time"

	"github.com/BaSui01/storeflow/types"
)

// =============================================================================
// 🗂️ 仓库类型
// =============================================================================

// StoreListResponse 仓库列表
// @Description 仓库列表响应
type StoreListResponse struct {
	// 仓库定义（按 key 排序）
	Stores []*types.ArtifactStore `json:"stores"`
	// 总数
	Total int `json:"total" example:"3"`
}

// StoreMutationResponse 写入结果
// @Description 仓库写入/删除结果
type StoreMutationResponse struct {
	// 仓库 key，形如 maven:remote:central
	Key string `json:"key" example:"maven:remote:central"`
	// skip_if_exists 且已存在时为 false
	Stored bool `json:"stored" example:"true"`
	// 校验失败时记录在元数据中的错误
	ValidationErrors string `json:"validation_errors,omitempty"`
}

// =============================================================================
// 👥 分组类型
// =============================================================================

// GroupMembershipResponse 分组展开结果
// @Description 分组有序成员
type GroupMembershipResponse struct {
	// 分组 key
	Group string `json:"group" example:"maven:group:public"`
	// 解析顺序
	Stores []*types.ArtifactStore `json:"stores"`
}

// ContainingGroupsResponse 直接包含某仓库的分组
// @Description 包含关系
type ContainingGroupsResponse struct {
	Key    string                 `json:"key" example:"maven:hosted:local-deployments"`
	Groups []*types.ArtifactStore `json:"groups"`
}

// AffectedByRequest 受影响分组查询
// @Description 受影响分组请求
type AffectedByRequest struct {
	// 仓库 key 列表
	Keys []string `json:"keys" binding:"required"`
}

// AffectedByResponse 受影响分组
// @Description 受影响分组（传递闭包）
type AffectedByResponse struct {
	Keys   []string               `json:"keys"`
	Groups []*types.ArtifactStore `json:"groups"`
}

// RemoteLookupResponse 按 URL 查找远程仓库
// @Description 远程仓库查找结果
type RemoteLookupResponse struct {
	URL     string                 `json:"url" example:"https://repo.maven.apache.org/maven2/"`
	Remotes []*types.ArtifactStore `json:"remotes"`
}

// =============================================================================
// 📡 事件类型
// =============================================================================

// EventMessage 事件流中的一帧
// @Description 注册表事件
type EventMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type" example:"post-update"`
	Keys      []string  `json:"keys"`
	User      string    `json:"user,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// ℹ️ 版本
// =============================================================================

// VersionInfo 构建信息
// @Description 版本信息
type VersionInfo struct {
	Version   string `json:"version" example:"1.0.0"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	Backend   string `json:"backend,omitempty" example:"redis"`
}
