package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/api"
	"github.com/BaSui01/storeflow/registry"
	"github.com/BaSui01/storeflow/types"
)

// =============================================================================
// 👥 Group Handler
// =============================================================================

// GroupHandler 分组解析相关查询
type GroupHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewGroupHandler 创建分组处理器
func NewGroupHandler(reg *registry.Registry, logger *zap.Logger) *GroupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupHandler{
		registry: reg,
		logger:   logger.With(zap.String("handler", "groups")),
	}
}

// HandleOrdered 分组有序展开
// @Summary 分组有序成员
// @Tags groups
// @Produce json
// @Param enabled query bool false "跳过禁用仓库（默认 true）"
// @Param recurse query bool false "展开嵌套分组（默认 true）"
// @Param include_groups query bool false "结果中包含分组本身（默认 false）"
// @Success 200 {object} Response{data=api.GroupMembershipResponse}
// @Router /api/v1/groups/{pkg}/{name}/ordered [get]
func (h *GroupHandler) HandleOrdered(w http.ResponseWriter, r *http.Request) {
	pkg, name := r.PathValue("pkg"), r.PathValue("name")
	root := types.NewStoreKey(pkg, types.StoreTypeGroup, name)
	if err := root.Validate(); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}

	enabled, ok := h.boolParam(w, r, "enabled", true)
	if !ok {
		return
	}
	recurse, ok := h.boolParam(w, r, "recurse", true)
	if !ok {
		return
	}
	includeGroups, ok := h.boolParam(w, r, "include_groups", false)
	if !ok {
		return
	}

	exists, err := h.registry.Has(r.Context(), root)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	if !exists {
		WriteError(w, types.NewError(types.ErrNotFound, "group not found").WithKey(root), h.logger)
		return
	}

	stores, err := h.registry.Query().GetOrderedStoresInGroup(r.Context(), pkg, name, enabled, recurse, includeGroups)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.GroupMembershipResponse{Group: root.String(), Stores: stores})
}

// HandleContaining 直接包含某仓库的分组
// @Summary 包含仓库的分组
// @Tags groups
// @Produce json
// @Param enabled query bool false "只看启用的分组（默认 false）"
// @Success 200 {object} Response{data=api.ContainingGroupsResponse}
// @Router /api/v1/groups/containing/{pkg}/{type}/{name} [get]
func (h *GroupHandler) HandleContaining(w http.ResponseWriter, r *http.Request) {
	t, err := types.ParseStoreType(r.PathValue("type"))
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}
	key := types.NewStoreKey(r.PathValue("pkg"), t, r.PathValue("name"))
	if err := key.Validate(); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}
	enabled, ok := h.boolParam(w, r, "enabled", false)
	if !ok {
		return
	}

	groups, err := h.registry.Query().GetGroupsContaining(r.Context(), key, enabled)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ContainingGroupsResponse{Key: key.String(), Groups: groups})
}

// HandleAffectedBy 受影响分组（传递闭包）
// @Summary 受影响分组
// @Tags groups
// @Accept json
// @Produce json
// @Param request body api.AffectedByRequest true "仓库 key 列表"
// @Success 200 {object} Response{data=api.AffectedByResponse}
// @Router /api/v1/affected-by [post]
func (h *GroupHandler) HandleAffectedBy(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.AffectedByRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Keys) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "keys must not be empty", h.logger)
		return
	}

	keys := make([]types.StoreKey, 0, len(req.Keys))
	for _, raw := range req.Keys {
		k, err := types.ParseStoreKey(raw)
		if err != nil {
			WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err), h.logger)
			return
		}
		keys = append(keys, k)
	}

	groups, err := h.registry.AffectedBy(r.Context(), keys, nil)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}

	normalized := make([]string, len(keys))
	for i, k := range keys {
		normalized[i] = k.String()
	}
	WriteSuccess(w, api.AffectedByResponse{Keys: normalized, Groups: groups})
}

// HandleRemoteByURL 按 URL 查找远程仓库
// @Summary 按 URL 查找远程仓库
// @Tags remotes
// @Produce json
// @Param package query string true "包类型"
// @Param url query string true "远程 URL"
// @Param enabled query bool false "只看启用的仓库（默认 false）"
// @Success 200 {object} Response{data=api.RemoteLookupResponse}
// @Router /api/v1/remotes/by-url [get]
func (h *GroupHandler) HandleRemoteByURL(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	pkg, target := params.Get("package"), params.Get("url")
	if pkg == "" || target == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "package and url are required", h.logger)
		return
	}
	enabled, ok := h.boolParam(w, r, "enabled", false)
	if !ok {
		return
	}

	remotes, err := h.registry.Query().GetRemoteRepositoryByURL(r.Context(), pkg, target, enabled)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.RemoteLookupResponse{URL: target, Remotes: remotes})
}

func (h *GroupHandler) boolParam(w http.ResponseWriter, r *http.Request, name string, def bool) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, name+" must be a boolean", h.logger)
		return false, false
	}
	return v, true
}
