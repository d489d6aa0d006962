package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/api"
	"github.com/BaSui01/storeflow/internal/ctxkeys"
	"github.com/BaSui01/storeflow/registry"
	"github.com/BaSui01/storeflow/types"
)

// RoleAdmin 允许绕过只读保护的角色
const RoleAdmin = "admin"

// HeaderChangeSummary 变更说明请求头
const HeaderChangeSummary = "X-Change-Summary"

// =============================================================================
// 🗂️ Store Handler
// =============================================================================

// StoreHandler 仓库定义的增删改查
type StoreHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewStoreHandler 创建仓库处理器
func NewStoreHandler(reg *registry.Registry, logger *zap.Logger) *StoreHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreHandler{
		registry: reg,
		logger:   logger.With(zap.String("handler", "stores")),
	}
}

// HandleList 列出仓库
// @Summary 列出仓库
// @Tags stores
// @Produce json
// @Param type query string false "remote|hosted|group，可逗号分隔"
// @Param package query string false "包类型，* 表示全部"
// @Param enabled query bool false "只看启用/禁用"
// @Success 200 {object} Response{data=api.StoreListResponse}
// @Router /api/v1/stores [get]
func (h *StoreHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := h.registry.Query()
	params := r.URL.Query()

	if p := params.Get("package"); p != "" && p != "*" {
		q.PackageType(p)
	}
	if raw := params.Get("type"); raw != "" {
		var storeTypes []types.StoreType
		for _, part := range strings.Split(raw, ",") {
			t, err := types.ParseStoreType(strings.TrimSpace(part))
			if err != nil {
				WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
				return
			}
			storeTypes = append(storeTypes, t)
		}
		q.StoreTypes(storeTypes...)
	}
	if raw := params.Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "enabled must be a boolean", h.logger)
			return
		}
		q.Enabled(enabled)
	}

	stores, err := q.GetAll(r.Context())
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StoreListResponse{Stores: stores, Total: len(stores)})
}

// HandleGet 获取单个仓库
// @Summary 获取仓库
// @Tags stores
// @Produce json
// @Success 200 {object} Response{data=types.ArtifactStore}
// @Failure 404 {object} Response
// @Router /api/v1/stores/{pkg}/{type}/{name} [get]
func (h *StoreHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	store, err := h.registry.Get(r.Context(), key)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	if store == nil {
		WriteError(w, types.NewError(types.ErrNotFound, "store not found").WithKey(key), h.logger)
		return
	}
	WriteSuccess(w, store)
}

// HandlePut 写入仓库定义
// @Summary 创建或更新仓库
// @Tags stores
// @Accept json
// @Produce json
// @Param skip_if_exists query bool false "已存在时不覆盖"
// @Success 200 {object} Response{data=api.StoreMutationResponse}
// @Failure 400 {object} Response
// @Failure 503 {object} Response "锁等待超时"
// @Router /api/v1/stores/{pkg}/{type}/{name} [put]
func (h *StoreHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var store types.ArtifactStore
	if err := DecodeJSONBody(w, r, &store, h.logger); err != nil {
		return
	}
	if store.Key.IsZero() {
		store.Key = key
	} else if store.Key != key {
		WriteError(w, types.NewError(types.ErrInvalidRequest,
			"body key "+store.Key.String()+" does not match path").WithKey(key), h.logger)
		return
	}

	skip := false
	if raw := r.URL.Query().Get("skip_if_exists"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "skip_if_exists must be a boolean", h.logger)
			return
		}
		skip = v
	}

	summary := changeSummary(r, "store "+key.String())
	meta := registry.NewEventMetadata(summary)
	stored, err := h.registry.Store(r.Context(), &store, summary, skip, true, meta)
	if err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}

	resp := api.StoreMutationResponse{Key: key.String(), Stored: stored}
	if stored {
		if saved, err := h.registry.Get(r.Context(), key); err == nil && saved != nil {
			resp.ValidationErrors = saved.GetMetadata(types.MetadataValidationErrors)
		}
	}
	WriteSuccess(w, resp)
}

// HandleDelete 删除仓库
// @Summary 删除仓库
// @Tags stores
// @Produce json
// @Param ignore_readonly query bool false "删除只读 hosted 仓库，需要 admin 角色"
// @Success 200 {object} Response{data=api.StoreMutationResponse}
// @Failure 409 {object} Response "只读仓库"
// @Router /api/v1/stores/{pkg}/{type}/{name} [delete]
func (h *StoreHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}

	summary := changeSummary(r, "delete "+key.String())
	meta := registry.NewEventMetadata(summary)
	if ignore, _ := strconv.ParseBool(r.URL.Query().Get("ignore_readonly")); ignore {
		if !ctxkeys.HasRole(r.Context(), RoleAdmin) {
			WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "ignore_readonly requires the admin role", h.logger)
			return
		}
		meta.WithIgnoreReadonly()
	}

	if err := h.registry.Delete(r.Context(), key, summary, meta); err != nil {
		WriteRegistryError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StoreMutationResponse{Key: key.String(), Stored: false})
}

func (h *StoreHandler) pathKey(w http.ResponseWriter, r *http.Request) (types.StoreKey, bool) {
	t, err := types.ParseStoreType(r.PathValue("type"))
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return types.StoreKey{}, false
	}
	key := types.NewStoreKey(r.PathValue("pkg"), t, r.PathValue("name"))
	if err := key.Validate(); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return types.StoreKey{}, false
	}
	return key, true
}

// changeSummary 从认证用户与 X-Change-Summary 头构造变更记录
func changeSummary(r *http.Request, fallback string) types.ChangeSummary {
	user, _ := ctxkeys.User(r.Context())
	if user == "" {
		user = "anonymous"
	}
	text := strings.TrimSpace(r.Header.Get(HeaderChangeSummary))
	if text == "" {
		text = fallback + " via admin API"
	}
	return types.NewChangeSummary(user, text)
}
