package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/api"
	"github.com/BaSui01/storeflow/internal/ctxkeys"
	"github.com/BaSui01/storeflow/registry"
	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/testutil"
	"github.com/BaSui01/storeflow/testutil/fixtures"
	"github.com/BaSui01/storeflow/types"
)

// =============================================================================
// 🧰 测试辅助
// =============================================================================

type testAPI struct {
	reg *registry.Registry
	mux *http.ServeMux
}

func newTestAPI(t *testing.T, seed ...*types.ArtifactStore) *testAPI {
	t.Helper()

	reg := registry.New(backend.NewMemoryBackend())
	ctx := testutil.TestContext(t)
	for _, s := range seed {
		_, err := reg.Store(ctx, s, types.NewChangeSummary("test", "seed"), false, false, nil)
		require.NoError(t, err)
	}

	logger := zap.NewNop()
	mux := http.NewServeMux()
	Routes{
		Stores: NewStoreHandler(reg, logger),
		Groups: NewGroupHandler(reg, logger),
		Health: NewHealthHandler(logger),
	}.Register(mux)
	return &testAPI{reg: reg, mux: mux}
}

func (a *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeData 解出 Response.Data
func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.True(t, env.Success, "expected success envelope")
	return env.Data
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	return env.Error.Code
}

// =============================================================================
// 🧪 列表与读取
// =============================================================================

func TestStoreHandler_List(t *testing.T) {
	npmHosted := types.NewHostedRepository(types.PackageTypeNPM, "npm-local")
	a := newTestAPI(t,
		fixtures.Central(),
		fixtures.Hosted("local"),
		fixtures.Disabled(fixtures.Hosted("old")),
		fixtures.Group("public", fixtures.Hosted("local"), fixtures.Central()),
		npmHosted,
	)

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{
			name:  "all",
			query: "",
			expected: []string{
				"maven:group:public", "maven:hosted:local", "maven:hosted:old",
				"maven:remote:central", "npm:hosted:npm-local",
			},
		},
		{
			name:     "by type",
			query:    "?type=hosted",
			expected: []string{"maven:hosted:local", "maven:hosted:old", "npm:hosted:npm-local"},
		},
		{
			name:     "by package and types",
			query:    "?package=maven&type=remote,group",
			expected: []string{"maven:group:public", "maven:remote:central"},
		},
		{
			name:     "disabled only",
			query:    "?enabled=false",
			expected: []string{"maven:hosted:old"},
		},
		{
			name:     "wildcard package",
			query:    "?package=*&type=hosted&enabled=true",
			expected: []string{"maven:hosted:local", "npm:hosted:npm-local"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stores"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			resp := decodeData[api.StoreListResponse](t, rec)
			assert.Equal(t, len(tt.expected), resp.Total)
			assert.ElementsMatch(t, tt.expected, testutil.Keys(resp.Stores))
		})
	}
}

func TestStoreHandler_List_BadParams(t *testing.T) {
	a := newTestAPI(t)

	for _, q := range []string{"?type=mirror", "?enabled=maybe"} {
		rec := a.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stores"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, string(types.ErrInvalidRequest), decodeErrorCode(t, rec), q)
	}
}

func TestStoreHandler_Get(t *testing.T) {
	a := newTestAPI(t, fixtures.Central())

	rec := a.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stores/maven/remote/central", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	store := decodeData[types.ArtifactStore](t, rec)
	assert.Equal(t, "maven:remote:central", store.Key.String())
	require.NotNil(t, store.Remote)
	assert.Equal(t, "https://repo.maven.apache.org/maven2/", store.Remote.URL)

	rec = a.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stores/maven/remote/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrNotFound), decodeErrorCode(t, rec))

	rec = a.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stores/maven/mirror/central", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// 🧪 写入
// =============================================================================

func TestStoreHandler_Put(t *testing.T) {
	a := newTestAPI(t)
	ctx := testutil.TestContext(t)

	body := fixtures.Hosted("local")
	req := jsonRequest(t, http.MethodPut, "/api/v1/stores/maven/hosted/local", body)
	req.Header.Set(HeaderChangeSummary, "initial import")
	req = req.WithContext(ctxkeys.WithUser(req.Context(), "alice"))

	rec := a.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeData[api.StoreMutationResponse](t, rec)
	assert.Equal(t, "maven:hosted:local", resp.Key)
	assert.True(t, resp.Stored)
	assert.Empty(t, resp.ValidationErrors)

	saved, err := a.reg.Get(ctx, types.MustParseStoreKey("maven:hosted:local"))
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "initial import", saved.GetMetadata(types.MetadataChangelog))
}

func TestStoreHandler_Put_KeyFromPath(t *testing.T) {
	a := newTestAPI(t)

	// 请求体不带 key 时使用路径
	body := map[string]any{"hosted": map[string]any{"readonly": false}}
	rec := a.do(t, jsonRequest(t, http.MethodPut, "/api/v1/stores/maven/hosted/from-path", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ok, err := a.reg.Has(testutil.TestContext(t), types.MustParseStoreKey("maven:hosted:from-path"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreHandler_Put_KeyMismatch(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, jsonRequest(t, http.MethodPut, "/api/v1/stores/maven/hosted/other", fixtures.Hosted("local")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), decodeErrorCode(t, rec))

	empty, err := a.reg.IsEmpty(testutil.TestContext(t))
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestStoreHandler_Put_SkipIfExists(t *testing.T) {
	original := fixtures.Hosted("local")
	original.Description = "original"
	a := newTestAPI(t, original)

	update := fixtures.Hosted("local")
	update.Description = "changed"

	rec := a.do(t, jsonRequest(t, http.MethodPut, "/api/v1/stores/maven/hosted/local?skip_if_exists=true", update))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeData[api.StoreMutationResponse](t, rec).Stored)

	saved, err := a.reg.Get(testutil.TestContext(t), original.Key)
	require.NoError(t, err)
	assert.Equal(t, "original", saved.Description)

	rec = a.do(t, jsonRequest(t, http.MethodPut, "/api/v1/stores/maven/hosted/local?skip_if_exists=nope", update))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreHandler_Put_RequiresJSON(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/stores/maven/hosted/local", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "text/plain")
	rec := a.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), decodeErrorCode(t, rec))
}

// =============================================================================
// 🧪 删除
// =============================================================================

func TestStoreHandler_Delete(t *testing.T) {
	a := newTestAPI(t, fixtures.Hosted("local"))
	ctx := testutil.TestContext(t)

	rec := a.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/stores/maven/hosted/local", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ok, err := a.reg.Has(ctx, types.MustParseStoreKey("maven:hosted:local"))
	require.NoError(t, err)
	assert.False(t, ok)

	// 删除不存在的 key 不报错
	rec = a.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/stores/maven/hosted/local", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreHandler_Delete_Readonly(t *testing.T) {
	a := newTestAPI(t, fixtures.ReadonlyHosted("releases"))
	key := types.MustParseStoreKey("maven:hosted:releases")
	target := "/api/v1/stores/maven/hosted/releases"

	t.Run("protected", func(t *testing.T) {
		rec := a.do(t, httptest.NewRequest(http.MethodDelete, target, nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, string(types.ErrReadonlyViolation), decodeErrorCode(t, rec))
	})

	t.Run("ignore readonly without admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, target+"?ignore_readonly=true", nil)
		req = req.WithContext(ctxkeys.WithUser(req.Context(), "bob"))
		rec := a.do(t, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(types.ErrForbidden), decodeErrorCode(t, rec))

		ok, err := a.reg.Has(testutil.TestContext(t), key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ignore readonly as admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, target+"?ignore_readonly=true", nil)
		ctx := ctxkeys.WithRoles(ctxkeys.WithUser(req.Context(), "root"), []string{RoleAdmin})
		rec := a.do(t, req.WithContext(ctx))
		require.Equal(t, http.StatusOK, rec.Code)

		ok, err := a.reg.Has(testutil.TestContext(t), key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestChangeSummary(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", nil)
	s := changeSummary(req, "store maven:hosted:x")
	assert.Equal(t, "anonymous", s.User)
	assert.Equal(t, "store maven:hosted:x via admin API", s.Summary)

	req.Header.Set(HeaderChangeSummary, "  promote release  ")
	req = req.WithContext(ctxkeys.WithUser(req.Context(), "carol"))
	s = changeSummary(req, "ignored")
	assert.Equal(t, "carol", s.User)
	assert.Equal(t, "promote release", s.Summary)
}
