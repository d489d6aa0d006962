package handlers

import (
	"net/http"

	"github.com/BaSui01/storeflow/api"
)

// PublicPaths 无需认证的路径
var PublicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Routes 管理 API 的处理器集合；Events 可为空
type Routes struct {
	Stores  *StoreHandler
	Groups  *GroupHandler
	Events  *EventsHandler
	Health  *HealthHandler
	Version api.VersionInfo
}

// Register 把全部路由注册到 mux
func (rt Routes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", rt.Health.HandleHealth)
	mux.HandleFunc("GET /healthz", rt.Health.HandleHealthz)
	mux.HandleFunc("GET /ready", rt.Health.HandleReady)
	mux.HandleFunc("GET /readyz", rt.Health.HandleReady)
	mux.HandleFunc("GET /version", rt.Health.HandleVersion(rt.Version))

	mux.HandleFunc("GET /api/v1/stores", rt.Stores.HandleList)
	mux.HandleFunc("GET /api/v1/stores/{pkg}/{type}/{name}", rt.Stores.HandleGet)
	mux.HandleFunc("PUT /api/v1/stores/{pkg}/{type}/{name}", rt.Stores.HandlePut)
	mux.HandleFunc("DELETE /api/v1/stores/{pkg}/{type}/{name}", rt.Stores.HandleDelete)

	mux.HandleFunc("GET /api/v1/groups/{pkg}/{name}/ordered", rt.Groups.HandleOrdered)
	mux.HandleFunc("GET /api/v1/groups/containing/{pkg}/{type}/{name}", rt.Groups.HandleContaining)
	mux.HandleFunc("POST /api/v1/affected-by", rt.Groups.HandleAffectedBy)
	mux.HandleFunc("GET /api/v1/remotes/by-url", rt.Groups.HandleRemoteByURL)

	if rt.Events != nil {
		mux.HandleFunc("GET /api/v1/events", rt.Events.HandleStream)
	}
}
