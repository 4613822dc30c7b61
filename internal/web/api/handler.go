// Package api implements the admin console HTTP API.
//
// Every response uses the envelope {"code": 0, "data": ...} on success
// and {"code": <status>, "message": ...} on failure.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/amia-bot/amia/internal/config"
	"github.com/amia-bot/amia/internal/logging"
	"github.com/amia-bot/amia/internal/onebot"
	"github.com/amia-bot/amia/internal/plugin"
	"github.com/amia-bot/amia/internal/realtime"
	"github.com/amia-bot/amia/internal/store"
)

// API holds dependencies for all console handlers.
type API struct {
	Manager      *plugin.Manager
	OverridesDir string

	Store     store.DispatchStore
	Events    *realtime.Broker
	Logs      *logging.Ring
	GetConfig func() *config.Config
	Self      func(r *http.Request) (*onebot.LoginInfo, error)
	Logger    hclog.Logger
	StartedAt time.Time
}

// RegisterRoutes registers all console routes on the given ServeMux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/plugins/status", a.handlePluginStatus)
	mux.HandleFunc("/api/plugins/reload", a.handleReload)
	mux.HandleFunc("/api/plugins/reload-all", a.handleReloadAll)
	mux.HandleFunc("/api/plugins/enable", a.handleEnable)
	mux.HandleFunc("/api/plugins/disable", a.handleDisable)
	mux.HandleFunc("/api/plugin-config/get", a.handleGetPluginConfig)
	mux.HandleFunc("/api/plugin-config/set", a.handleSetPluginConfig)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/usage", a.handleUsage)
	mux.HandleFunc("/api/self", a.handleSelf)
	mux.HandleFunc("/api/system-info", a.handleSystemInfo)
	mux.HandleFunc("/api/events", a.handleEvents)
	mux.HandleFunc("/api/health", a.handleHealth)
}

// envelope is the wire shape of every API response.
type envelope struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (a *API) writeOK(w http.ResponseWriter, data interface{}) {
	a.writeJSON(w, http.StatusOK, envelope{Code: 0, Data: data})
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, envelope{Code: status, Message: msg})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && a.Logger != nil {
		a.Logger.Error("response not written", "error", err)
	}
}

// readBody decodes a JSON request body into dst.
func (a *API) readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// requireMethod writes a 405 and returns false on a method mismatch.
func (a *API) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}
