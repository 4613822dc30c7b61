package api

import (
	"errors"
	"net/http"

	"github.com/amia-bot/amia/internal/plugin"
)

func (a *API) handlePluginStatus(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	a.writeOK(w, map[string]interface{}{
		"plugins": a.Manager.Status(),
	})
}

// pluginRequest is the body of every per-plugin action.
type pluginRequest struct {
	ID string `json:"id"`
}

func (a *API) pluginAction(w http.ResponseWriter, r *http.Request, action func(id string) error) {
	if !a.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req pluginRequest
	if !a.readBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		a.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := action(req.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, plugin.ErrPluginNotFound) {
			status = http.StatusNotFound
		}
		a.writeError(w, status, err.Error())
		return
	}
	a.writeOK(w, map[string]string{"id": req.ID})
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	a.pluginAction(w, r, a.Manager.Reload)
}

func (a *API) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodPost) {
		return
	}
	a.writeOK(w, a.Manager.ReloadAll())
}

func (a *API) handleEnable(w http.ResponseWriter, r *http.Request) {
	a.pluginAction(w, r, a.Manager.Enable)
}

func (a *API) handleDisable(w http.ResponseWriter, r *http.Request) {
	a.pluginAction(w, r, a.Manager.Disable)
}
