package api

import (
	"net/http"
	"strconv"

	"github.com/amia-bot/amia/internal/store"
)

// handleUsage returns dispatch statistics. Without a plugin filter it
// aggregates over every plugin; with one it returns that plugin's stats
// plus its recent dispatches.
func (a *API) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	if a.Store == nil {
		a.writeError(w, http.StatusServiceUnavailable, "dispatch store is not configured")
		return
	}

	q := r.URL.Query()
	pluginID := q.Get("plugin")
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	if pluginID == "" {
		stats, err := a.Store.ListPluginStats(r.Context())
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.writeOK(w, map[string]interface{}{"plugins": stats})
		return
	}

	stats, err := a.Store.GetPluginStats(r.Context(), pluginID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recent, err := a.Store.ListDispatches(r.Context(), store.ListOpts{
		PluginID: pluginID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.writeOK(w, map[string]interface{}{"stats": stats, "recent": recent})
}
