package api

import (
	"net/http"
	"strconv"
)

// handleLogs serves a paginated view of the in-memory log ring.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	a.writeOK(w, a.Logs.Query(page, pageSize, q.Get("level"), q.Get("search")))
}
