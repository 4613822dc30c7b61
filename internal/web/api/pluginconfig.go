package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/amia-bot/amia/internal/config"
)

// handleGetPluginConfig returns the raw per-plugin trigger override
// document.
func (a *API) handleGetPluginConfig(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	data, err := os.ReadFile(config.OverridePath(a.OverridesDir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.writeOK(w, map[string]interface{}{"id": id, "config": map[string]interface{}{}})
			return
		}
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !gjson.ValidBytes(data) {
		a.writeError(w, http.StatusInternalServerError, "override file is not valid JSON")
		return
	}
	a.writeOK(w, map[string]interface{}{"id": id, "config": json.RawMessage(data)})
}

// setConfigRequest updates override settings. With Key set, a single
// gjson path (e.g. "triggers.echo-cmd.enabled") is updated in place;
// with Config set, the whole document is replaced.
type setConfigRequest struct {
	ID     string          `json:"id"`
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (a *API) handleSetPluginConfig(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req setConfigRequest
	if !a.readBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		a.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var next []byte
	switch {
	case len(req.Config) > 0:
		if !gjson.ValidBytes(req.Config) {
			a.writeError(w, http.StatusBadRequest, "config is not valid JSON")
			return
		}
		next = req.Config

	case req.Key != "":
		if len(req.Value) == 0 || !gjson.ValidBytes(req.Value) {
			a.writeError(w, http.StatusBadRequest, "value is not valid JSON")
			return
		}
		cur, err := os.ReadFile(config.OverridePath(a.OverridesDir, req.ID))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				a.writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			cur = []byte(`{"triggers":{}}`)
		}
		next, err = sjson.SetRawBytes(cur, req.Key, req.Value)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

	default:
		a.writeError(w, http.StatusBadRequest, "key or config is required")
		return
	}

	// Reject documents the override schema cannot parse before writing.
	var doc config.PluginOverrides
	if err := json.Unmarshal(next, &doc); err != nil {
		a.writeError(w, http.StatusBadRequest, "config does not match the override schema")
		return
	}
	if err := config.SaveOverrides(a.OverridesDir, req.ID, &doc); err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A plugin that is not loaded keeps its file for the next load.
	if err := a.Manager.RefreshOverrides(req.ID); err != nil && a.Logger != nil {
		a.Logger.Debug("override refresh skipped", "plugin", req.ID, "error", err)
	}
	a.writeOK(w, map[string]string{"id": req.ID})
}
