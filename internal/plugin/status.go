package plugin

import (
	"path/filepath"
	"sort"
)

// TriggerStatus is one trigger's declared shape plus its live override
// state, as shown in the admin console.
type TriggerStatus struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Func         string  `json:"func"`
	Enabled      bool    `json:"enabled"`
	AllowPrivate bool    `json:"allow_private"`
	Groups       []int64 `json:"groups"`
	MustPrefix   bool    `json:"must_prefix"`
}

// PluginStatus is one plugin's registry entry for the admin console.
type PluginStatus struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Author      string          `json:"author"`
	Enabled     bool            `json:"enabled"`
	State       string          `json:"state"`
	File        string          `json:"file"`
	Error       string          `json:"error,omitempty"`
	Triggers    []TriggerStatus `json:"triggers,omitempty"`
}

// Status reports every plugin the manager knows about: loaded plugins in
// load order, then archives whose last load failed, then disabled
// archives found on disk.
func (m *Manager) Status() []PluginStatus {
	m.mu.RLock()
	var out []PluginStatus
	for _, id := range m.order {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		st := PluginStatus{
			ID:          e.host.Manifest.ID,
			Name:        e.host.Manifest.Name,
			Description: e.host.Manifest.Description,
			Version:     e.host.Manifest.Version,
			Author:      e.host.Manifest.Author,
			Enabled:     true,
			State:       StateLoaded.String(),
			File:        filepath.Base(e.host.ArchivePath),
		}
		for _, t := range e.host.Triggers() {
			ov := e.overrides.Trigger(t.Spec.ID)
			st.Triggers = append(st.Triggers, TriggerStatus{
				ID:           t.Spec.ID,
				Type:         t.Spec.Type,
				Name:         t.Spec.Name,
				Description:  t.Spec.Description,
				Func:         t.Spec.Func,
				Enabled:      ov.Enabled,
				AllowPrivate: ov.AllowPrivate,
				Groups:       ov.Groups,
				MustPrefix:   ov.MustPrefixEnabled(),
			})
		}
		out = append(out, st)
	}

	failed := make([]PluginStatus, 0, len(m.failures))
	for path, err := range m.failures {
		failed = append(failed, PluginStatus{
			ID:    PluginIDFromPath(path),
			State: StateFailed.String(),
			File:  filepath.Base(path),
			Error: err.Error(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(failed, func(i, j int) bool { return failed[i].File < failed[j].File })
	out = append(out, failed...)
	out = append(out, m.disabledStatus()...)
	return out
}

// disabledStatus enumerates disabled archives on disk, reading manifests
// where the archive is still intact.
func (m *Manager) disabledStatus() []PluginStatus {
	paths, err := m.listArchives(true)
	if err != nil {
		return nil
	}

	out := make([]PluginStatus, 0, len(paths))
	for _, path := range paths {
		st := PluginStatus{
			ID:    PluginIDFromPath(path),
			State: StateDisabled.String(),
			File:  filepath.Base(path),
		}
		if mf, err := ReadManifest(path); err == nil {
			st.ID = mf.ID
			st.Name = mf.Name
			st.Description = mf.Description
			st.Version = mf.Version
			st.Author = mf.Author
		}
		out = append(out, st)
	}
	return out
}
