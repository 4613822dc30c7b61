package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// TriggerOverride is the runtime-adjustable state of a single trigger.
// Groups is a set of group identifiers; empty means all groups.
type TriggerOverride struct {
	Enabled      bool    `json:"enabled"`
	AllowPrivate bool    `json:"allow_private"`
	Groups       []int64 `json:"groups"`
	MustPrefix   *bool   `json:"must_prefix,omitempty"`
}

// MustPrefixEnabled reports whether a command trigger requires the command
// prefix. Defaults to true when unset.
func (o TriggerOverride) MustPrefixEnabled() bool {
	if o.MustPrefix == nil {
		return true
	}
	return *o.MustPrefix
}

// AllowsGroup reports whether the override permits dispatch for the group.
func (o TriggerOverride) AllowsGroup(groupID int64) bool {
	if len(o.Groups) == 0 {
		return true
	}
	for _, g := range o.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// PluginOverrides is the per-plugin trigger override document stored at
// <data>/configs/plugins/<id>.json.
type PluginOverrides struct {
	Triggers map[string]TriggerOverride `json:"triggers"`
}

// Trigger returns the override for a trigger id, falling back to an
// enabled/defaults entry for triggers the file does not know about.
func (p *PluginOverrides) Trigger(id string) TriggerOverride {
	if p == nil || p.Triggers == nil {
		return TriggerOverride{Enabled: true, AllowPrivate: true}
	}
	if o, ok := p.Triggers[id]; ok {
		return o
	}
	return TriggerOverride{Enabled: true, AllowPrivate: true}
}

// OverridePath returns the override file path for a plugin id.
func OverridePath(dir, pluginID string) string {
	return filepath.Join(dir, pluginID+".json")
}

// LoadOverrides reads the override file for a plugin. A missing file is not
// an error; it yields an empty document.
func LoadOverrides(dir, pluginID string) (*PluginOverrides, error) {
	data, err := os.ReadFile(OverridePath(dir, pluginID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &PluginOverrides{Triggers: map[string]TriggerOverride{}}, nil
		}
		return nil, err
	}
	var p PluginOverrides
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Triggers == nil {
		p.Triggers = map[string]TriggerOverride{}
	}
	return &p, nil
}

// SaveOverrides writes the override document for a plugin.
func SaveOverrides(dir, pluginID string, p *PluginOverrides) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(OverridePath(dir, pluginID), append(data, '\n'), 0644)
}

// EnsureOverrides creates a default override file for the plugin's triggers
// when none exists yet. Existing files are never overwritten.
func EnsureOverrides(dir, pluginID string, triggerIDs []string, defaults map[string]TriggerOverride) error {
	path := OverridePath(dir, pluginID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	doc := &PluginOverrides{Triggers: make(map[string]TriggerOverride, len(triggerIDs))}
	for _, id := range triggerIDs {
		if d, ok := defaults[id]; ok {
			doc.Triggers[id] = d
			continue
		}
		doc.Triggers[id] = TriggerOverride{Enabled: true, AllowPrivate: true}
	}
	return SaveOverrides(dir, pluginID, doc)
}
