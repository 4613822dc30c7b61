package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Trigger types a manifest may declare.
const (
	TriggerTextPattern  = "text_pattern"
	TriggerTextCommand  = "text_command"
	TriggerMatchMessage = "match_message"
	TriggerSchedule     = "schedule"
)

// TriggerSpec declares one trigger in a plugin manifest: when to fire and
// which Lua function handles it.
type TriggerSpec struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Func        string                 `json:"func"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Params      map[string]interface{} `json:"params"`
}

// ParamString returns a string-valued param, or "" when absent.
func (t *TriggerSpec) ParamString(key string) string {
	s, _ := t.Params[key].(string)
	return s
}

// Manifest is the info.json document at the root of a plugin archive.
type Manifest struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Version     string        `json:"version"`
	Author      string        `json:"author"`
	Triggers    []TriggerSpec `json:"triggers"`
}

// idPattern validates plugin and trigger identifiers.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?$`)

var validTriggerTypes = map[string]bool{
	TriggerTextPattern:  true,
	TriggerTextCommand:  true,
	TriggerMatchMessage: true,
	TriggerSchedule:     true,
}

// requiredParams maps each trigger type to the param it cannot work without.
var requiredParams = map[string]string{
	TriggerTextPattern:  "pattern",
	TriggerTextCommand:  "command",
	TriggerMatchMessage: "matches",
	TriggerSchedule:     "spec",
}

// ParseManifest parses and validates an info.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest against the archive contract.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, m.ID)
	}
	if m.Name == "" {
		return ErrMissingName
	}
	if m.Version != "" && !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version)
	}
	if len(m.Triggers) == 0 {
		return ErrNoTriggers
	}

	seen := make(map[string]bool, len(m.Triggers))
	for i, t := range m.Triggers {
		if t.ID == "" {
			return fmt.Errorf("%w at index %d", ErrMissingTriggerID, i)
		}
		if !idPattern.MatchString(t.ID) {
			return fmt.Errorf("%w: trigger %q", ErrInvalidID, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateTrigger, t.ID)
		}
		seen[t.ID] = true

		if !validTriggerTypes[t.Type] {
			return fmt.Errorf("%w: %q (trigger %q)", ErrInvalidTrigger, t.Type, t.ID)
		}
		if t.Func == "" {
			return fmt.Errorf("%w (trigger %q)", ErrMissingFunc, t.ID)
		}
		if key := requiredParams[t.Type]; key != "" {
			if _, ok := t.Params[key]; !ok {
				return fmt.Errorf("%w: %q needs params.%s", ErrMissingParam, t.ID, key)
			}
		}
	}
	return nil
}

// TriggerIDs returns the ids of all declared triggers, in manifest order.
func (m *Manifest) TriggerIDs() []string {
	ids := make([]string, len(m.Triggers))
	for i, t := range m.Triggers {
		ids[i] = t.ID
	}
	return ids
}

// String returns "name vX.Y.Z" for logs.
func (m *Manifest) String() string {
	if m.Version == "" {
		return m.Name
	}
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
