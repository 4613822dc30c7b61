package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifestJSON() []byte {
	return []byte(`{
		"id": "echo",
		"name": "Echo",
		"description": "echoes text back",
		"version": "1.0.0",
		"author": "amia",
		"triggers": [
			{"id": "echo-cmd", "type": "text_command", "func": "on_echo",
			 "name": "echo command", "params": {"command": "echo"}},
			{"id": "echo-pat", "type": "text_pattern", "func": "on_pattern",
			 "params": {"pattern": "echo.+"}}
		]
	}`)
}

func TestParseManifestValid(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest(validManifestJSON())
	require.NoError(t, err)
	assert.Equal(t, "echo", m.ID)
	assert.Equal(t, "Echo v1.0.0", m.String())
	assert.Equal(t, []string{"echo-cmd", "echo-pat"}, m.TriggerIDs())
	assert.Equal(t, "echo", m.Triggers[0].ParamString("command"))
}

func TestParseManifestRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		json string
		want error
	}{
		{"missing id", `{"name":"x","triggers":[{"id":"t","type":"schedule","func":"f","params":{"spec":"* * * * *"}}]}`, ErrMissingID},
		{"bad id", `{"id":"Bad ID","name":"x","triggers":[{"id":"t","type":"schedule","func":"f","params":{"spec":"@daily"}}]}`, ErrInvalidID},
		{"missing name", `{"id":"x","triggers":[{"id":"t","type":"schedule","func":"f","params":{"spec":"@daily"}}]}`, ErrMissingName},
		{"bad version", `{"id":"x","name":"x","version":"one","triggers":[{"id":"t","type":"schedule","func":"f","params":{"spec":"@daily"}}]}`, ErrInvalidVersion},
		{"no triggers", `{"id":"x","name":"x"}`, ErrNoTriggers},
		{"bad trigger type", `{"id":"x","name":"x","triggers":[{"id":"t","type":"on_poke","func":"f"}]}`, ErrInvalidTrigger},
		{"missing func", `{"id":"x","name":"x","triggers":[{"id":"t","type":"text_command","params":{"command":"c"}}]}`, ErrMissingFunc},
		{"missing param", `{"id":"x","name":"x","triggers":[{"id":"t","type":"text_command","func":"f"}]}`, ErrMissingParam},
		{"duplicate trigger", `{"id":"x","name":"x","triggers":[
			{"id":"t","type":"text_command","func":"f","params":{"command":"a"}},
			{"id":"t","type":"text_command","func":"g","params":{"command":"b"}}]}`, ErrDuplicateTrigger},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.json))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestManifestVersionOptional(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest([]byte(`{"id":"x","name":"X","triggers":[
		{"id":"t","type":"schedule","func":"f","params":{"spec":"@hourly"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "X", m.String())
}
