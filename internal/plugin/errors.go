package plugin

import "errors"

// Manifest validation errors.
var (
	ErrMissingID         = errors.New("manifest: id is required")
	ErrInvalidID         = errors.New("manifest: id must be alphanumeric with hyphens or underscores")
	ErrMissingName       = errors.New("manifest: name is required")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrNoTriggers        = errors.New("manifest: at least one trigger is required")
	ErrMissingTriggerID  = errors.New("manifest: trigger id is required")
	ErrDuplicateTrigger  = errors.New("manifest: duplicate trigger id")
	ErrInvalidTrigger    = errors.New("manifest: unknown trigger type")
	ErrMissingFunc       = errors.New("manifest: trigger func is required")
	ErrMissingParam      = errors.New("manifest: trigger is missing a required param")
)

// Lifecycle errors.
var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrNotAnArchive   = errors.New("not a plugin archive")
)
