// Package plugin implements the .plugin archive system: discovery,
// manifest validation, extraction, trigger matching and dispatch.
//
// A plugin is a zip archive with a .plugin extension containing an
// info.json manifest and a main.lua entry file. The manifest declares
// triggers: conditions under which a named Lua function runs. Renaming
// an archive to the .plugin.disabled suffix takes it out of rotation
// without deleting it.
//
// The Manager owns the registry. It loads each archive into a Host with
// its own sandboxed Lua state, so one plugin's failure cannot corrupt
// another's. Per-trigger runtime settings (enabled, group scoping,
// private chat access, prefix requirement) live in override files under
// the data directory and are editable from the admin console.
package plugin
