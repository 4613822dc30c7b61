package plugin

// State describes where a plugin is in its lifecycle.
type State int

const (
	// StateDiscovered means the archive was found but not yet loaded.
	StateDiscovered State = iota
	// StateLoaded means the plugin's code is loaded and triggers are bound.
	StateLoaded
	// StateFailed means the last load or reload attempt errored.
	StateFailed
	// StateDisabled means the archive carries the disabled suffix and is
	// skipped at load time.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
