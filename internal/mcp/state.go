package mcp

// ConnectionState is the finite enumeration of a client's connection
// lifecycle (spec.md §3).
type ConnectionState string

const (
	Disconnected ConnectionState = "DISCONNECTED"
	Connecting   ConnectionState = "CONNECTING"
	Connected    ConnectionState = "CONNECTED"
	Initializing ConnectionState = "INITIALIZING"
	Ready        ConnectionState = "READY"
	Errored      ConnectionState = "ERROR"
)

// IsStable reports whether a state is not a mid-transition state.
func (s ConnectionState) IsStable() bool {
	switch s {
	case Disconnected, Connected, Ready, Errored:
		return true
	default:
		return false
	}
}

// IsTransitional is the complement of IsStable; exactly one holds for every
// state.
func (s ConnectionState) IsTransitional() bool {
	return !s.IsStable()
}

// HasSocket reports whether the state implies a live stdio connection to
// the child process.
func (s ConnectionState) HasSocket() bool {
	switch s {
	case Connected, Initializing, Ready:
		return true
	default:
		return false
	}
}

// CanPerformOperations reports whether typed client operations
// (list_tools, call_tool, list_resources, read_resource) may be issued in
// this state. Only READY qualifies.
func (s ConnectionState) CanPerformOperations() bool {
	return s == Ready
}
