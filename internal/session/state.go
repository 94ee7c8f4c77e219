package session

// State is the connection session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateDiscovering
	StateSubscribing
	StateStreaming
	StateDisconnecting
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// active reports whether the state holds transport resources or has an
// operation outstanding. A session in an active state rejects Connect.
func (s State) active() bool {
	switch s {
	case StateConnecting, StateDiscovering, StateSubscribing, StateStreaming, StateDisconnecting:
		return true
	default:
		return false
	}
}

// StateChange is one lifecycle transition, surfaced to the presentation
// boundary. Reason carries the human-readable failure or disconnect cause
// and is empty for ordinary transitions.
type StateChange struct {
	State  State
	Reason string
}
