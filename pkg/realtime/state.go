package realtime

// State represents the streaming session state.
type State int

const (
	// StateIdle indicates no active session. Initial and terminal.
	StateIdle State = iota
	// StateConnecting indicates the transport dial and handshake are in progress.
	StateConnecting
	// StateConnected indicates the handshake was acknowledged.
	StateConnected
	// StateRecording indicates microphone chunks are being forwarded.
	StateRecording
	// StateSpeaking indicates the assistant is producing voice output.
	StateSpeaking
	// StateDisconnecting indicates teardown is in progress.
	StateDisconnecting
	// StateError indicates a mid-session failure; always followed by teardown.
	StateError
)

// String returns a human-readable session state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	case StateSpeaking:
		return "speaking"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
