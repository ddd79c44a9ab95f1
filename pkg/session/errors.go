package session

import "errors"

// Sentinel errors for session startup and lifecycle.
var (
	// ErrSessionActive indicates StartSession was called while a session
	// is already running.
	ErrSessionActive = errors.New("session: already active")

	// ErrDeviceUnavailable indicates no capture device is reachable.
	ErrDeviceUnavailable = errors.New("session: capture device unavailable")

	// ErrStreamNotReady indicates the device stream produced no frames
	// within the bounded wait.
	ErrStreamNotReady = errors.New("session: device stream not ready")

	// ErrConnectionFailed indicates the backend connection did not come
	// up within the bounded wait.
	ErrConnectionFailed = errors.New("session: backend connection failed")
)
