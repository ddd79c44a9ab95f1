package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates no credential was provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates the session is not connected.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live session.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrHandshakeTimeout indicates the backend never acknowledged the
	// configuration handshake within the configured deadline.
	ErrHandshakeTimeout = errors.New("realtime: handshake timed out")
)

// ConnectionError represents a transport-level failure.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether a fresh session is worth attempting.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if a reconnect may succeed.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// ServerError is an error event reported by the backend mid-session.
type ServerError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: server error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: server error: %s", e.Message)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return errors.Is(err, ErrHandshakeTimeout)
}
