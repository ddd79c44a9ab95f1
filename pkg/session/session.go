// Package session is the public-facing controller of the assistant: it
// sequences device startup, credential resolution, the backend
// connection and audio capture into one session lifecycle, and tears
// everything down in reverse on stop or failure.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is one streaming conversation attempt. Sessions are never
// reused: a reconnect creates a fresh Session with a fresh id.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

func newSession() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
	}
}
