package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one live connection. A user may hold several
// sessions at once (multi-device); identity and connection are distinct.
type SessionID string

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Session is the registry-side view of a live connection: who it belongs
// to and when it appeared. The actual push channel is held separately as
// an EventSink so the registry never touches transport concerns.
type Session struct {
	ID          SessionID
	UserID      string
	ConnectedAt time.Time
}
