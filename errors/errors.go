package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrThreadNotFound = fmt.Errorf("chat thread not found")
	ErrNotParticipant = fmt.Errorf("sender is not a participant of the thread")
	ErrPersistence    = fmt.Errorf("history append failed")
	ErrBufferWrite    = fmt.Errorf("buffer write failed")
	ErrStaleSession   = fmt.Errorf("session no longer accepts pushes")
	ErrInvalidToken   = fmt.Errorf("invalid or expired token")
)

// WireError is the structured payload sent back to a client as an `error` event.
// Internal details never cross the wire, only a short stable message.
type WireError struct {
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

// MapToWireError translates internal errors to their client-facing form.
// Buffer write failures are soft: the message already exists in history,
// so the sender gets a warning instead of a hard error.
func MapToWireError(err error) WireError {
	switch {
	case errors.Is(err, ErrThreadNotFound):
		return WireError{Message: "chat not found"}
	case errors.Is(err, ErrNotParticipant):
		return WireError{Message: "not a participant of this chat"}
	case errors.Is(err, ErrPersistence):
		return WireError{Message: "message could not be saved"}
	case errors.Is(err, ErrBufferWrite):
		return WireError{Message: "message saved, offline delivery delayed", Warning: true}
	case errors.Is(err, ErrInvalidToken):
		return WireError{Message: "authentication failed"}
	default:
		return WireError{Message: "internal error"}
	}
}
