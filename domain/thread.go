package domain

import (
	"time"
)

// Thread is the durable two-party conversation. Exactly two distinct
// participants; history is append-only and never deleted by this engine.
type Thread struct {
	ID           ChatID
	Participants [2]string
	CreatedAt    time.Time
}

// HasParticipant reports whether userID belongs to the thread.
func (t Thread) HasParticipant(userID string) bool {
	return t.Participants[0] == userID || t.Participants[1] == userID
}

// PairKey returns the canonical ordering of two participant IDs.
// Both (a,b) and (b,a) map to the same pair, which is what makes
// resolve-or-create idempotent regardless of who joins first.
func PairKey(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
