// Package domain contains core concepts of the delivery engine.
// This file defines Message, the unit routed between participants.
// Messages are immutable once created.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatID identifies a two-party thread.
type ChatID string

// Message represents one chat message en route through the router.
type Message struct {
	ID       uuid.UUID
	ChatID   ChatID
	Sender   string
	Receiver string
	Content  string
	SentAt   time.Time
}
