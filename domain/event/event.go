// Package event defines the closed set of events pushed to client sessions.
// The transport layer translates these to wire frames at the boundary;
// nothing inside the engine ever dispatches on loose strings.
package event

import (
	"time"

	"dm-engine/domain"
	"dm-engine/errors"
)

type Kind string

const (
	KindChatJoined            Kind = "chat_joined"
	KindChatHistory           Kind = "chat_history"
	KindChatMessage           Kind = "chat_message"
	KindError                 Kind = "error"
	KindFriendRequestReceived Kind = "friend_request_received"
	KindFriendRequestAccepted Kind = "friend_request_accepted"
)

type DomainEvent interface {
	EventKind() Kind
}

// ChatJoined confirms a join and carries the resolved thread ID.
type ChatJoined struct {
	ChatID domain.ChatID
}

func (e ChatJoined) EventKind() Kind { return KindChatJoined }

// ChatHistory is the one-time snapshot emitted right after ChatJoined.
type ChatHistory struct {
	ChatID   domain.ChatID
	Messages []domain.Message
}

func (e ChatHistory) EventKind() Kind { return KindChatHistory }

// ChatMessage carries one message, whether delivered live or replayed
// from the buffer. Replayed messages keep their original ChatID so a
// client can route them even if it joined a different chat.
type ChatMessage struct {
	Message domain.Message
}

func (e ChatMessage) EventKind() Kind { return KindChatMessage }

// Error surfaces a failure to exactly one session, never crashes it.
type Error struct {
	Err errors.WireError
}

func (e Error) EventKind() Kind { return KindError }

// FriendRequestReceived originates from the external friend-request
// collaborator and rides the same presence-push primitive as messages.
type FriendRequestReceived struct {
	From string
	To   string
	At   time.Time
}

func (e FriendRequestReceived) EventKind() Kind { return KindFriendRequestReceived }

type FriendRequestAccepted struct {
	From string
	To   string
	At   time.Time
}

func (e FriendRequestAccepted) EventKind() Kind { return KindFriendRequestAccepted }
