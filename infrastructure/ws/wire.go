// Package ws is the WebSocket transport boundary. It translates wire
// frames to and from the engine's typed events; no string-keyed
// dispatch survives past this package.
package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"dm-engine/domain"
	"dm-engine/domain/event"
	apperrors "dm-engine/errors"
)

var validate = validator.New()

// Envelope is the frame exchanged on the socket, both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	typeJoinChat          = "join_chat"
	typeJoinNotifications = "join_notifications"
	typeChatMessage       = "chat_message"
)

type JoinChatPayload struct {
	User1ID string `json:"user1_id" validate:"required"`
	User2ID string `json:"user2_id" validate:"required,nefield=User1ID"`
}

type JoinNotificationsPayload struct {
	UserID string `json:"user_id" validate:"required"`
}

type ChatMessagePayload struct {
	ChatID    string    `json:"chat_id" validate:"required"`
	Sender    string    `json:"sender" validate:"required"`
	Receiver  string    `json:"receiver" validate:"required"`
	Content   string    `json:"content" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeInbound parses and validates one client frame. The set of
// inbound kinds is closed; anything else is rejected at the boundary.
func DecodeInbound(data []byte) (any, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch envelope.Type {
	case typeJoinChat:
		var p JoinChatPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return p, validate.Struct(p)
	case typeJoinNotifications:
		var p JoinNotificationsPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return p, validate.Struct(p)
	case typeChatMessage:
		var p ChatMessagePayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return p, validate.Struct(p)
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.Type)
	}
}

type wireMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toWireMessage(m domain.Message) wireMessage {
	return wireMessage{
		ID:        m.ID.String(),
		ChatID:    string(m.ChatID),
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Content:   m.Content,
		Timestamp: m.SentAt,
	}
}

type chatJoinedPayload struct {
	ChatID string `json:"chat_id"`
}

type chatHistoryPayload struct {
	ChatID   string        `json:"chat_id"`
	Messages []wireMessage `json:"messages"`
}

type friendRequestPayload struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// EncodeEvent turns a domain event into its wire frame.
func EncodeEvent(e event.DomainEvent) ([]byte, error) {
	var payload any
	switch evt := e.(type) {
	case event.ChatJoined:
		payload = chatJoinedPayload{ChatID: string(evt.ChatID)}
	case event.ChatHistory:
		payload = chatHistoryPayload{
			ChatID: string(evt.ChatID),
			Messages: lo.Map(evt.Messages, func(m domain.Message, _ int) wireMessage {
				return toWireMessage(m)
			}),
		}
	case event.ChatMessage:
		payload = toWireMessage(evt.Message)
	case event.Error:
		payload = evt.Err
	case event.FriendRequestReceived:
		payload = friendRequestPayload{From: evt.From, To: evt.To, At: evt.At}
	case event.FriendRequestAccepted:
		payload = friendRequestPayload{From: evt.From, To: evt.To, At: evt.At}
	default:
		return nil, fmt.Errorf("unencodable event kind %q", e.EventKind())
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: string(e.EventKind()), Payload: raw})
}

// errorFrame builds the structured error event for one session.
func errorFrame(err error) event.Error {
	return event.Error{Err: apperrors.MapToWireError(err)}
}
