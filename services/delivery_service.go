//go:generate go run go.uber.org/mock/mockgen -source=delivery_service.go -destination=../mocks/mock_delivery_service.go -package=mocks
package services

import (
	"context"
	"time"

	"dm-engine/contract"
	"dm-engine/domain"
	"dm-engine/domain/event"
	"dm-engine/runtime"
)

// IDeliveryService is the boundary the transport layer talks to.
type IDeliveryService interface {
	SendMessage(ctx context.Context, message domain.Message, origin domain.SessionID) error
	JoinChat(ctx context.Context, userID, peerID string, sink contract.EventSink) (domain.SessionID, domain.ChatID, error)
	JoinNotifications(userID string, sink contract.EventSink) domain.SessionID
	Disconnect(userID string, sessionID domain.SessionID)
	PushToUser(ctx context.Context, userID string, e event.DomainEvent) int
	NotifyFriendRequest(ctx context.Context, from, to string)
	NotifyFriendAccepted(ctx context.Context, from, to string)
}

type DeliveryService struct {
	router    *runtime.Router
	lifecycle *runtime.Lifecycle
}

func NewDeliveryService(router *runtime.Router, lifecycle *runtime.Lifecycle) *DeliveryService {
	return &DeliveryService{router: router, lifecycle: lifecycle}
}

func (s *DeliveryService) SendMessage(ctx context.Context, message domain.Message, origin domain.SessionID) error {
	return s.router.Deliver(ctx, message, origin)
}

func (s *DeliveryService) JoinChat(ctx context.Context, userID, peerID string,
	sink contract.EventSink) (domain.SessionID, domain.ChatID, error) {
	return s.lifecycle.JoinChat(ctx, userID, peerID, sink)
}

func (s *DeliveryService) JoinNotifications(userID string, sink contract.EventSink) domain.SessionID {
	return s.lifecycle.JoinNotifications(userID, sink)
}

func (s *DeliveryService) Disconnect(userID string, sessionID domain.SessionID) {
	s.lifecycle.Disconnect(userID, sessionID)
}

// PushToUser is the generic presence-push primitive reused by the
// social collaborator. Returns the number of sessions reached.
func (s *DeliveryService) PushToUser(ctx context.Context, userID string, e event.DomainEvent) int {
	return s.router.PushToUser(ctx, userID, e)
}

func (s *DeliveryService) NotifyFriendRequest(ctx context.Context, from, to string) {
	s.router.PushToUser(ctx, to, event.FriendRequestReceived{
		From: from,
		To:   to,
		At:   time.Now().UTC(),
	})
}

func (s *DeliveryService) NotifyFriendAccepted(ctx context.Context, from, to string) {
	s.router.PushToUser(ctx, to, event.FriendRequestAccepted{
		From: from,
		To:   to,
		At:   time.Now().UTC(),
	})
}
