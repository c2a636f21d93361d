// Package runtime coordinates message routing, presence and replay.
// It orchestrates the repositories and the registry without owning any
// durable state itself.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dm-engine/contract"
	"dm-engine/domain"
	"dm-engine/domain/event"
	apperrors "dm-engine/errors"
	"dm-engine/observability"
	"dm-engine/repositories"
)

// Router drives each inbound message through
// RECEIVED -> PERSISTED -> {FANNED_OUT | BUFFERED} -> ACKED.
//
// Persistence strictly precedes delivery: history is the source of
// truth whatever happens downstream. Fan-out and buffering are mutually
// exclusive per message; a persisted message is either pushed to at
// least one live session or enqueued, never both, never neither.
type Router struct {
	log        *slog.Logger
	registry   contract.IRegistry
	threads    repositories.IThreadRepository
	buffer     repositories.IBufferRepository
	monitoring *observability.MonitoringManager

	mu        sync.Mutex
	chatLocks map[domain.ChatID]*sync.Mutex
}

func NewRouter(log *slog.Logger, registry contract.IRegistry,
	threads repositories.IThreadRepository, buffer repositories.IBufferRepository,
	monitoring *observability.MonitoringManager) *Router {
	return &Router{
		log:        log,
		registry:   registry,
		threads:    threads,
		buffer:     buffer,
		monitoring: monitoring,
		chatLocks:  make(map[domain.ChatID]*sync.Mutex),
	}
}

// Deliver routes one message from a connected sender session.
//
// The returned error is what the transport surfaces to the sender:
// ErrThreadNotFound / ErrNotParticipant mean nothing was persisted,
// ErrPersistence means the whole delivery was aborted, ErrBufferWrite
// is a soft warning (the message is already in history).
func (r *Router) Deliver(ctx context.Context, message domain.Message, origin domain.SessionID) error {
	// RECEIVED: the chat must exist and the sender must belong to it.
	thread, err := r.threads.GetThread(message.ChatID)
	if err != nil {
		r.monitoring.ErrorReported()
		return err
	}
	if !thread.HasParticipant(message.Sender) {
		r.monitoring.ErrorReported()
		return fmt.Errorf("%w: %s in chat %s", apperrors.ErrNotParticipant, message.Sender, message.ChatID)
	}

	// PERSISTED: append before any delivery attempt. Appends within one
	// chat are serialized so concurrent sends cannot interleave history.
	lock := r.chatLock(message.ChatID)
	lock.Lock()
	err = r.threads.AppendMessage(message)
	lock.Unlock()
	if err != nil {
		r.monitoring.ErrorReported()
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	// FANNED_OUT or BUFFERED, never both.
	delivered := r.fanout(ctx, message.Receiver, event.ChatMessage{Message: message}, "")

	var bufferErr error
	if delivered == 0 {
		if _, err := r.buffer.Enqueue(message); err != nil {
			// Soft failure: history already holds the message.
			r.log.Warn("Buffering failed, message kept in history only",
				"chat_id", message.ChatID,
				"receiver", message.Receiver,
				"error", err)
			bufferErr = fmt.Errorf("%w: %v", apperrors.ErrBufferWrite, err)
		} else {
			r.monitoring.MessageBuffered()
		}
	} else {
		r.monitoring.MessageDelivered()
	}

	// ACKED: echo to the sender's other sessions for multi-device sync.
	// The originating session already has the message locally.
	r.fanout(ctx, message.Sender, event.ChatMessage{Message: message}, origin)

	return bufferErr
}

// fanout pushes an event to every live session of userID, skipping the
// excluded session. A stale sink is evicted from the registry and the
// push continues with the remaining siblings. Returns the number of
// successful pushes.
//
// The registry lock is never held here: SessionsFor returns a copy and
// each push goes straight to the session's own outbound queue.
func (r *Router) fanout(ctx context.Context, userID string, e event.DomainEvent, exclude domain.SessionID) int {
	delivered := 0
	for _, handle := range r.registry.SessionsFor(userID) {
		if handle.Session.ID == exclude {
			continue
		}
		if err := handle.Sink.Consume(ctx, e); err != nil {
			if err == apperrors.ErrStaleSession {
				r.registry.Unregister(userID, handle.Session.ID)
				r.monitoring.SessionEvicted()
				r.log.Debug("Evicted stale session",
					"user_id", userID,
					"session_id", handle.Session.ID)
				continue
			}
			// Transport-level push failure: log per session, keep fanning.
			r.log.Warn("Push failed for one session",
				"user_id", userID,
				"session_id", handle.Session.ID,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// PushToUser delivers an out-of-band event (friend requests, etc.) to
// every live session of a user. Best effort: an offline user simply
// misses the notification, by contract with the social collaborator.
func (r *Router) PushToUser(ctx context.Context, userID string, e event.DomainEvent) int {
	return r.fanout(ctx, userID, e, "")
}

func (r *Router) chatLock(chatID domain.ChatID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		r.chatLocks[chatID] = lock
	}
	return lock
}
