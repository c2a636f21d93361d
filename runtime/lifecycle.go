package runtime

import (
	"context"
	"log/slog"

	"dm-engine/contract"
	"dm-engine/domain"
	"dm-engine/domain/event"
	apperrors "dm-engine/errors"
	"dm-engine/observability"
	"dm-engine/repositories"
)

// Lifecycle handles connection join/leave and reconnect replay.
//
// Join order is deterministic for the client: chat_joined, then the
// full history snapshot of the joined chat, then the buffered backlog
// in original send order. The backlog is drained per receiver across
// all chats (each replayed message carries its own chatId), so joining
// one chat never strands messages from another.
type Lifecycle struct {
	log        *slog.Logger
	registry   contract.IRegistry
	threads    repositories.IThreadRepository
	buffer     repositories.IBufferRepository
	monitoring *observability.MonitoringManager
}

func NewLifecycle(log *slog.Logger, registry contract.IRegistry,
	threads repositories.IThreadRepository, buffer repositories.IBufferRepository,
	monitoring *observability.MonitoringManager) *Lifecycle {
	return &Lifecycle{
		log:        log,
		registry:   registry,
		threads:    threads,
		buffer:     buffer,
		monitoring: monitoring,
	}
}

// JoinChat registers the session and joins the two-party chat with peerID,
// creating the thread on first contact.
//
// Registration happens first and survives a failed thread join: the user
// is online for notification purposes even when a specific chat join
// fails. The returned SessionID is always valid.
func (l *Lifecycle) JoinChat(ctx context.Context, userID, peerID string,
	sink contract.EventSink) (domain.SessionID, domain.ChatID, error) {
	sessionID := l.registry.Register(userID, sink)

	thread, err := l.threads.ResolveOrCreateThread(userID, peerID)
	if err != nil {
		l.log.Error("Thread resolve failed on join",
			"user_id", userID,
			"peer_id", peerID,
			"error", err)
		return sessionID, "", err
	}

	if err := sink.Consume(ctx, event.ChatJoined{ChatID: thread.ID}); err != nil {
		return sessionID, thread.ID, err
	}

	history, err := l.threads.History(thread.ID)
	if err != nil {
		return sessionID, thread.ID, err
	}
	if err := sink.Consume(ctx, event.ChatHistory{ChatID: thread.ID, Messages: history}); err != nil {
		return sessionID, thread.ID, err
	}

	l.replayBacklog(ctx, userID, sink)
	return sessionID, thread.ID, nil
}

// JoinNotifications registers a presence-only session, used for
// out-of-band notification delivery without any chat context.
func (l *Lifecycle) JoinNotifications(userID string, sink contract.EventSink) domain.SessionID {
	return l.registry.Register(userID, sink)
}

// Disconnect removes the session from the registry. The buffer store is
// untouched: undelivered records wait for the next reconnect.
func (l *Lifecycle) Disconnect(userID string, sessionID domain.SessionID) {
	l.registry.Unregister(userID, sessionID)
}

// replayBacklog drains the undelivered buffer for the user into the new
// session, marking each record delivered only after its push succeeded.
// Replay failures stop the drain and leave the remainder undelivered
// for a later reconnect; they are never fatal to the join itself.
func (l *Lifecycle) replayBacklog(ctx context.Context, userID string, sink contract.EventSink) {
	backlog, err := l.buffer.Drain(userID)
	if err != nil {
		l.log.Error("Buffer drain failed on join", "user_id", userID, "error", err)
		return
	}

	for _, record := range backlog {
		e := event.ChatMessage{Message: domain.Message{
			ID:       record.ID,
			ChatID:   record.ChatID,
			Sender:   record.Sender,
			Receiver: record.Receiver,
			Content:  record.Content,
			SentAt:   record.SentAt,
		}}
		if err := sink.Consume(ctx, e); err != nil {
			if err == apperrors.ErrStaleSession {
				l.log.Debug("Session went stale during replay", "user_id", userID)
				return
			}
			l.log.Warn("Replay push failed", "user_id", userID, "error", err)
			return
		}
		if err := l.buffer.MarkDelivered(record.ID); err != nil {
			l.log.Error("MarkDelivered failed after replay",
				"user_id", userID,
				"message_id", record.ID,
				"error", err)
			return
		}
		l.monitoring.MessageReplayed()
	}
}
