package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dm-engine/auth"
	"dm-engine/domain"
	apperrors "dm-engine/errors"
	"dm-engine/services"
	"dm-engine/sink"
)

// Server upgrades HTTP requests to one long-lived socket per client
// session. Each connection gets a read loop (inbound frames -> service
// calls) and a write loop (sink channel -> socket); the engine never
// writes to the network directly.
type Server struct {
	log                  *slog.Logger
	service              services.IDeliveryService
	secret               []byte
	connectionBufferSize int
	writeTimeout         time.Duration
	upgrader             websocket.Upgrader
}

func NewServer(log *slog.Logger, service services.IDeliveryService,
	secret []byte, connectionBufferSize int, writeTimeout time.Duration) *Server {
	return &Server{
		log:                  log,
		service:              service,
		secret:               secret,
		connectionBufferSize: connectionBufferSize,
		writeTimeout:         writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP authenticates the upgrade request and hands the connection
// to the session loops. The token resolves the user identity; payloads
// claiming another identity are rejected per frame, not trusted.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	claims, err := auth.ValidateToken(s.secret, token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed", "error", err)
		return
	}

	s.handle(r.Context(), conn, claims.UserID)
}

// session is the per-connection state owned by the read loop.
type session struct {
	userID    string
	sessionID domain.SessionID
	sink      *sink.ChannelSink
}

func (s *Server) handle(ctx context.Context, conn *websocket.Conn, userID string) {
	connSink := sink.NewChannelSink(s.connectionBufferSize)
	sess := &session{userID: userID, sink: connSink}

	writerCtx, cancelWriter := context.WithCancel(ctx)
	defer cancelWriter()
	go s.writeLoop(writerCtx, conn, connSink)

	defer func() {
		connSink.Close()
		if sess.sessionID != "" {
			s.service.Disconnect(sess.userID, sess.sessionID)
		}
		_ = conn.Close()
		s.log.Info("Client disconnected", "user_id", userID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, sess, data)
	}
}

// dispatch routes one decoded inbound frame. Failures are echoed back
// to this session only, as a structured error event; the connection
// itself stays alive.
func (s *Server) dispatch(ctx context.Context, sess *session, data []byte) {
	decoded, err := DecodeInbound(data)
	if err != nil {
		s.log.Debug("Rejected inbound frame", "user_id", sess.userID, "error", err)
		_ = sess.sink.Consume(ctx, errorFrame(err))
		return
	}

	switch p := decoded.(type) {
	case JoinChatPayload:
		if p.User1ID != sess.userID {
			_ = sess.sink.Consume(ctx, errorFrame(apperrors.ErrInvalidToken))
			return
		}
		// A re-join (chat switch) replaces the previous registration so
		// one connection never counts as two sessions.
		if sess.sessionID != "" {
			s.service.Disconnect(sess.userID, sess.sessionID)
			sess.sessionID = ""
		}
		sessionID, chatID, err := s.service.JoinChat(ctx, p.User1ID, p.User2ID, sess.sink)
		sess.sessionID = sessionID
		if err != nil {
			s.log.Warn("Chat join failed",
				"user_id", sess.userID,
				"peer_id", p.User2ID,
				"error", err)
			_ = sess.sink.Consume(ctx, errorFrame(err))
			return
		}
		s.log.Info("Client joined chat",
			"user_id", sess.userID,
			"chat_id", chatID,
			"session_id", sessionID)

	case JoinNotificationsPayload:
		if p.UserID != sess.userID {
			_ = sess.sink.Consume(ctx, errorFrame(apperrors.ErrInvalidToken))
			return
		}
		if sess.sessionID != "" {
			s.service.Disconnect(sess.userID, sess.sessionID)
		}
		sess.sessionID = s.service.JoinNotifications(p.UserID, sess.sink)

	case ChatMessagePayload:
		if p.Sender != sess.userID {
			_ = sess.sink.Consume(ctx, errorFrame(apperrors.ErrInvalidToken))
			return
		}
		sentAt := p.Timestamp
		if sentAt.IsZero() {
			sentAt = time.Now().UTC()
		}
		message := domain.Message{
			ID:       uuid.New(),
			ChatID:   domain.ChatID(p.ChatID),
			Sender:   p.Sender,
			Receiver: p.Receiver,
			Content:  p.Content,
			SentAt:   sentAt,
		}
		if err := s.service.SendMessage(ctx, message, sess.sessionID); err != nil {
			_ = sess.sink.Consume(ctx, errorFrame(err))
		}
	}
}

// writeLoop drains the session sink onto the socket. It owns all
// writes to the connection; a network failure here surfaces to the
// read loop as a closed connection.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, connSink *sink.ChannelSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-connSink.Events:
			data, err := EncodeEvent(evt)
			if err != nil {
				s.log.Error(fmt.Sprintf("Unencodable event: %v", err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("Write failed, closing session", "error", err)
				connSink.Close()
				_ = conn.Close()
				return
			}
		}
	}
}
