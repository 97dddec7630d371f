package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notification-service/internal/model"
)

const (
	maxMessageSize = 8 << 10
	commandTimeout = 5 * time.Second
)

// NotificationOps is the part of the notification service the socket uses.
type NotificationOps interface {
	GetUnread(ctx context.Context, userID string) ([]*model.Notification, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkDismissed(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// Authenticator resolves the user behind an upgrade request.
type Authenticator func(r *http.Request) (string, error)

type WSConfig struct {
	SessionBuffer int
	PingInterval  time.Duration
	WriteTimeout  time.Duration
}

// WSHandler serves the notification socket. The user is fixed at upgrade
// time; sessions join the hub on SUBSCRIBE.
type WSHandler struct {
	hub      *Hub
	ops      NotificationOps
	auth     Authenticator
	cfg      WSConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
	now      func() time.Time
}

func NewWSHandler(hub *Hub, ops NotificationOps, auth Authenticator, cfg WSConfig, logger *zap.Logger) *WSHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WSHandler{
		hub:  hub,
		ops:  ops,
		auth: auth,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Identity comes from a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth(r)
	if err != nil {
		h.logger.Warn("Rejected websocket connection", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	session := NewSession(userID, h.cfg.SessionBuffer)
	logger := h.logger.With(
		zap.String("user_id", userID),
		zap.String("session_id", session.ID),
	)
	logger.Info("Websocket connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(conn, session, logger)
	}()

	h.readPump(r.Context(), conn, session, logger)

	h.hub.Unsubscribe(session)
	_ = conn.Close()
	wg.Wait()
	logger.Info("Websocket disconnected")
}

func (h *WSHandler) pongWait() time.Duration {
	return h.cfg.PingInterval + h.cfg.WriteTimeout
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, s *Session, logger *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(h.now().Add(h.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(h.now().Add(h.pongWait()))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(h.now().Add(h.pongWait()))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(s, ErrorMessage{Type: TypeError, Error: "malformed message"}, logger)
			continue
		}
		h.handle(ctx, s, msg, logger)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, s *Session, logger *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
		_ = conn.Close()
	}()

	write := func(payload []byte) bool {
		_ = conn.SetWriteDeadline(h.now().Add(h.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug("Websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				h.now().Add(h.cfg.WriteTimeout))
			return
		case payload := <-s.Replies():
			if !write(payload) {
				return
			}
		case payload := <-s.Pushes():
			if !write(payload) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, h.now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handle(ctx context.Context, s *Session, msg ClientMessage, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch msg.Type {
	case TypeSubscribe:
		// Register before reading so nothing created in between is missed;
		// a notification may then arrive both pushed and in the snapshot.
		h.hub.Subscribe(s)
		unread, err := h.ops.GetUnread(ctx, s.UserID)
		if err != nil {
			logger.Error("Failed to load unread notifications", zap.Error(err))
			h.reply(s, ErrorMessage{Type: TypeError, Error: "failed to load notifications"}, logger)
			return
		}
		h.reply(s, SnapshotMessage{
			Type:          TypeUnreadSnapshot,
			Notifications: unread,
			UnreadCount:   int64(len(unread)),
		}, logger)

	case TypeMarkRead:
		h.single(ctx, s, msg, model.ActionMarkedRead, h.ops.MarkRead, logger)

	case TypeDismiss:
		h.single(ctx, s, msg, model.ActionDismissed, h.ops.MarkDismissed, logger)

	case TypeMarkAllRead:
		count, err := h.ops.MarkAllRead(ctx, s.UserID)
		ack := AckMessage{Type: TypeAck, Action: model.ActionAllRead, Success: err == nil, Count: count}
		if err != nil {
			logger.Error("Failed to mark all read", zap.Error(err))
			ack.Error = "failed to mark all notifications read"
		}
		h.reply(s, ack, logger)

	case TypePing:
		count, err := h.ops.GetUnreadCount(ctx, s.UserID)
		if err != nil {
			logger.Warn("Failed to count unread notifications", zap.Error(err))
		}
		h.reply(s, PongMessage{Type: TypePong, Timestamp: h.now().UTC(), UnreadCount: count}, logger)

	default:
		h.reply(s, ErrorMessage{Type: TypeError, Error: "unknown message type: " + msg.Type}, logger)
	}
}

func (h *WSHandler) single(
	ctx context.Context,
	s *Session,
	msg ClientMessage,
	action model.Action,
	op func(ctx context.Context, id, userID string) (bool, error),
	logger *zap.Logger,
) {
	ack := AckMessage{Type: TypeAck, Action: action, NotificationID: msg.NotificationID}
	if msg.NotificationID == "" {
		ack.Error = "notification_id is required"
		h.reply(s, ack, logger)
		return
	}

	ok, err := op(ctx, msg.NotificationID, s.UserID)
	switch {
	case err != nil:
		logger.Error("Websocket command failed",
			zap.String("action", string(action)),
			zap.String("notification_id", msg.NotificationID),
			zap.Error(err),
		)
		ack.Error = "internal error"
	case !ok:
		ack.Error = "notification not found or access denied"
	default:
		ack.Success = true
	}
	h.reply(s, ack, logger)
}

func (h *WSHandler) reply(s *Session, msg any, logger *zap.Logger) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to encode reply", zap.Error(err))
		return
	}
	if !s.Reply(payload) {
		logger.Debug("Reply dropped, session closed")
	}
}
