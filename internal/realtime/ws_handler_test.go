package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notification-service/internal/model"
	"notification-service/internal/repository"
	"notification-service/internal/service"
)

type wsFixture struct {
	server *httptest.Server
	svc    *service.NotificationService
	hub    *Hub
}

// headerAuth trusts X-User-ID; token parsing is covered by the HTTP layer.
func headerAuth(r *http.Request) (string, error) {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id, nil
	}
	return "", errors.New("missing user")
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	logger := zap.NewNop()
	hub := NewHub(logger)
	dispatcher := NewDispatcher(hub, logger, 2, 64)
	svc := service.NewNotificationService(repository.NewMemoryNotificationRepository(logger), dispatcher, logger)
	handler := NewWSHandler(hub, svc, headerAuth, WSConfig{SessionBuffer: 16, PingInterval: time.Second, WriteTimeout: time.Second}, logger)

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		dispatcher.Close()
	})
	return &wsFixture{server: server, svc: svc, hub: hub}
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("X-User-ID", userID)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

// readTypes reads until one message of each wanted type has arrived, in any
// order, and returns the raw payloads keyed by type.
func readTypes(t *testing.T, conn *websocket.Conn, wants ...string) map[string][]byte {
	t.Helper()
	pending := make(map[string]bool, len(wants))
	for _, w := range wants {
		pending[w] = true
	}
	got := make(map[string][]byte, len(wants))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(pending) > 0 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %v: %v", wants, err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if pending[head.Type] {
			delete(pending, head.Type)
			got[head.Type] = data
		}
	}
	return got
}

func readType(t *testing.T, conn *websocket.Conn, want string, out any) {
	t.Helper()
	decode(t, readTypes(t, conn, want)[want], out)
}

func decode(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func waitForSessions(t *testing.T, hub *Hub, userID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SessionCount(userID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("SessionCount(%s) = %d, want %d", userID, hub.SessionCount(userID), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSHandlerRejectsAnonymous(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without identity succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestWSHandlerSubscribeAndPush(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)
	ctx := context.Background()

	existing, err := f.svc.Create(ctx, service.CreateRequest{UserID: "u1", Type: model.TypeNewMessage})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	conn := f.dial(t, "u1")
	send(t, conn, ClientMessage{Type: TypeSubscribe})

	var snapshot SnapshotMessage
	readType(t, conn, TypeUnreadSnapshot, &snapshot)
	if snapshot.UnreadCount != 1 || len(snapshot.Notifications) != 1 || snapshot.Notifications[0].ID != existing.ID {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	waitForSessions(t, f.hub, "u1", 1)

	created, err := f.svc.Create(ctx, service.CreateRequest{UserID: "u1", Type: model.TypeSecurityAlert})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	var pushed NewNotificationMessage
	readType(t, conn, TypeNewNotification, &pushed)
	if pushed.Notification.ID != created.ID {
		t.Errorf("pushed %s, want %s", pushed.Notification.ID, created.ID)
	}
}

func TestWSHandlerCommands(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)
	ctx := context.Background()

	mine, _ := f.svc.Create(ctx, service.CreateRequest{UserID: "u1", Type: model.TypeNewMessage})
	theirs, _ := f.svc.Create(ctx, service.CreateRequest{UserID: "u2", Type: model.TypeNewMessage})

	conn := f.dial(t, "u1")
	send(t, conn, ClientMessage{Type: TypeSubscribe})
	var snapshot SnapshotMessage
	readType(t, conn, TypeUnreadSnapshot, &snapshot)

	t.Run("mark read acks and broadcasts the update", func(t *testing.T) {
		send(t, conn, ClientMessage{Type: TypeMarkRead, NotificationID: mine.ID})
		got := readTypes(t, conn, TypeAck, TypeNotificationUpdate)

		var ack AckMessage
		decode(t, got[TypeAck], &ack)
		if !ack.Success || ack.Action != model.ActionMarkedRead || ack.NotificationID != mine.ID {
			t.Errorf("ack = %+v", ack)
		}

		var update UpdateMessage
		decode(t, got[TypeNotificationUpdate], &update)
		if update.Action != model.ActionMarkedRead || update.NotificationID != mine.ID {
			t.Errorf("update = %+v", update)
		}
	})

	t.Run("another user's notification is refused", func(t *testing.T) {
		send(t, conn, ClientMessage{Type: TypeDismiss, NotificationID: theirs.ID})

		var ack AckMessage
		readType(t, conn, TypeAck, &ack)
		if ack.Success || ack.Error == "" {
			t.Errorf("ack = %+v, want failure", ack)
		}
		got, _ := f.svc.GetByID(ctx, theirs.ID, "u2")
		if got.Status != model.StatusUnread {
			t.Errorf("foreign notification status = %s", got.Status)
		}
	})

	t.Run("missing id is refused", func(t *testing.T) {
		send(t, conn, ClientMessage{Type: TypeMarkRead})
		var ack AckMessage
		readType(t, conn, TypeAck, &ack)
		if ack.Success {
			t.Errorf("ack = %+v, want failure", ack)
		}
	})

	t.Run("ping reports unread count", func(t *testing.T) {
		if _, err := f.svc.Create(ctx, service.CreateRequest{UserID: "u1", Type: model.TypeNewMessage}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		send(t, conn, ClientMessage{Type: TypePing})

		var pong PongMessage
		readType(t, conn, TypePong, &pong)
		if pong.UnreadCount != 1 || pong.Timestamp.IsZero() {
			t.Errorf("pong = %+v", pong)
		}
	})

	t.Run("mark all read sends one bulk update", func(t *testing.T) {
		send(t, conn, ClientMessage{Type: TypeMarkAllRead})
		got := readTypes(t, conn, TypeAck, TypeNotificationUpdate)

		var ack AckMessage
		decode(t, got[TypeAck], &ack)
		if !ack.Success || ack.Action != model.ActionAllRead || ack.Count != 1 {
			t.Errorf("ack = %+v", ack)
		}

		var update UpdateMessage
		decode(t, got[TypeNotificationUpdate], &update)
		if update.Action != model.ActionAllRead || update.NotificationID != "" {
			t.Errorf("update = %+v", update)
		}
	})

	t.Run("unknown and malformed messages get an error", func(t *testing.T) {
		send(t, conn, ClientMessage{Type: "EXPLODE"})
		var e ErrorMessage
		readType(t, conn, TypeError, &e)
		if !strings.Contains(e.Error, "EXPLODE") {
			t.Errorf("error = %q", e.Error)
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		readType(t, conn, TypeError, &e)
	})
}

func TestWSHandlerUnsubscribesOnDisconnect(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)

	conn := f.dial(t, "u1")
	send(t, conn, ClientMessage{Type: TypeSubscribe})
	var snapshot SnapshotMessage
	readType(t, conn, TypeUnreadSnapshot, &snapshot)
	waitForSessions(t, f.hub, "u1", 1)

	_ = conn.Close()
	waitForSessions(t, f.hub, "u1", 0)
}
