package realtime

import (
	"time"

	"notification-service/internal/model"
)

// Client → server message types.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeMarkRead    = "MARK_READ"
	TypeDismiss     = "DISMISS"
	TypeMarkAllRead = "MARK_ALL_READ"
	TypePing        = "PING"
)

// Server → client message types.
const (
	TypeNewNotification    = "NEW_NOTIFICATION"
	TypeNotificationUpdate = "NOTIFICATION_UPDATE"
	TypeUnreadSnapshot     = "UNREAD_SNAPSHOT"
	TypeAck                = "ACK"
	TypePong               = "PONG"
	TypeError              = "ERROR"
)

type ClientMessage struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id,omitempty"`
}

type NewNotificationMessage struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification"`
}

// UpdateMessage carries a model.StateChange. Clients re-fetch on ALL_READ.
type UpdateMessage struct {
	Type           string              `json:"type"`
	Action         model.Action        `json:"action"`
	NotificationID string              `json:"notification_id,omitempty"`
	Notification   *model.Notification `json:"notification,omitempty"`
	Count          int                 `json:"count,omitempty"`
}

type SnapshotMessage struct {
	Type          string                `json:"type"`
	Notifications []*model.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unread_count"`
}

type AckMessage struct {
	Type           string       `json:"type"`
	Action         model.Action `json:"action"`
	NotificationID string       `json:"notification_id,omitempty"`
	Success        bool         `json:"success"`
	Count          int          `json:"count,omitempty"`
	Error          string       `json:"error,omitempty"`
}

type PongMessage struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	UnreadCount int64     `json:"unread_count"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newUpdateMessage(change model.StateChange) UpdateMessage {
	return UpdateMessage{
		Type:           TypeNotificationUpdate,
		Action:         change.Action,
		NotificationID: change.NotificationID,
		Notification:   change.Notification,
		Count:          change.Count,
	}
}
