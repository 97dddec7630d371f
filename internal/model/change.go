package model

// Action tags a realtime state-change event.
type Action string

const (
	ActionMarkedRead Action = "MARKED_READ"
	ActionDismissed  Action = "DISMISSED"
	ActionAllRead    Action = "ALL_READ"
	ActionDeleted    Action = "DELETED"
)

// StateChange describes an update pushed to a user's live sessions.
// Single-item actions carry the notification; ALL_READ carries only the
// number of affected rows and DELETED only the id.
type StateChange struct {
	Action         Action        `json:"action"`
	NotificationID string        `json:"notification_id,omitempty"`
	Notification   *Notification `json:"notification,omitempty"`
	Count          int           `json:"count,omitempty"`
}

func (c StateChange) IsBulk() bool {
	return c.Action == ActionAllRead
}
