package model

import (
	"fmt"
	"strings"
	"time"
)

// transitions lists the targets reachable from each status. Re-applying the
// current status is handled separately as a no-op.
var transitions = map[Status][]Status{
	StatusUnread:    {StatusRead, StatusDismissed, StatusArchived},
	StatusRead:      {StatusDismissed, StatusArchived},
	StatusDismissed: {StatusArchived},
	StatusArchived:  nil,
}

// Rank orders statuses along the lifecycle. A store never replaces a status
// with one of lower rank.
func (s Status) Rank() int {
	switch s {
	case StatusUnread:
		return 0
	case StatusRead:
		return 1
	case StatusDismissed:
		return 2
	case StatusArchived:
		return 3
	}
	return -1
}

// CanTransition reports whether from → to is a state change the lifecycle allows.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarkRead moves an UNREAD notification to READ and stamps ReadAt once.
// It reports whether anything changed.
func (n *Notification) MarkRead(now time.Time) bool {
	if !CanTransition(n.Status, StatusRead) {
		return false
	}
	n.Status = StatusRead
	if n.ReadAt == nil {
		n.ReadAt = &now
	}
	return true
}

// MarkDismissed moves UNREAD or READ to DISMISSED. ReadAt is left as is.
func (n *Notification) MarkDismissed(now time.Time) bool {
	if !CanTransition(n.Status, StatusDismissed) {
		return false
	}
	n.Status = StatusDismissed
	if n.DismissedAt == nil {
		n.DismissedAt = &now
	}
	return true
}

// Archive is reserved for maintenance jobs.
func (n *Notification) Archive() bool {
	if !CanTransition(n.Status, StatusArchived) {
		return false
	}
	n.Status = StatusArchived
	return true
}

func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

func (n *Notification) IsActive(now time.Time) bool {
	return !n.IsExpired(now)
}

// ApplyTypeDefaults fills a blank title or message from the type registry.
func (n *Notification) ApplyTypeDefaults() {
	info, ok := LookupType(n.Type)
	if !ok {
		return
	}
	if strings.TrimSpace(n.Title) == "" {
		n.Title = info.DefaultTitle
	}
	if strings.TrimSpace(n.Message) == "" {
		n.Message = info.DefaultMessage
	}
}

// Validate checks the fields every stored notification must carry.
func (n *Notification) Validate() error {
	switch {
	case strings.TrimSpace(n.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidNotification)
	case strings.TrimSpace(string(n.Type)) == "":
		return fmt.Errorf("%w: type is required", ErrInvalidNotification)
	case strings.TrimSpace(n.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	case strings.TrimSpace(n.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidNotification)
	}
	if _, ok := LookupType(n.Type); !ok {
		return fmt.Errorf("%w: %w %q", ErrInvalidNotification, ErrUnknownType, n.Type)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, n.Priority)
	}
	if _, err := ParseStatus(string(n.Status)); err != nil {
		return err
	}
	return nil
}
