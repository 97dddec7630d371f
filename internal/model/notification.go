package model

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

var ErrInvalidNotification = errors.New("invalid notification")

type Status string

const (
	StatusUnread    Status = "UNREAD"
	StatusRead      Status = "READ"
	StatusDismissed Status = "DISMISSED"
	StatusArchived  Status = "ARCHIVED"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusUnread, StatusRead, StatusDismissed, StatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidNotification, s)
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// ParsePriority returns PriorityMedium for an empty string.
func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityMedium, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, s)
	}
	return p, nil
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Notification struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Type            Type           `json:"type"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Status          Status         `json:"status"`
	Priority        Priority       `json:"priority"`
	CreatedAt       time.Time      `json:"created_at"`
	ReadAt          *time.Time     `json:"read_at,omitempty"`
	DismissedAt     *time.Time     `json:"dismissed_at,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	RelatedEntityID string         `json:"related_entity_id,omitempty"`
	ActionURL       string         `json:"action_url,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no pointers or maps with n.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.ReadAt = cloneTime(n.ReadAt)
	c.DismissedAt = cloneTime(n.DismissedAt)
	c.ExpiresAt = cloneTime(n.ExpiresAt)
	if n.Metadata != nil {
		c.Metadata = maps.Clone(n.Metadata)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
