package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"notification-service/internal/model"
)

// ErrNotFound is returned when a notification does not exist. Callers that
// scope by owner collapse "not yours" into it as well.
var ErrNotFound = errors.New("notification not found")

// Filter narrows Find. Zero fields match everything.
type Filter struct {
	UserID   string
	Status   model.Status
	Type     model.Type
	Priority model.Priority
	// Since keeps notifications created strictly after it.
	Since time.Time
	// ActiveAt, when set, drops notifications expired at that instant.
	ActiveAt time.Time
}

func (f Filter) matches(n *model.Notification) bool {
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if !f.Since.IsZero() && !n.CreatedAt.After(f.Since) {
		return false
	}
	if !f.ActiveAt.IsZero() && n.IsExpired(f.ActiveAt) {
		return false
	}
	return true
}

// ModifyFunc mutates the freshest copy of a notification and reports whether
// it should be written back.
type ModifyFunc func(n *model.Notification) (bool, error)

// NotificationStore persists notifications. List results are ordered newest
// first by created_at.
type NotificationStore interface {
	Save(ctx context.Context, n *model.Notification) (*model.Notification, error)
	SaveAll(ctx context.Context, ns []*model.Notification) error
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	FindPageByUser(ctx context.Context, userID string, page, size int) ([]*model.Notification, int64, error)
	FindByUser(ctx context.Context, userID string) ([]*model.Notification, error)
	FindByUserAndStatus(ctx context.Context, userID string, status model.Status) ([]*model.Notification, error)
	FindByUserAndType(ctx context.Context, userID string, t model.Type) ([]*model.Notification, error)
	FindByUserAndPriority(ctx context.Context, userID string, p model.Priority) ([]*model.Notification, error)
	FindByUserSince(ctx context.Context, userID string, after time.Time) ([]*model.Notification, error)
	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Notification, error)
	FindByRelatedEntity(ctx context.Context, userID, entityID string) ([]*model.Notification, error)
	FindRecentHighPriorityUnread(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error)
	Find(ctx context.Context, f Filter) ([]*model.Notification, error)
	CountByUserAndStatus(ctx context.Context, userID string, status model.Status) (int64, error)
	Modify(ctx context.Context, id string, fn ModifyFunc) (*model.Notification, error)
	DeleteOwned(ctx context.Context, id, userID string) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ArchiveDismissedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PageOffset returns the index of the first row of page. It reports false
// for a negative page, a non-positive size, or an offset that overflows int.
func PageOffset(page, size int) (int, bool) {
	if page < 0 || size <= 0 || page > math.MaxInt/size {
		return 0, false
	}
	return page * size, true
}
