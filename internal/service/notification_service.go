package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"notification-service/internal/model"
	"notification-service/internal/repository"
	"notification-service/pkg/metrics"
)

var errNotOwned = errors.New("notification owned by another user")

// Delivery pushes events to live client sessions. Implementations must not
// block on slow clients.
type Delivery interface {
	PublishNew(ctx context.Context, userID string, n *model.Notification) error
	PublishUpdate(ctx context.Context, userID string, change model.StateChange) error
}

type CreateRequest struct {
	UserID          string         `json:"user_id"`
	Type            model.Type     `json:"type"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Priority        model.Priority `json:"priority"`
	RelatedEntityID string         `json:"related_entity_id,omitempty"`
	ActionURL       string         `json:"action_url,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type Page struct {
	Items      []*model.Notification `json:"items"`
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
	Total      int64                 `json:"total"`
	TotalPages int                   `json:"total_pages"`
}

type Option func(*NotificationService)

func WithClock(now func() time.Time) Option {
	return func(s *NotificationService) { s.now = now }
}

func WithRecentWindow(d time.Duration) Option {
	return func(s *NotificationService) {
		if d > 0 {
			s.recentWindow = d
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(s *NotificationService) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithPageSize(def, maxSize int) Option {
	return func(s *NotificationService) {
		if def > 0 {
			s.defaultPageSize = def
		}
		if maxSize > 0 {
			s.maxPageSize = maxSize
		}
	}
}

// NotificationService owns creation and state changes. Every user-facing
// method takes the acting user explicitly and treats "not yours" like
// "does not exist".
type NotificationService struct {
	store    repository.NotificationStore
	delivery Delivery
	logger   *zap.Logger

	now             func() time.Time
	recentWindow    time.Duration
	retention       time.Duration
	defaultPageSize int
	maxPageSize     int
}

func NewNotificationService(store repository.NotificationStore, delivery Delivery, logger *zap.Logger, opts ...Option) *NotificationService {
	s := &NotificationService{
		store:           store,
		delivery:        delivery,
		logger:          logger,
		now:             time.Now,
		recentWindow:    24 * time.Hour,
		retention:       30 * 24 * time.Hour,
		defaultPageSize: 20,
		maxPageSize:     100,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultPageSize > s.maxPageSize {
		s.defaultPageSize = s.maxPageSize
	}
	return s
}

// Create fills type defaults, validates and persists the notification, then
// hands it to Delivery. Delivery failures are logged and never returned.
func (s *NotificationService) Create(ctx context.Context, req CreateRequest) (*model.Notification, error) {
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	n := &model.Notification{
		UserID:          strings.TrimSpace(req.UserID),
		Type:            req.Type,
		Title:           req.Title,
		Message:         req.Message,
		Status:          model.StatusUnread,
		Priority:        priority,
		CreatedAt:       s.now().UTC(),
		ExpiresAt:       req.ExpiresAt,
		RelatedEntityID: req.RelatedEntityID,
		ActionURL:       req.ActionURL,
		Metadata:        req.Metadata,
	}
	n.ApplyTypeDefaults()
	if err := n.Validate(); err != nil {
		s.logger.Warn("Rejected notification",
			zap.String("user_id", req.UserID),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		return nil, err
	}

	saved, err := s.store.Save(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	metrics.IncrementCreated(string(saved.Type), string(saved.Priority))
	s.logger.Info("Notification created",
		zap.String("notification_id", saved.ID),
		zap.String("user_id", saved.UserID),
		zap.String("type", string(saved.Type)),
		zap.String("priority", string(saved.Priority)),
	)

	s.deliver(saved.UserID, "new", func() error {
		return s.delivery.PublishNew(ctx, saved.UserID, saved)
	})
	return saved, nil
}

// deliver runs publish and swallows both errors and panics.
func (s *NotificationService) deliver(userID, kind string, publish func() error) {
	if s.delivery == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrementDeliveryFailure("panic")
			s.logger.Error("Delivery panic recovered",
				zap.String("user_id", userID),
				zap.String("kind", kind),
				zap.Any("panic", r),
			)
		}
	}()

	if err := publish(); err != nil {
		metrics.IncrementDeliveryFailure("publish")
		s.logger.Warn("Realtime delivery failed",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) GetPage(ctx context.Context, userID string, page, size int) (*Page, error) {
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = s.defaultPageSize
	case size > s.maxPageSize:
		size = s.maxPageSize
	}
	// Pages past the last offset an int can hold are empty anyway.
	if page > math.MaxInt/size {
		page = math.MaxInt / size
	}

	items, total, err := s.store.FindPageByUser(ctx, userID, page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification page: %w", err)
	}
	return &Page{
		Items:      items,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

func (s *NotificationService) GetAll(ctx context.Context, userID string) ([]*model.Notification, error) {
	return s.list(s.store.FindByUser(ctx, userID))
}

func (s *NotificationService) GetUnread(ctx context.Context, userID string) ([]*model.Notification, error) {
	return s.list(s.store.FindByUserAndStatus(ctx, userID, model.StatusUnread))
}

func (s *NotificationService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.CountByUserAndStatus(ctx, userID, model.StatusUnread)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// GetRecent returns notifications created within window, or the configured
// recent window when window <= 0.
func (s *NotificationService) GetRecent(ctx context.Context, userID string, window time.Duration) ([]*model.Notification, error) {
	if window <= 0 {
		window = s.recentWindow
	}
	return s.list(s.store.FindByUserSince(ctx, userID, s.now().Add(-window)))
}

func (s *NotificationService) GetActive(ctx context.Context, userID string) ([]*model.Notification, error) {
	return s.list(s.store.FindActiveByUser(ctx, userID, s.now()))
}

func (s *NotificationService) GetByType(ctx context.Context, userID string, t model.Type) ([]*model.Notification, error) {
	return s.list(s.store.FindByUserAndType(ctx, userID, t))
}

func (s *NotificationService) GetByPriority(ctx context.Context, userID string, p model.Priority) ([]*model.Notification, error) {
	return s.list(s.store.FindByUserAndPriority(ctx, userID, p))
}

func (s *NotificationService) GetByRelatedEntity(ctx context.Context, userID, entityID string) ([]*model.Notification, error) {
	return s.list(s.store.FindByRelatedEntity(ctx, userID, entityID))
}

func (s *NotificationService) GetRecentHighPriorityUnread(ctx context.Context, userID string) ([]*model.Notification, error) {
	return s.list(s.store.FindRecentHighPriorityUnread(ctx, userID, s.now().Add(-s.recentWindow)))
}

// List applies f for userID; f.UserID is always overwritten.
func (s *NotificationService) List(ctx context.Context, userID string, f repository.Filter) ([]*model.Notification, error) {
	f.UserID = userID
	return s.list(s.store.Find(ctx, f))
}

func (s *NotificationService) list(ns []*model.Notification, err error) ([]*model.Notification, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return ns, nil
}

// GetByID returns repository.ErrNotFound when the notification is missing or
// belongs to someone else.
func (s *NotificationService) GetByID(ctx context.Context, id, userID string) (*model.Notification, error) {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	if n.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return n, nil
}

// MarkRead reports false when the notification is missing or not owned by
// userID. Re-reading an already read or dismissed notification succeeds
// without writing or publishing.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	return s.transition(ctx, id, userID, model.ActionMarkedRead, func(n *model.Notification, now time.Time) bool {
		return n.MarkRead(now)
	})
}

// MarkDismissed behaves like MarkRead for the DISMISSED transition.
func (s *NotificationService) MarkDismissed(ctx context.Context, id, userID string) (bool, error) {
	return s.transition(ctx, id, userID, model.ActionDismissed, func(n *model.Notification, now time.Time) bool {
		return n.MarkDismissed(now)
	})
}

func (s *NotificationService) transition(
	ctx context.Context,
	id, userID string,
	action model.Action,
	apply func(n *model.Notification, now time.Time) bool,
) (bool, error) {
	changed := false
	updated, err := s.store.Modify(ctx, id, func(n *model.Notification) (bool, error) {
		if n.UserID != userID {
			return false, errNotOwned
		}
		changed = apply(n, s.now().UTC())
		return changed, nil
	})
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, errNotOwned) {
		s.logger.Debug("Notification not found or not owned",
			zap.String("notification_id", id),
			zap.String("user_id", userID),
			zap.String("action", string(action)),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update notification: %w", err)
	}
	if !changed {
		return true, nil
	}

	metrics.IncrementTransition(string(updated.Status), 1)
	s.logger.Info("Notification status changed",
		zap.String("notification_id", id),
		zap.String("user_id", userID),
		zap.String("status", string(updated.Status)),
	)

	s.deliver(userID, string(action), func() error {
		return s.delivery.PublishUpdate(ctx, userID, model.StateChange{
			Action:         action,
			NotificationID: updated.ID,
			Notification:   updated,
		})
	})
	return true, nil
}

// MarkAllRead marks every unread notification of userID as read and
// publishes a single ALL_READ event. It returns the number marked.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	unread, err := s.store.FindByUserAndStatus(ctx, userID, model.StatusUnread)
	if err != nil {
		return 0, fmt.Errorf("failed to load unread notifications: %w", err)
	}

	now := s.now().UTC()
	changed := make([]*model.Notification, 0, len(unread))
	for _, n := range unread {
		if n.MarkRead(now) {
			changed = append(changed, n)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	if err := s.store.SaveAll(ctx, changed); err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	metrics.IncrementTransition(string(model.StatusRead), len(changed))
	s.logger.Info("Marked all notifications read",
		zap.String("user_id", userID),
		zap.Int("count", len(changed)),
	)

	s.deliver(userID, string(model.ActionAllRead), func() error {
		return s.delivery.PublishUpdate(ctx, userID, model.StateChange{
			Action: model.ActionAllRead,
			Count:  len(changed),
		})
	})
	return len(changed), nil
}

// Delete removes a notification owned by userID and publishes DELETED.
func (s *NotificationService) Delete(ctx context.Context, id, userID string) (bool, error) {
	deleted, err := s.store.DeleteOwned(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete notification: %w", err)
	}
	if !deleted {
		return false, nil
	}

	s.logger.Info("Notification deleted",
		zap.String("notification_id", id),
		zap.String("user_id", userID),
	)
	s.deliver(userID, string(model.ActionDeleted), func() error {
		return s.delivery.PublishUpdate(ctx, userID, model.StateChange{
			Action:         model.ActionDeleted,
			NotificationID: id,
		})
	})
	return true, nil
}

// Cleanup deletes every notification created more than olderThan ago,
// regardless of owner or status. olderThan <= 0 uses the configured retention.
func (s *NotificationService) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.retention
	}
	cutoff := s.now().Add(-olderThan)

	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up notifications: %w", err)
	}

	metrics.AddCleanupAffected("deleted", removed)
	s.logger.Info("Notification cleanup finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// ArchiveDismissed archives notifications dismissed more than olderThan ago.
func (s *NotificationService) ArchiveDismissed(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("archive threshold must be positive")
	}
	cutoff := s.now().Add(-olderThan)

	archived, err := s.store.ArchiveDismissedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive notifications: %w", err)
	}

	metrics.AddCleanupAffected("archived", archived)
	metrics.IncrementTransition(string(model.StatusArchived), int(archived))
	s.logger.Info("Dismissed notifications archived",
		zap.Time("cutoff", cutoff),
		zap.Int64("archived", archived),
	)
	return archived, nil
}
