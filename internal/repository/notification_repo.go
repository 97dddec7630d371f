package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notification-service/internal/model"
	"notification-service/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	return migration.Run(ctx, db, migrationsFS, "migrations", logger)
}

const notificationColumns = `
	id::text, user_id, type, title, message, status, priority, created_at,
	read_at, dismissed_at, expires_at,
	COALESCE(related_entity_id, ''), COALESCE(action_url, ''), metadata`

type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	if err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Status,
		&n.Priority,
		&n.CreatedAt,
		&n.ReadAt,
		&n.DismissedAt,
		&n.ExpiresAt,
		&n.RelatedEntityID,
		&n.ActionURL,
		&n.Metadata,
	); err != nil {
		return nil, err
	}
	return &n, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// validID reports whether id can be compared against the uuid column without
// a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var upsertSQL = `
	INSERT INTO notifications (
		id, user_id, type, title, message, status, priority, created_at,
		read_at, dismissed_at, expires_at, related_entity_id, action_url, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		title = EXCLUDED.title,
		message = EXCLUDED.message,
		read_at = COALESCE(notifications.read_at, EXCLUDED.read_at),
		dismissed_at = COALESCE(notifications.dismissed_at, EXCLUDED.dismissed_at),
		expires_at = EXCLUDED.expires_at,
		related_entity_id = EXCLUDED.related_entity_id,
		action_url = EXCLUDED.action_url,
		metadata = EXCLUDED.metadata
	WHERE ` + statusRank("EXCLUDED.status") + ` >= ` + statusRank("notifications.status") + `
	RETURNING ` + notificationColumns

// statusRank mirrors model.Status.Rank in SQL.
func statusRank(col string) string {
	return "(CASE " + col + " WHEN 'UNREAD' THEN 0 WHEN 'READ' THEN 1 WHEN 'DISMISSED' THEN 2 ELSE 3 END)"
}

func upsertArgs(n *model.Notification) []any {
	return []any{
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Status,
		n.Priority,
		n.CreatedAt,
		n.ReadAt,
		n.DismissedAt,
		n.ExpiresAt,
		nullIfEmpty(n.RelatedEntityID),
		nullIfEmpty(n.ActionURL),
		metadataOrEmpty(n.Metadata),
	}
}

// Save inserts n, assigning ID and CreatedAt when missing, or updates the
// mutable columns of an existing row. user_id, type and created_at never
// change, and an update that would move status backwards is skipped.
func (r *NotificationRepository) Save(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	toSave := n.Clone()
	if toSave.ID == "" {
		toSave.ID = uuid.NewString()
	}
	if toSave.CreatedAt.IsZero() {
		toSave.CreatedAt = time.Now().UTC()
	}

	r.logger.Debug("Saving notification",
		zap.String("notification_id", toSave.ID),
		zap.String("user_id", toSave.UserID),
		zap.String("type", string(toSave.Type)),
		zap.String("status", string(toSave.Status)),
	)

	saved, err := scanNotification(r.db.QueryRow(ctx, upsertSQL, upsertArgs(toSave)...))
	if errors.Is(err, pgx.ErrNoRows) {
		// The stored row is further along its lifecycle; keep it.
		return r.FindByID(ctx, toSave.ID)
	}
	if err != nil {
		r.logger.Error("Failed to save notification",
			zap.String("notification_id", toSave.ID),
			zap.String("user_id", toSave.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}
	return saved, nil
}

// SaveAll writes every notification in one transaction.
func (r *NotificationRepository) SaveAll(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, n := range ns {
		toSave := n.Clone()
		if toSave.ID == "" {
			toSave.ID = uuid.NewString()
		}
		if toSave.CreatedAt.IsZero() {
			toSave.CreatedAt = time.Now().UTC()
		}
		batch.Queue(upsertSQL, upsertArgs(toSave)...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		r.logger.Error("Failed to save notification batch",
			zap.Int("count", len(ns)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save notifications: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit notifications: %w", err)
	}

	r.logger.Debug("Notification batch saved", zap.Int("count", len(ns)))
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to find notification",
			zap.String("notification_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) FindPageByUser(ctx context.Context, userID string, page, size int) ([]*model.Notification, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		r.logger.Error("Failed to count notifications",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	offset, ok := PageOffset(page, size)
	if !ok || int64(offset) >= total {
		return []*model.Notification{}, total, nil
	}

	items, err := r.query(ctx, "find_page",
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, size, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *NotificationRepository) FindByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID})
}

func (r *NotificationRepository) FindByUserAndStatus(ctx context.Context, userID string, status model.Status) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Status: status})
}

func (r *NotificationRepository) FindByUserAndType(ctx context.Context, userID string, t model.Type) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Type: t})
}

func (r *NotificationRepository) FindByUserAndPriority(ctx context.Context, userID string, p model.Priority) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Priority: p})
}

func (r *NotificationRepository) FindByUserSince(ctx context.Context, userID string, after time.Time) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Since: after})
}

func (r *NotificationRepository) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, ActiveAt: now})
}

func (r *NotificationRepository) FindByRelatedEntity(ctx context.Context, userID, entityID string) ([]*model.Notification, error) {
	return r.query(ctx, "find_related",
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1 AND related_entity_id = $2
		 ORDER BY created_at DESC, id DESC`,
		userID, entityID,
	)
}

func (r *NotificationRepository) FindRecentHighPriorityUnread(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{
		UserID:   userID,
		Status:   model.StatusUnread,
		Priority: model.PriorityHigh,
		Since:    since,
	})
}

// Find builds a WHERE clause from the non-zero filter fields.
func (r *NotificationRepository) Find(ctx context.Context, f Filter) ([]*model.Notification, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if !f.Since.IsZero() {
		add("created_at > $%d", f.Since)
	}
	if !f.ActiveAt.IsZero() {
		add("(expires_at IS NULL OR expires_at >= $%d)", f.ActiveAt)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	return r.query(ctx, "find", query, args...)
}

func (r *NotificationRepository) query(ctx context.Context, op, query string, args ...any) ([]*model.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query notifications",
			zap.String("operation", op),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := []*model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			r.logger.Error("Failed to scan notification row",
				zap.String("operation", op),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

func (r *NotificationRepository) CountByUserAndStatus(ctx context.Context, userID string, status model.Status) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND status = $2`,
		userID, status,
	).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count notifications",
			zap.String("user_id", userID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// Modify locks the row with SELECT ... FOR UPDATE, hands it to fn and writes
// the result back in the same transaction.
func (r *NotificationRepository) Modify(ctx context.Context, id string, fn ModifyFunc) (*model.Notification, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := scanNotification(tx.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 FOR UPDATE`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock notification: %w", err)
	}

	write, err := fn(n)
	if err != nil {
		return nil, err
	}
	if !write {
		return n, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE notifications
		SET status = $2, read_at = $3, dismissed_at = $4
		WHERE id = $1`,
		n.ID, n.Status, n.ReadAt, n.DismissedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update notification",
			zap.String("notification_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit notification update: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) DeleteOwned(ctx context.Context, id, userID string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		r.logger.Error("Failed to delete notification",
			zap.String("notification_id", id),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to delete notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		r.logger.Error("Failed to delete old notifications",
			zap.Time("cutoff", cutoff),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	r.logger.Info("Old notifications deleted",
		zap.Time("cutoff", cutoff),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) ArchiveDismissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'ARCHIVED'
		WHERE status = 'DISMISSED' AND dismissed_at < $1`,
		cutoff,
	)
	if err != nil {
		r.logger.Error("Failed to archive dismissed notifications",
			zap.Time("cutoff", cutoff),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to archive notifications: %w", err)
	}
	r.logger.Info("Dismissed notifications archived",
		zap.Time("cutoff", cutoff),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

var _ NotificationStore = (*NotificationRepository)(nil)
