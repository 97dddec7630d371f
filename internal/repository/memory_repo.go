package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-service/internal/model"
)

// MemoryNotificationRepository keeps notifications in process memory. It is
// used by tests and by local runs with store.driver=memory.
type MemoryNotificationRepository struct {
	mu     sync.Mutex
	items  map[string]*entry
	seq    uint64
	now    func() time.Time
	logger *zap.Logger
}

type entry struct {
	n   *model.Notification
	seq uint64
}

func NewMemoryNotificationRepository(logger *zap.Logger) *MemoryNotificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryNotificationRepository{
		items:  make(map[string]*entry),
		now:    time.Now,
		logger: logger,
	}
}

func (r *MemoryNotificationRepository) Save(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := n.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}
	stored = r.putLocked(stored)

	r.logger.Debug("Notification saved",
		zap.String("notification_id", stored.ID),
		zap.String("user_id", stored.UserID),
	)
	return stored.Clone(), nil
}

// putLocked stores n unless that would move the stored status backwards.
// read_at and dismissed_at keep their first value.
func (r *MemoryNotificationRepository) putLocked(n *model.Notification) *model.Notification {
	if e, ok := r.items[n.ID]; ok {
		if n.Status.Rank() < e.n.Status.Rank() {
			return e.n
		}
		if e.n.ReadAt != nil {
			n.ReadAt = e.n.ReadAt
		}
		if e.n.DismissedAt != nil {
			n.DismissedAt = e.n.DismissedAt
		}
		n.UserID = e.n.UserID
		n.Type = e.n.Type
		n.CreatedAt = e.n.CreatedAt
		e.n = n
		return n
	}
	r.seq++
	r.items[n.ID] = &entry{n: n, seq: r.seq}
	return n
}

func (r *MemoryNotificationRepository) SaveAll(ctx context.Context, ns []*model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range ns {
		stored := n.Clone()
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = r.now().UTC()
		}
		r.putLocked(stored)
	}
	return nil
}

func (r *MemoryNotificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.n.Clone(), nil
}

func (r *MemoryNotificationRepository) FindPageByUser(ctx context.Context, userID string, page, size int) ([]*model.Notification, int64, error) {
	all, err := r.Find(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))

	start, ok := PageOffset(page, size)
	if !ok || start >= len(all) {
		return []*model.Notification{}, total, nil
	}
	end := min(start+size, len(all))
	return all[start:end], total, nil
}

func (r *MemoryNotificationRepository) FindByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID})
}

func (r *MemoryNotificationRepository) FindByUserAndStatus(ctx context.Context, userID string, status model.Status) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Status: status})
}

func (r *MemoryNotificationRepository) FindByUserAndType(ctx context.Context, userID string, t model.Type) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Type: t})
}

func (r *MemoryNotificationRepository) FindByUserAndPriority(ctx context.Context, userID string, p model.Priority) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Priority: p})
}

func (r *MemoryNotificationRepository) FindByUserSince(ctx context.Context, userID string, after time.Time) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, Since: after})
}

func (r *MemoryNotificationRepository) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{UserID: userID, ActiveAt: now})
}

func (r *MemoryNotificationRepository) FindByRelatedEntity(ctx context.Context, userID, entityID string) ([]*model.Notification, error) {
	all, err := r.Find(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, err
	}
	out := []*model.Notification{}
	for _, n := range all {
		if n.RelatedEntityID == entityID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *MemoryNotificationRepository) FindRecentHighPriorityUnread(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error) {
	return r.Find(ctx, Filter{
		UserID:   userID,
		Status:   model.StatusUnread,
		Priority: model.PriorityHigh,
		Since:    since,
	})
}

func (r *MemoryNotificationRepository) Find(ctx context.Context, f Filter) ([]*model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	matched := make([]*entry, 0)
	for _, e := range r.items {
		if f.matches(e.n) {
			matched = append(matched, &entry{n: e.n.Clone(), seq: e.seq})
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.n.CreatedAt.Equal(b.n.CreatedAt) {
			return a.n.CreatedAt.After(b.n.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]*model.Notification, len(matched))
	for i, e := range matched {
		out[i] = e.n
	}
	return out, nil
}

func (r *MemoryNotificationRepository) CountByUserAndStatus(ctx context.Context, userID string, status model.Status) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, e := range r.items {
		if e.n.UserID == userID && e.n.Status == status {
			count++
		}
	}
	return count, nil
}

// Modify runs fn under the store lock, so concurrent calls for any id are
// serialised.
func (r *MemoryNotificationRepository) Modify(ctx context.Context, id string, fn ModifyFunc) (*model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	working := e.n.Clone()
	write, err := fn(working)
	if err != nil {
		return nil, err
	}
	if write {
		e.n = working.Clone()
	}
	return working, nil
}

func (r *MemoryNotificationRepository) DeleteOwned(ctx context.Context, id, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok || e.n.UserID != userID {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *MemoryNotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, e := range r.items {
		if e.n.CreatedAt.Before(cutoff) {
			delete(r.items, id)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryNotificationRepository) ArchiveDismissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var archived int64
	for _, e := range r.items {
		n := e.n
		if n.Status != model.StatusDismissed || n.DismissedAt == nil || !n.DismissedAt.Before(cutoff) {
			continue
		}
		if n.Archive() {
			archived++
		}
	}
	return archived, nil
}

var _ NotificationStore = (*MemoryNotificationRepository)(nil)
