package repository

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"notification-service/internal/model"
)

// base is truncated to microseconds so PostgreSQL round trips compare equal.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newItem(userID string, createdAt time.Time) *model.Notification {
	return &model.Notification{
		UserID:    userID,
		Type:      model.TypeNewMessage,
		Title:     "New Message",
		Message:   "hello",
		Status:    model.StatusUnread,
		Priority:  model.PriorityMedium,
		CreatedAt: createdAt,
		Metadata:  map[string]any{"source": "test"},
	}
}

func mustSave(t *testing.T, s NotificationStore, n *model.Notification) *model.Notification {
	t.Helper()
	saved, err := s.Save(context.Background(), n)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return saved
}

func ids(ns []*model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func equalIDs(got []*model.Notification, want ...*model.Notification) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			return false
		}
	}
	return true
}

// runStoreContract exercises behaviour every NotificationStore must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) NotificationStore) {
	ctx := context.Background()

	t.Run("save assigns id and keeps fields", func(t *testing.T) {
		s := newStore(t)
		saved := mustSave(t, s, newItem("u1", base))
		if saved.ID == "" {
			t.Fatal("Save() did not assign an id")
		}

		got, err := s.FindByID(ctx, saved.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got.UserID != "u1" || got.Status != model.StatusUnread || !got.CreatedAt.Equal(base) {
			t.Errorf("FindByID() = %+v", got)
		}
		if got.Metadata["source"] != "test" {
			t.Errorf("Metadata = %v", got.Metadata)
		}
	})

	t.Run("find by id reports not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.FindByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByID() error = %v, want ErrNotFound", err)
		}
		if _, err := s.FindByID(ctx, "not-an-id"); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByID(malformed) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("page is newest first with total", func(t *testing.T) {
		s := newStore(t)
		older := mustSave(t, s, newItem("u1", base))
		middle := mustSave(t, s, newItem("u1", base.Add(time.Minute)))
		newer := mustSave(t, s, newItem("u1", base.Add(2*time.Minute)))
		mustSave(t, s, newItem("u2", base.Add(3*time.Minute)))

		page0, total, err := s.FindPageByUser(ctx, "u1", 0, 2)
		if err != nil {
			t.Fatalf("FindPageByUser() error = %v", err)
		}
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		if !equalIDs(page0, newer, middle) {
			t.Errorf("page 0 = %v", ids(page0))
		}

		page1, _, err := s.FindPageByUser(ctx, "u1", 1, 2)
		if err != nil {
			t.Fatalf("FindPageByUser() error = %v", err)
		}
		if !equalIDs(page1, older) {
			t.Errorf("page 1 = %v", ids(page1))
		}

		beyond, _, err := s.FindPageByUser(ctx, "u1", 5, 2)
		if err != nil || len(beyond) != 0 {
			t.Errorf("page 5 = %v, %v", ids(beyond), err)
		}

		huge, total, err := s.FindPageByUser(ctx, "u1", math.MaxInt/2+1, 2)
		if err != nil || huge == nil || len(huge) != 0 || total != 3 {
			t.Errorf("overflowing page = %v, total %d, %v; want empty with total 3", ids(huge), total, err)
		}
	})

	t.Run("status type priority and since filters", func(t *testing.T) {
		s := newStore(t)
		a := newItem("u1", base)
		a.Status = model.StatusRead
		a.Type = model.TypeSecurityAlert
		a.Priority = model.PriorityHigh
		a = mustSave(t, s, a)
		b := mustSave(t, s, newItem("u1", base.Add(time.Hour)))

		got, _ := s.FindByUserAndStatus(ctx, "u1", model.StatusUnread)
		if !equalIDs(got, b) {
			t.Errorf("by status = %v", ids(got))
		}
		got, _ = s.FindByUserAndType(ctx, "u1", model.TypeSecurityAlert)
		if !equalIDs(got, a) {
			t.Errorf("by type = %v", ids(got))
		}
		got, _ = s.FindByUserAndPriority(ctx, "u1", model.PriorityHigh)
		if !equalIDs(got, a) {
			t.Errorf("by priority = %v", ids(got))
		}
		got, _ = s.FindByUserSince(ctx, "u1", base)
		if !equalIDs(got, b) {
			t.Errorf("since = %v", ids(got))
		}

		count, err := s.CountByUserAndStatus(ctx, "u1", model.StatusUnread)
		if err != nil || count != 1 {
			t.Errorf("CountByUserAndStatus() = %d, %v", count, err)
		}
	})

	t.Run("active excludes expired", func(t *testing.T) {
		s := newStore(t)
		expired := newItem("u1", base)
		past := base.Add(time.Hour)
		expired.ExpiresAt = &past
		expired = mustSave(t, s, expired)

		live := newItem("u1", base.Add(time.Minute))
		future := base.Add(48 * time.Hour)
		live.ExpiresAt = &future
		live = mustSave(t, s, live)
		forever := mustSave(t, s, newItem("u1", base.Add(2*time.Minute)))

		now := base.Add(2 * time.Hour)
		active, err := s.FindActiveByUser(ctx, "u1", now)
		if err != nil {
			t.Fatalf("FindActiveByUser() error = %v", err)
		}
		if !equalIDs(active, forever, live) {
			t.Errorf("active = %v", ids(active))
		}

		all, _ := s.FindByUser(ctx, "u1")
		if !equalIDs(all, forever, live, expired) {
			t.Errorf("all = %v", ids(all))
		}
	})

	t.Run("related entity is scoped to the user", func(t *testing.T) {
		s := newStore(t)
		mine := newItem("u1", base)
		mine.RelatedEntityID = "cv-1"
		mine = mustSave(t, s, mine)
		theirs := newItem("u2", base)
		theirs.RelatedEntityID = "cv-1"
		mustSave(t, s, theirs)

		got, err := s.FindByRelatedEntity(ctx, "u1", "cv-1")
		if err != nil || !equalIDs(got, mine) {
			t.Errorf("FindByRelatedEntity() = %v, %v", ids(got), err)
		}
	})

	t.Run("recent high priority unread", func(t *testing.T) {
		s := newStore(t)
		hit := newItem("u1", base.Add(time.Hour))
		hit.Priority = model.PriorityHigh
		hit = mustSave(t, s, hit)

		old := newItem("u1", base.Add(-time.Hour))
		old.Priority = model.PriorityHigh
		mustSave(t, s, old)

		low := newItem("u1", base.Add(time.Hour))
		mustSave(t, s, low)

		got, err := s.FindRecentHighPriorityUnread(ctx, "u1", base)
		if err != nil || !equalIDs(got, hit) {
			t.Errorf("FindRecentHighPriorityUnread() = %v, %v", ids(got), err)
		}
	})

	t.Run("modify writes only when asked", func(t *testing.T) {
		s := newStore(t)
		n := mustSave(t, s, newItem("u1", base))

		_, err := s.Modify(ctx, n.ID, func(n *model.Notification) (bool, error) {
			n.MarkRead(base.Add(time.Minute))
			return false, nil
		})
		if err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
		got, _ := s.FindByID(ctx, n.ID)
		if got.Status != model.StatusUnread {
			t.Errorf("status = %s after discarded modify", got.Status)
		}

		updated, err := s.Modify(ctx, n.ID, func(n *model.Notification) (bool, error) {
			return n.MarkRead(base.Add(time.Minute)), nil
		})
		if err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
		if updated.Status != model.StatusRead {
			t.Errorf("returned status = %s", updated.Status)
		}
		got, _ = s.FindByID(ctx, n.ID)
		if got.Status != model.StatusRead || got.ReadAt == nil {
			t.Errorf("stored = %+v", got)
		}
	})

	t.Run("modify propagates fn errors and missing rows", func(t *testing.T) {
		s := newStore(t)
		n := mustSave(t, s, newItem("u1", base))
		boom := errors.New("boom")

		if _, err := s.Modify(ctx, n.ID, func(*model.Notification) (bool, error) { return true, boom }); !errors.Is(err, boom) {
			t.Errorf("Modify() error = %v, want boom", err)
		}
		if _, err := s.Modify(ctx, "00000000-0000-0000-0000-000000000000", func(*model.Notification) (bool, error) {
			return true, nil
		}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Modify(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent modifies do not lose the first read_at", func(t *testing.T) {
		s := newStore(t)
		n := mustSave(t, s, newItem("u1", base))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.Modify(ctx, n.ID, func(n *model.Notification) (bool, error) {
					return n.MarkRead(base.Add(time.Duration(i+1) * time.Minute)), nil
				})
			}(i)
		}
		wg.Wait()

		got, _ := s.FindByID(ctx, n.ID)
		if got.Status != model.StatusRead || got.ReadAt == nil {
			t.Fatalf("stored = %+v", got)
		}
	})

	t.Run("save all updates in bulk", func(t *testing.T) {
		s := newStore(t)
		a := mustSave(t, s, newItem("u1", base))
		b := mustSave(t, s, newItem("u1", base.Add(time.Minute)))
		a.MarkRead(base.Add(time.Hour))
		b.MarkRead(base.Add(time.Hour))

		if err := s.SaveAll(ctx, []*model.Notification{a, b}); err != nil {
			t.Fatalf("SaveAll() error = %v", err)
		}
		count, _ := s.CountByUserAndStatus(ctx, "u1", model.StatusRead)
		if count != 2 {
			t.Errorf("read count = %d, want 2", count)
		}
	})

	t.Run("save never moves status backwards", func(t *testing.T) {
		s := newStore(t)
		n := mustSave(t, s, newItem("u1", base))
		stale := n.Clone()

		dismissed := n.Clone()
		dismissed.MarkDismissed(base.Add(time.Minute))
		mustSave(t, s, dismissed)

		stale.MarkRead(base.Add(2 * time.Minute))
		if err := s.SaveAll(ctx, []*model.Notification{stale}); err != nil {
			t.Fatalf("SaveAll() error = %v", err)
		}

		got, _ := s.FindByID(ctx, n.ID)
		if got.Status != model.StatusDismissed {
			t.Errorf("status = %s, want DISMISSED", got.Status)
		}
	})

	t.Run("delete owned only removes the owner's row", func(t *testing.T) {
		s := newStore(t)
		n := mustSave(t, s, newItem("u2", base))

		ok, err := s.DeleteOwned(ctx, n.ID, "u1")
		if err != nil || ok {
			t.Errorf("DeleteOwned(other user) = %v, %v", ok, err)
		}
		if _, err := s.FindByID(ctx, n.ID); err != nil {
			t.Errorf("row gone after foreign delete: %v", err)
		}

		ok, err = s.DeleteOwned(ctx, n.ID, "u2")
		if err != nil || !ok {
			t.Errorf("DeleteOwned(owner) = %v, %v", ok, err)
		}
		if _, err := s.FindByID(ctx, n.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByID() after delete error = %v", err)
		}
	})

	t.Run("delete older than ignores users and status", func(t *testing.T) {
		s := newStore(t)
		old1 := newItem("u1", base.Add(-40*24*time.Hour))
		old2 := newItem("u2", base.Add(-31*24*time.Hour))
		old2.Status = model.StatusDismissed
		mustSave(t, s, old1)
		mustSave(t, s, old2)
		fresh := mustSave(t, s, newItem("u1", base.Add(-time.Hour)))

		removed, err := s.DeleteOlderThan(ctx, base.Add(-30*24*time.Hour))
		if err != nil || removed != 2 {
			t.Fatalf("DeleteOlderThan() = %d, %v", removed, err)
		}
		if _, err := s.FindByID(ctx, fresh.ID); err != nil {
			t.Errorf("fresh row removed: %v", err)
		}
	})

	t.Run("archive dismissed before cutoff", func(t *testing.T) {
		s := newStore(t)
		oldDismissed := newItem("u1", base.Add(-10*24*time.Hour))
		oldDismissed.MarkDismissed(base.Add(-8 * 24 * time.Hour))
		oldDismissed = mustSave(t, s, oldDismissed)

		newDismissed := newItem("u1", base.Add(-2*24*time.Hour))
		newDismissed.MarkDismissed(base.Add(-time.Hour))
		newDismissed = mustSave(t, s, newDismissed)

		read := newItem("u1", base.Add(-10*24*time.Hour))
		read.MarkRead(base.Add(-9 * 24 * time.Hour))
		read = mustSave(t, s, read)

		archived, err := s.ArchiveDismissedBefore(ctx, base.Add(-7*24*time.Hour))
		if err != nil || archived != 1 {
			t.Fatalf("ArchiveDismissedBefore() = %d, %v", archived, err)
		}

		for id, want := range map[string]model.Status{
			oldDismissed.ID: model.StatusArchived,
			newDismissed.ID: model.StatusDismissed,
			read.ID:         model.StatusRead,
		} {
			got, _ := s.FindByID(ctx, id)
			if got.Status != want {
				t.Errorf("%s status = %s, want %s", id, got.Status, want)
			}
		}
	})

	t.Run("find combines filters", func(t *testing.T) {
		s := newStore(t)
		want := newItem("u1", base)
		want.Priority = model.PriorityHigh
		want = mustSave(t, s, want)
		other := newItem("u1", base)
		other.Priority = model.PriorityLow
		mustSave(t, s, other)

		got, err := s.Find(ctx, Filter{
			UserID:   "u1",
			Status:   model.StatusUnread,
			Type:     model.TypeNewMessage,
			Priority: model.PriorityHigh,
			ActiveAt: base,
		})
		if err != nil || !equalIDs(got, want) {
			t.Errorf("Find() = %v, %v", ids(got), err)
		}
	})
}
