package scheduler

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"notification-service/pkg/logger"
	"notification-service/pkg/trace"
)

type Maintainer interface {
	ArchiveDismissed(ctx context.Context, olderThan time.Duration) (int64, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Locker lets one replica claim a run. util.Deduper satisfies it.
type Locker interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
}

// CleanupWorker periodically archives old dismissed notifications and then
// deletes everything past retention.
type CleanupWorker struct {
	svc          Maintainer
	locker       Locker
	logger       *zap.Logger
	interval     time.Duration
	archiveAfter time.Duration
	retention    time.Duration
	timeout      time.Duration
	now          func() time.Time
}

func NewCleanupWorker(svc Maintainer, logger *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		svc:          svc,
		logger:       logger,
		interval:     time.Hour,
		archiveAfter: 7 * 24 * time.Hour,
		retention:    30 * 24 * time.Hour,
		timeout:      5 * time.Minute,
		now:          time.Now,
	}
}

func (w *CleanupWorker) WithInterval(interval time.Duration) *CleanupWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *CleanupWorker) WithArchiveAfter(d time.Duration) *CleanupWorker {
	if d > 0 {
		w.archiveAfter = d
	}
	return w
}

func (w *CleanupWorker) WithRetention(d time.Duration) *CleanupWorker {
	if d > 0 {
		w.retention = d
	}
	return w
}

// WithLocker makes replicas sharing the locker run each tick at most once.
func (w *CleanupWorker) WithLocker(l Locker) *CleanupWorker {
	w.locker = l
	return w
}

// Start blocks until ctx is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) {
	w.logger.Info("Starting cleanup worker",
		zap.Duration("interval", w.interval),
		zap.Duration("archive_after", w.archiveAfter),
		zap.Duration("retention", w.retention),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Cleanup worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one maintenance pass. Failures are logged; the next tick
// tries again.
func (w *CleanupWorker) RunOnce(ctx context.Context) {
	ctx, _ = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, w.logger)

	if w.locker != nil {
		slot := w.now().Truncate(w.interval).Unix()
		if !w.locker.AcquireOnce(ctx, "cleanup", strconv.FormatInt(slot, 10)) {
			log.Debug("Cleanup already claimed by another replica")
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	archived, err := w.svc.ArchiveDismissed(ctx, w.archiveAfter)
	if err != nil {
		log.Error("Failed to archive dismissed notifications", zap.Error(err))
	}

	removed, err := w.svc.Cleanup(ctx, w.retention)
	if err != nil {
		log.Error("Failed to delete expired notifications", zap.Error(err))
		return
	}

	log.Info("Cleanup pass finished",
		zap.Int64("archived", archived),
		zap.Int64("removed", removed),
	)
}
