package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"notification-service/internal/model"
	"notification-service/pkg/metrics"
)

var (
	ErrQueueFull        = errors.New("delivery queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type job struct {
	userID  string
	kind    string
	payload []byte
}

// Dispatcher implements service.Delivery. Messages are encoded on the
// caller's goroutine and queued on a shard chosen by user id; one worker per
// shard hands them to the Fanout in FIFO order, so a user's messages keep
// their publish order while callers never wait on sockets.
type Dispatcher struct {
	fanout Fanout
	logger *zap.Logger
	shards []chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(fanout Fanout, logger *zap.Logger, shards, queueSize int) *Dispatcher {
	if shards <= 0 {
		shards = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	d := &Dispatcher{
		fanout: fanout,
		logger: logger,
		shards: make([]chan job, shards),
	}
	for i := range d.shards {
		d.shards[i] = make(chan job, queueSize)
		d.wg.Add(1)
		go d.run(i, d.shards[i])
	}
	return d
}

func (d *Dispatcher) PublishNew(ctx context.Context, userID string, n *model.Notification) error {
	return d.enqueue(userID, "new", NewNotificationMessage{
		Type:         TypeNewNotification,
		Notification: n,
	})
}

func (d *Dispatcher) PublishUpdate(ctx context.Context, userID string, change model.StateChange) error {
	return d.enqueue(userID, string(change.Action), newUpdateMessage(change))
}

func (d *Dispatcher) shardFor(userID string) int {
	return int(xxhash.Sum64String(userID) % uint64(len(d.shards)))
}

func (d *Dispatcher) enqueue(userID, kind string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.IncrementDeliveryFailure("encode")
		return fmt.Errorf("failed to encode %s message: %w", kind, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.IncrementDeliveryDropped("closed")
		return ErrDispatcherClosed
	}

	select {
	case d.shards[d.shardFor(userID)] <- job{userID: userID, kind: kind, payload: payload}:
		metrics.IncrementDeliveryEnqueued(kind)
		return nil
	default:
		metrics.IncrementDeliveryDropped("queue_full")
		return ErrQueueFull
	}
}

func (d *Dispatcher) run(shard int, queue <-chan job) {
	defer d.wg.Done()
	for j := range queue {
		d.deliver(shard, j)
	}
}

func (d *Dispatcher) deliver(shard int, j job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrementDeliveryFailure("panic")
			d.logger.Error("Fanout panic recovered",
				zap.Int("shard", shard),
				zap.String("user_id", j.userID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := d.fanout.Broadcast(context.Background(), j.userID, j.payload); err != nil {
		metrics.IncrementDeliveryFailure("fanout")
		d.logger.Warn("Fanout failed",
			zap.Int("shard", shard),
			zap.String("user_id", j.userID),
			zap.String("kind", j.kind),
			zap.Error(err),
		)
	}
}

// Close stops accepting messages and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.shards {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
