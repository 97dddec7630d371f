package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"notification-service/internal/events"
	"notification-service/internal/model"
	"notification-service/pkg/metrics"
	"notification-service/pkg/util"
)

const (
	handlerName = "domain_event"

	// DLQRoutingKey is used for dead-lettered events; it falls under the
	// queue's domain.# binding on the DLQ exchange.
	DLQRoutingKey = "domain.failed"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev events.DomainEvent) (*model.Notification, error)
}

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, reason string) error
}

// DomainEventHandler turns queued domain events into notifications.
// Deduper, RetryCounter and DeadLetterPublisher are optional.
type DomainEventHandler struct {
	dispatcher Dispatcher
	deduper    Deduper
	retries    RetryCounter
	dlq        DeadLetterPublisher
	maxRetries int64
	logger     *zap.Logger
}

func NewDomainEventHandler(
	dispatcher Dispatcher,
	deduper Deduper,
	retries RetryCounter,
	dlq DeadLetterPublisher,
	maxRetries int64,
	logger *zap.Logger,
) *DomainEventHandler {
	return &DomainEventHandler{
		dispatcher: dispatcher,
		deduper:    deduper,
		retries:    retries,
		dlq:        dlq,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Handle has the mq.MessageHandler signature. It returns an error only when
// the message should be redelivered.
func (h *DomainEventHandler) Handle(ctx context.Context, body []byte) error {
	var ev events.DomainEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.Error("Failed to unmarshal domain event (non-retryable)", zap.Error(err))
		metrics.IncrementDomainEvent("unknown", "malformed")
		return h.deadLetter(ctx, body, "decode: "+err.Error())
	}

	key := eventKey(ev, body)
	logger := h.logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("dedup_key", key),
		zap.String("kind", string(ev.Kind)),
		zap.String("user_id", ev.UserID),
	)

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, key) {
		metrics.IncrementDomainEvent(string(ev.Kind), "duplicate")
		return nil
	}

	start := time.Now()
	n, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		if h.deduper != nil {
			h.deduper.Release(ctx, handlerName, key)
		}
		return h.handleFailure(ctx, logger, ev, key, body, err)
	}

	h.resetRetries(ctx, logger, key)
	metrics.IncrementDomainEvent(string(ev.Kind), "created")
	logger.Info("Notification created from domain event",
		zap.String("notification_id", n.ID),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (h *DomainEventHandler) handleFailure(
	ctx context.Context,
	logger *zap.Logger,
	ev events.DomainEvent,
	key string,
	body []byte,
	err error,
) error {
	retryable, errType := classify(err)
	logger = logger.With(
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)

	if !retryable {
		logger.Error("Domain event rejected")
		metrics.IncrementDomainEvent(string(ev.Kind), "rejected")
		return h.deadLetter(ctx, body, errType+": "+err.Error())
	}

	if h.retries == nil {
		logger.Warn("Domain event failed, requeueing")
		metrics.IncrementDomainEvent(string(ev.Kind), "retry")
		return err
	}

	count, cerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey(handlerName, key))
	if cerr != nil {
		logger.Warn("Failed to count retries, requeueing", zap.NamedError("counter_error", cerr))
		metrics.IncrementDomainEvent(string(ev.Kind), "retry")
		return err
	}

	if util.ShouldRetry(count, h.maxRetries, true) {
		logger.Warn("Domain event failed, requeueing", zap.Int64("attempt", count))
		metrics.IncrementDomainEvent(string(ev.Kind), "retry")
		return err
	}

	logger.Error("Domain event exhausted retries", zap.Int64("attempts", count))
	metrics.IncrementDomainEvent(string(ev.Kind), "exhausted")
	if dlqErr := h.deadLetter(ctx, body, "retries exhausted: "+err.Error()); dlqErr != nil {
		return dlqErr
	}
	h.resetRetries(ctx, logger, key)
	return nil
}

// deadLetter parks body on the DLQ. When that fails the error is returned so
// the broker redelivers instead of losing the event.
func (h *DomainEventHandler) deadLetter(ctx context.Context, body []byte, reason string) error {
	if h.dlq == nil {
		h.logger.Error("Dropping domain event, no DLQ configured", zap.String("reason", reason))
		return nil
	}
	if err := h.dlq.PublishToDLQ(ctx, DLQRoutingKey, body, reason); err != nil {
		h.logger.Error("Failed to publish to DLQ",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *DomainEventHandler) resetRetries(ctx context.Context, logger *zap.Logger, key string) {
	if h.retries == nil {
		return
	}
	if err := h.retries.Reset(ctx, util.FormatRetryKey(handlerName, key)); err != nil {
		logger.Debug("Failed to reset retry counter", zap.Error(err))
	}
}

// classify treats bad events as permanent and defers everything else to
// util.IsRetryableError.
func classify(err error) (bool, string) {
	switch {
	case errors.Is(err, events.ErrUnknownKind):
		return false, "unknown_kind"
	case errors.Is(err, events.ErrInvalidEvent), errors.Is(err, model.ErrInvalidNotification):
		return false, "invalid_event"
	}
	return util.IsRetryableError(err)
}

// eventKey identifies an event for dedup and retry counting. Producers that
// omit event_id get a hash of the raw body.
func eventKey(ev events.DomainEvent, body []byte) string {
	if ev.EventID != "" {
		return ev.EventID
	}
	return "body-" + strconv.FormatUint(xxhash.Sum64(body), 16)
}
