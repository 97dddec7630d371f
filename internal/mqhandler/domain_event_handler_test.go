package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"notification-service/internal/events"
	"notification-service/internal/model"
	"notification-service/internal/repository"
	"notification-service/internal/service"
)

type fakeDeduper struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
}

func newFakeDeduper() *fakeDeduper { return &fakeDeduper{seen: make(map[string]bool)} }

func (d *fakeDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *fakeDeduper) Release(_ context.Context, handler, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, handler+":"+key)
	d.released = append(d.released, key)
}

type fakeRetries struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRetries() *fakeRetries { return &fakeRetries{counts: make(map[string]int64)} }

func (r *fakeRetries) IncrementAndGet(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.counts[key]++
	return r.counts[key], nil
}

func (r *fakeRetries) Reset(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counts, key)
	return nil
}

type dlqMessage struct {
	routingKey string
	body       []byte
	reason     string
}

type fakeDLQ struct {
	mu       sync.Mutex
	messages []dlqMessage
	err      error
}

func (q *fakeDLQ) PublishToDLQ(_ context.Context, routingKey string, payload []byte, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, dlqMessage{routingKey, payload, reason})
	return nil
}

// flakyDispatcher fails with err for the first failures calls.
type flakyDispatcher struct {
	failures int
	err      error
	calls    int
}

func (d *flakyDispatcher) Dispatch(_ context.Context, ev events.DomainEvent) (*model.Notification, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, d.err
	}
	return &model.Notification{ID: fmt.Sprintf("n-%d", d.calls), UserID: ev.UserID}, nil
}

func encode(t *testing.T, ev events.DomainEvent) []byte {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return body
}

func TestHandleCreatesNotificationOnce(t *testing.T) {
	t.Parallel()
	logger := zap.NewNop()
	svc := service.NewNotificationService(repository.NewMemoryNotificationRepository(logger), nil, logger)
	publisher := events.NewPublisher(svc, events.NewRegistry(), logger)
	dlq := &fakeDLQ{}
	h := NewDomainEventHandler(publisher, newFakeDeduper(), newFakeRetries(), dlq, 3, logger)
	ctx := context.Background()

	body := encode(t, events.DomainEvent{
		EventID:    "evt-1",
		Kind:       events.KindSecurityAlert,
		UserID:     "u1",
		Fields:     events.Fields{"alert_type": "NEW_DEVICE"},
		OccurredAt: time.Now(),
	})

	for i := 0; i < 2; i++ {
		if err := h.Handle(ctx, body); err != nil {
			t.Fatalf("Handle() #%d error = %v", i, err)
		}
	}

	items, err := svc.GetAll(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d notifications, want 1 after redelivery", len(items))
	}
	if items[0].Type != model.TypeSecurityAlert || items[0].Metadata["alert_type"] != "NEW_DEVICE" {
		t.Errorf("notification = %+v", items[0])
	}
	if len(dlq.messages) != 0 {
		t.Errorf("unexpected DLQ messages: %v", dlq.messages)
	}
}

func TestHandleMalformedGoesToDLQ(t *testing.T) {
	t.Parallel()
	dlq := &fakeDLQ{}
	dispatcher := &flakyDispatcher{}
	h := NewDomainEventHandler(dispatcher, newFakeDeduper(), newFakeRetries(), dlq, 3, zap.NewNop())

	if err := h.Handle(context.Background(), []byte("{nope")); err != nil {
		t.Fatalf("Handle() error = %v, want ack", err)
	}
	if len(dlq.messages) != 1 || dlq.messages[0].routingKey != DLQRoutingKey {
		t.Fatalf("DLQ = %+v", dlq.messages)
	}
	if dispatcher.calls != 0 {
		t.Errorf("dispatcher called %d times", dispatcher.calls)
	}
}

func TestHandlePermanentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"unknown kind", fmt.Errorf("%w: X", events.ErrUnknownKind)},
		{"invalid event", events.ErrInvalidEvent},
		{"invalid notification", model.ErrInvalidNotification},
		{"unclassified", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dlq := &fakeDLQ{}
			deduper := newFakeDeduper()
			h := NewDomainEventHandler(&flakyDispatcher{failures: 1, err: tt.err}, deduper, newFakeRetries(), dlq, 3, zap.NewNop())

			body := encode(t, events.DomainEvent{EventID: "e", Kind: "X", UserID: "u1"})
			if err := h.Handle(context.Background(), body); err != nil {
				t.Fatalf("Handle() error = %v, want ack", err)
			}
			if len(dlq.messages) != 1 {
				t.Fatalf("DLQ = %+v", dlq.messages)
			}
			if len(deduper.released) != 1 {
				t.Errorf("dedup key not released")
			}
		})
	}
}

func TestHandleRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	dlq := &fakeDLQ{}
	retries := newFakeRetries()
	dispatcher := &flakyDispatcher{failures: 100, err: context.DeadlineExceeded}
	h := NewDomainEventHandler(dispatcher, newFakeDeduper(), retries, dlq, 2, zap.NewNop())
	ctx := context.Background()

	body := encode(t, events.DomainEvent{EventID: "e-retry", Kind: events.KindSecurityAlert, UserID: "u1"})

	for attempt := 1; attempt <= 2; attempt++ {
		if err := h.Handle(ctx, body); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("attempt %d: err = %v, want nack", attempt, err)
		}
	}
	if err := h.Handle(ctx, body); err != nil {
		t.Fatalf("final attempt: err = %v, want ack", err)
	}
	if len(dlq.messages) != 1 {
		t.Fatalf("DLQ = %+v", dlq.messages)
	}
	if dispatcher.calls != 3 {
		t.Errorf("dispatch calls = %d, want 3", dispatcher.calls)
	}
	if len(retries.counts) != 0 {
		t.Errorf("retry counter not reset: %v", retries.counts)
	}
}

func TestHandleRetryThenSuccess(t *testing.T) {
	t.Parallel()
	retries := newFakeRetries()
	dispatcher := &flakyDispatcher{failures: 1, err: context.DeadlineExceeded}
	h := NewDomainEventHandler(dispatcher, newFakeDeduper(), retries, &fakeDLQ{}, 3, zap.NewNop())
	ctx := context.Background()
	body := encode(t, events.DomainEvent{EventID: "e2", Kind: events.KindSecurityAlert, UserID: "u1"})

	if err := h.Handle(ctx, body); err == nil {
		t.Fatal("first attempt acked, want nack")
	}
	if err := h.Handle(ctx, body); err != nil {
		t.Fatalf("second attempt error = %v", err)
	}
	if len(retries.counts) != 0 {
		t.Errorf("retry counter not reset: %v", retries.counts)
	}
}

func TestHandleDLQFailureRequeues(t *testing.T) {
	t.Parallel()
	dlq := &fakeDLQ{err: errors.New("channel closed")}
	h := NewDomainEventHandler(&flakyDispatcher{}, nil, nil, dlq, 3, zap.NewNop())

	if err := h.Handle(context.Background(), []byte("not json")); err == nil {
		t.Fatal("Handle() acked a message it could not dead-letter")
	}
}

func TestHandleWithoutRedis(t *testing.T) {
	t.Parallel()
	dispatcher := &flakyDispatcher{failures: 1, err: context.DeadlineExceeded}
	h := NewDomainEventHandler(dispatcher, nil, nil, nil, 3, zap.NewNop())
	body := encode(t, events.DomainEvent{Kind: events.KindSecurityAlert, UserID: "u1"})

	if err := h.Handle(context.Background(), body); err == nil {
		t.Fatal("retryable failure acked without a retry counter")
	}
	if err := h.Handle(context.Background(), body); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}

func TestEventKeyFallsBackToBodyHash(t *testing.T) {
	t.Parallel()
	a := eventKey(events.DomainEvent{}, []byte(`{"a":1}`))
	b := eventKey(events.DomainEvent{}, []byte(`{"a":2}`))
	if a == b || a == "" {
		t.Errorf("keys %q and %q should differ", a, b)
	}
	if got := eventKey(events.DomainEvent{EventID: "id"}, nil); got != "id" {
		t.Errorf("eventKey() = %q, want id", got)
	}
}
