package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens after consecutive failures and rejects calls", func(t *testing.T) {
		t.Parallel()
		clock := time.Unix(0, 0)
		cb := newTestBreaker(&clock)

		for i := 0; i < 2; i++ {
			if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
				t.Fatalf("call %d: got %v, want errBoom", i, err)
			}
		}
		if cb.GetState() != StateOpen {
			t.Fatalf("state = %v, want open", cb.GetState())
		}

		called := false
		err := cb.Execute(func() error { called = true; return nil })
		if !errors.Is(err, ErrCircuitBreakerOpen) {
			t.Errorf("got %v, want ErrCircuitBreakerOpen", err)
		}
		if called {
			t.Error("fn ran while breaker was open")
		}
	})

	t.Run("a success resets the failure streak", func(t *testing.T) {
		t.Parallel()
		clock := time.Unix(0, 0)
		cb := newTestBreaker(&clock)

		_ = cb.Execute(func() error { return errBoom })
		_ = cb.Execute(func() error { return nil })
		_ = cb.Execute(func() error { return errBoom })

		if cb.GetState() != StateClosed {
			t.Errorf("state = %v, want closed", cb.GetState())
		}
	})

	t.Run("half-open probe success closes the breaker", func(t *testing.T) {
		t.Parallel()
		clock := time.Unix(0, 0)
		cb := newTestBreaker(&clock)

		_ = cb.Execute(func() error { return errBoom })
		_ = cb.Execute(func() error { return errBoom })

		clock = clock.Add(2 * time.Second)
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe: %v", err)
		}
		if cb.GetState() != StateClosed {
			t.Errorf("state = %v, want closed", cb.GetState())
		}
	})

	t.Run("half-open probe failure reopens the breaker", func(t *testing.T) {
		t.Parallel()
		clock := time.Unix(0, 0)
		cb := newTestBreaker(&clock)

		_ = cb.Execute(func() error { return errBoom })
		_ = cb.Execute(func() error { return errBoom })

		clock = clock.Add(2 * time.Second)
		_ = cb.Execute(func() error { return errBoom })
		if cb.GetState() != StateOpen {
			t.Errorf("state = %v, want open", cb.GetState())
		}
	})

	t.Run("state changes are reported", func(t *testing.T) {
		t.Parallel()
		var changes []State
		cb := NewCircuitBreaker(Config{
			FailureThreshold: 1,
			OnStateChange:    func(_, to State) { changes = append(changes, to) },
		})

		_ = cb.Execute(func() error { return errBoom })
		cb.Reset()

		if len(changes) != 2 || changes[0] != StateOpen || changes[1] != StateClosed {
			t.Errorf("changes = %v, want [open closed]", changes)
		}
	})
}
