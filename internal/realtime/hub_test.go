package realtime

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestHubDeliver(t *testing.T) {
	t.Parallel()

	t.Run("reaches every session of the user only", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(zap.NewNop())
		a1, a2 := NewSession("a", 4), NewSession("a", 4)
		b := NewSession("b", 4)
		hub.Subscribe(a1)
		hub.Subscribe(a2)
		hub.Subscribe(b)

		if got := hub.Deliver("a", []byte("x")); got != 2 {
			t.Fatalf("Deliver() = %d, want 2", got)
		}
		for _, s := range []*Session{a1, a2} {
			if got := string(<-s.Pushes()); got != "x" {
				t.Errorf("session got %q", got)
			}
		}
		if len(b.Pushes()) != 0 {
			t.Error("other user's session received the message")
		}
	})

	t.Run("no sessions is a no-op", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(zap.NewNop())
		if got := hub.Deliver("nobody", []byte("x")); got != 0 {
			t.Errorf("Deliver() = %d, want 0", got)
		}
	})

	t.Run("full session buffer drops instead of blocking", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(zap.NewNop())
		s := NewSession("a", 1)
		hub.Subscribe(s)

		hub.Deliver("a", []byte("1"))
		if got := hub.Deliver("a", []byte("2")); got != 0 {
			t.Errorf("Deliver() on full buffer = %d, want 0", got)
		}
		if got := string(<-s.Pushes()); got != "1" {
			t.Errorf("first message = %q", got)
		}
	})

	t.Run("unsubscribe closes and forgets the session", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(zap.NewNop())
		s := NewSession("a", 1)
		hub.Subscribe(s)
		hub.Subscribe(s)
		if hub.SessionCount("a") != 1 {
			t.Fatalf("SessionCount() = %d, want 1", hub.SessionCount("a"))
		}

		hub.Unsubscribe(s)
		hub.Unsubscribe(s)
		if hub.SessionCount("a") != 0 {
			t.Errorf("SessionCount() = %d, want 0", hub.SessionCount("a"))
		}
		select {
		case <-s.Done():
		default:
			t.Error("session not closed")
		}
		if s.Send([]byte("late")) {
			t.Error("Send() on closed session succeeded")
		}
	})
}

func TestHubConcurrentUse(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		userID := fmt.Sprintf("u%d", i%3)
		go func() {
			defer wg.Done()
			s := NewSession(userID, 8)
			hub.Subscribe(s)
			hub.Unsubscribe(s)
		}()
		go func() {
			defer wg.Done()
			hub.Deliver(userID, []byte("x"))
		}()
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		if n := hub.SessionCount(fmt.Sprintf("u%d", i)); n != 0 {
			t.Errorf("u%d has %d sessions left", i, n)
		}
	}
}

func TestSessionReplyUnblocksOnClose(t *testing.T) {
	t.Parallel()

	s := NewSession("a", 1)
	for i := 0; i < cap(s.replies); i++ {
		if !s.Reply([]byte("r")) {
			t.Fatal("Reply() = false while open")
		}
	}

	done := make(chan bool)
	go func() { done <- s.Reply([]byte("blocked")) }()
	s.Close()
	if <-done {
		t.Error("Reply() = true after close")
	}
}
