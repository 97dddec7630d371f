package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one live client connection. Pushes from the hub never block;
// replies to the session's own commands wait for buffer space.
type Session struct {
	ID     string
	UserID string

	push    chan []byte
	replies chan []byte
	done    chan struct{}
	once    sync.Once
}

func NewSession(userID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		ID:      uuid.NewString(),
		UserID:  userID,
		push:    make(chan []byte, buffer),
		replies: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
}

// Send queues a pushed payload and reports false when the session is closed
// or its buffer is full.
func (s *Session) Send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.push <- payload:
		return true
	default:
		return false
	}
}

// Reply queues a direct response, blocking until there is room or the
// session closes.
func (s *Session) Reply(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.replies <- payload:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) Pushes() <-chan []byte  { return s.push }
func (s *Session) Replies() <-chan []byte { return s.replies }
func (s *Session) Done() <-chan struct{}  { return s.done }

// Close is idempotent.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}
