package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"notification-service/pkg/metrics"
)

// Fanout delivers an encoded message to every live session of a user,
// wherever that session is connected.
type Fanout interface {
	Broadcast(ctx context.Context, userID string, payload []byte) error
}

// Hub is the in-process registry of sessions per user.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]struct{}),
		logger:   logger,
	}
}

// Subscribe registers s. Registering the same session twice is a no-op.
func (h *Hub) Subscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[s.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.UserID] = set
	}
	if _, exists := set[s]; exists {
		return
	}
	set[s] = struct{}{}
	metrics.ActiveSessions.Inc()

	h.logger.Debug("Session subscribed",
		zap.String("user_id", s.UserID),
		zap.String("session_id", s.ID),
		zap.Int("user_sessions", len(set)),
	)
}

// Unsubscribe removes and closes s.
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.UserID]; ok {
		if _, exists := set[s]; exists {
			delete(set, s)
			metrics.ActiveSessions.Dec()
		}
		if len(set) == 0 {
			delete(h.sessions, s.UserID)
		}
	}
	h.mu.Unlock()

	s.Close()
}

// Deliver pushes payload to the user's sessions without blocking and
// returns how many accepted it. Zero sessions is a no-op.
func (h *Hub) Deliver(userID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.sessions[userID] {
		if s.Send(payload) {
			delivered++
			continue
		}
		metrics.IncrementDeliveryDropped("session_buffer_full")
		h.logger.Warn("Dropped message for slow session",
			zap.String("user_id", userID),
			zap.String("session_id", s.ID),
		)
	}
	return delivered
}

// Broadcast implements Fanout for a single instance.
func (h *Hub) Broadcast(_ context.Context, userID string, payload []byte) error {
	h.Deliver(userID, payload)
	return nil
}

func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// CloseAll closes every session, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.sessions
	h.sessions = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			metrics.ActiveSessions.Dec()
			s.Close()
		}
	}
}
