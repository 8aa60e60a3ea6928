package gateway

import (
	"sync"

	"realtime-service/internal/observability"
)

// Hub tracks the sessions held by this gateway instance and fans broker
// messages out to the ones whose subscriptions match.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[int64]*Session)}
}

func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID] = s
}

func (h *Hub) Remove(sessionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Dispatch delivers one broker message to every matching session. A session
// whose outbound buffer is full has the frame dropped and counted; slow
// consumers never block the fanout path.
func (h *Hub) Dispatch(topic string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.Matches(topic) {
			continue
		}
		if !s.Enqueue(frame) {
			observability.IncWSDroppedFrame()
		}
	}
}
