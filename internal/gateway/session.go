package gateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-service/internal/broker"
)

const writeWait = 10 * time.Second

// Session is the per-connection state. It is owned exclusively by the gateway
// instance holding the socket and is never persisted.
type Session struct {
	ID   int64
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu            sync.RWMutex
	userID        int64
	authenticated bool
	lastHeartbeat time.Time
	serverIDs     []string
	topics        []string

	frameCount  int
	windowStart time.Time

	closeOnce sync.Once
}

func newSession(id int64, conn *websocket.Conn, sendBuffer int) *Session {
	return &Session{
		ID:            id,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		lastHeartbeat: time.Now(),
	}
}

// Authenticated reports whether the session has a verified user.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// UserID returns the session's user id, zero until authenticated.
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// UserIDString returns the user id in wire format.
func (s *Session) UserIDString() string {
	return strconv.FormatInt(s.UserID(), 10)
}

func (s *Session) setAuthenticated(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.authenticated = true
}

func (s *Session) setScopes(serverIDs, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverIDs = serverIDs
	s.topics = topics
}

// Scopes returns the server ids the session resolved at ready time.
func (s *Session) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.serverIDs...)
}

// HasScope reports whether the session knows the given server.
func (s *Session) HasScope(serverID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.serverIDs {
		if id == serverID {
			return true
		}
	}
	return false
}

// Matches reports whether a broker topic matches any of the session's
// subscription patterns.
func (s *Session) Matches(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pattern := range s.topics {
		if broker.MatchTopic(pattern, topic) {
			return true
		}
	}
	return false
}

func (s *Session) touchHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// Enqueue hands a frame to the write pump without blocking. It reports false
// when the session's outbound buffer is full; the caller decides whether the
// frame may be dropped.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// writePump serializes all socket writes. A write failure closes the session.
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// Close sends a close frame once and tears down the socket. Safe to call from
// any goroutine, any number of times.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = s.conn.Close()
		}
	})
}
