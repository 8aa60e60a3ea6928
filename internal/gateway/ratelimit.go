package gateway

import "time"

// allowFrame counts inbound frames against a per-second window. The window
// resets one second after its first frame; the frame that crosses the limit is
// rejected and the caller closes the session.
func (s *Session) allowFrame(maxPerSecond int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.windowStart) >= time.Second {
		s.windowStart = now
		s.frameCount = 0
	}
	s.frameCount++
	return s.frameCount <= maxPerSecond
}
