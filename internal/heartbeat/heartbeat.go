// Package heartbeat implements the Heartbeat Service (spec §2, §4.6): a
// keyed last-seen map recording explicit heartbeats. internal/activity keeps
// its own heartbeat timestamp and does not read this map;
// Supervisor.Heartbeat stamps both.
package heartbeat

import (
	"sync"
	"time"
)

// Service records explicit heartbeats keyed by session name.
type Service struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func New() *Service {
	return &Service{lastSeen: make(map[string]time.Time), now: time.Now}
}

// Beat records a heartbeat for name at the current time.
func (s *Service) Beat(name string) {
	s.mu.Lock()
	s.lastSeen[name] = s.now()
	s.mu.Unlock()
}

// LastSeen returns the last recorded heartbeat for name, if any.
func (s *Service) LastSeen(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastSeen[name]
	return t, ok
}

// Forget removes a session's heartbeat record.
func (s *Service) Forget(name string) {
	s.mu.Lock()
	delete(s.lastSeen, name)
	s.mu.Unlock()
}
