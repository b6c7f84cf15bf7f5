package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ehrlich-b/agentctl/internal/agenterr"
)

// Registry is a serialized map name -> *Session. All mutations flow through
// a single mutex; registry methods are safe to call from PTY listener
// callbacks (no self-deadlock) because no cross-session lock is held while
// invoking user-supplied listeners (spec §5).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session under name. Rejects duplicates.
func (r *Registry) Create(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.Name]; exists {
		return fmt.Errorf("registry: session %q: %w", s.Name, agenterr.ErrAlreadyExists)
	}
	r.sessions[s.Name] = s
	return nil
}

// Get returns the session, or (nil, false) if unknown.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[name]
	return ok
}

// Remove deletes name from the registry and releases its PTY subscriptions.
// Idempotent: removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	if ok {
		s.releaseSubscriptions()
	}
}

// Kill signals the session's process for termination and removes it from
// the registry. Actual escalation (SIGTERM -> wait -> SIGKILL -pid) is the
// Supervisor's responsibility; Kill here performs the registry-side teardown
// plus a best-effort SIGTERM so standalone use of the registry still works.
func (r *Registry) Kill(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: session %q: %w", name, agenterr.ErrNotFound)
	}
	if s.Proc != nil {
		_ = s.Proc.Kill(0)
	}
	r.Remove(name)
	return nil
}

// List returns all sessions, sorted by name for deterministic iteration.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rename moves a session from old to new. Optional per spec §4.2.
func (r *Registry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[oldName]
	if !ok {
		return fmt.Errorf("registry: session %q: %w", oldName, agenterr.ErrNotFound)
	}
	if _, exists := r.sessions[newName]; exists {
		return fmt.Errorf("registry: session %q: %w", newName, agenterr.ErrAlreadyExists)
	}
	delete(r.sessions, oldName)
	s.Name = newName
	r.sessions[newName] = s
	return nil
}

// CaptureTail returns the last N lines of the session's terminal buffer,
// delegating to whatever the Output Monitor installed as TailFn.
func (r *Registry) CaptureTail(name string, lines int) (string, error) {
	s, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("registry: session %q: %w", name, agenterr.ErrNotFound)
	}
	if s.TailFn == nil {
		return "", nil
	}
	return s.TailFn(lines), nil
}

// SetStatus updates a session's status in place under the registry lock.
func (r *Registry) SetStatus(name string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return fmt.Errorf("registry: session %q: %w", name, agenterr.ErrNotFound)
	}
	s.Status = status
	return nil
}
