// Package activity implements the Activity Tracker (spec §4.6): three
// independent record* entry points stamp timestamps, and status(name) is a
// pure O(1) TTL comparison. Grounded on the teacher's pattern of small,
// explicitly-injected services (e.g. orchestrator.Builder) rather than
// package-level singletons.
package activity

import (
	"sync"
	"time"
)

// Status is the derived activity level for a session.
type Status string

const (
	Active   Status = "active"
	Idle     Status = "idle"
	Inactive Status = "inactive"
)

type record struct {
	lastPty       time.Time
	lastAPI       time.Time
	lastHeartbeat time.Time
}

func (r record) max() time.Time {
	m := r.lastPty
	if r.lastAPI.After(m) {
		m = r.lastAPI
	}
	if r.lastHeartbeat.After(m) {
		m = r.lastHeartbeat
	}
	return m
}

// Tracker never mutates the Session entity directly; status consumers poll.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]*record
	activeTTL time.Duration
	idleTTL   time.Duration
	now       func() time.Time
}

// New constructs a Tracker. activeTTL must be < idleTTL per spec §3.
func New(activeTTL, idleTTL time.Duration) *Tracker {
	if activeTTL <= 0 {
		activeTTL = 2 * time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Tracker{
		records:   make(map[string]*record),
		activeTTL: activeTTL,
		idleTTL:   idleTTL,
		now:       time.Now,
	}
}

func (t *Tracker) get(name string) *record {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[name]
	if !ok {
		r = &record{}
		t.records[name] = r
	}
	return r
}

// RecordPtyActivity stamps a PTY byte-arrival event for name.
func (t *Tracker) RecordPtyActivity(name string) {
	r := t.get(name)
	t.mu.Lock()
	r.lastPty = t.now()
	t.mu.Unlock()
}

// RecordAPIActivity stamps an API-call observation for name. Without this
// source, a session emitting only API calls (no terminal output) would be
// wrongly suspended.
func (t *Tracker) RecordAPIActivity(name string) {
	r := t.get(name)
	t.mu.Lock()
	r.lastAPI = t.now()
	t.mu.Unlock()
}

// RecordHeartbeat stamps an explicit heartbeat for name. Without this
// source, a purely interactive, API-free session would never look busy.
func (t *Tracker) RecordHeartbeat(name string) {
	r := t.get(name)
	t.mu.Lock()
	r.lastHeartbeat = t.now()
	t.mu.Unlock()
}

// Status is O(1) and pure: Active iff any of the three timestamps falls
// within ACTIVE_TTL; Idle if within IDLE_TTL but not ACTIVE_TTL; Inactive
// otherwise.
func (t *Tracker) Status(name string) Status {
	t.mu.RLock()
	r, ok := t.records[name]
	t.mu.RUnlock()
	if !ok {
		return Inactive
	}
	age := t.now().Sub(r.max())
	switch {
	case age <= t.activeTTL:
		return Active
	case age <= t.idleTTL:
		return Idle
	default:
		return Inactive
	}
}

// Forget removes a session's activity record (on session destruction).
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	delete(t.records, name)
	t.mu.Unlock()
}
