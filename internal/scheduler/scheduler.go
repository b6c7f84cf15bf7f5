// Package scheduler implements the Check-In Scheduler (spec §4.8): durable
// one-shot and recurring timers that deliver a text message to a named
// session at a wall-clock deadline. Grounded on the teacher's
// internal/cron.go expression model (fields for cadence) but simplified to
// wall-clock intervals, and on cmd/wt/update.go's temp+rename durability,
// via internal/atomicfile.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
	"github.com/ehrlich-b/agentctl/internal/atomicfile"
)

// Status is a Scheduled Check's lifecycle position.
type Status string

const (
	Pending   Status = "pending"
	Fired     Status = "fired"
	Cancelled Status = "cancelled"
)

// MissedFirePolicy governs re-arming a recurring check whose deadline
// elapsed while the process was down (spec §9 Open Question — exposed as a
// config option, defaulting to SkipToNext).
type MissedFirePolicy string

const (
	SkipToNext     MissedFirePolicy = "skip_to_next"
	FireImmediately MissedFirePolicy = "fire_immediately"
)

// Check is a single scheduled message delivery.
type Check struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	FireAt      time.Time `json:"fireAt"`
	Message     string    `json:"message"`
	Recurring   bool      `json:"recurring"`
	IntervalSec int       `json:"intervalSec,omitempty"`
	Status      Status    `json:"status"`
}

// stateFile is the on-disk JSON schema (spec §6 "Scheduler state file").
type stateFile struct {
	Version int     `json:"version"`
	Checks  []Check `json:"checks"`
}

// Sender delivers a message to target. Implementations typically wrap
// command.Helper.SendMessage.
type Sender interface {
	SendMessage(target, message string) error
}

// Clock abstracts time.Now/time.NewTimer so tests can drive the scheduler
// deterministically without sleeping.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) (<-chan time.Time, func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) NewTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Scheduler owns every Scheduled Check and runs a single timer goroutine
// that always sleeps until the nearest pending deadline.
type Scheduler struct {
	statePath    string
	sender       Sender
	clock        Clock
	minFireLead  time.Duration
	missedPolicy MissedFirePolicy

	mu     sync.Mutex
	checks map[string]*Check

	wake   chan struct{}
	stop   chan struct{}
	doneWg sync.WaitGroup
}

// Option configures New.
type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// New constructs a Scheduler backed by statePath, recovering any persisted
// checks immediately (spec §4.8 "On process start").
func New(statePath string, sender Sender, minFireLead time.Duration, missedPolicy MissedFirePolicy, opts ...Option) (*Scheduler, error) {
	if minFireLead <= 0 {
		minFireLead = 5 * time.Second
	}
	if missedPolicy == "" {
		missedPolicy = SkipToNext
	}
	s := &Scheduler{
		statePath:    statePath,
		sender:       sender,
		clock:        realClock{},
		minFireLead:  minFireLead,
		missedPolicy: missedPolicy,
		checks:       make(map[string]*Check),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// recover loads statePath, drops Fired/Cancelled entries, and re-arms
// Pending entries whose deadline already passed, clipping fireAt forward by
// at least minFireLead (spec §4.8 "no missed-fire storm").
func (s *Scheduler) recover() error {
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		agentlog.Warn("scheduler: corrupt state file, starting empty", "path", s.statePath, "error", err)
		return nil
	}

	now := s.clock.Now()
	for i := range sf.Checks {
		c := sf.Checks[i]
		if c.Status != Pending {
			continue
		}
		if c.FireAt.Before(now) {
			switch s.missedPolicy {
			case FireImmediately:
				c.FireAt = now.Add(s.minFireLead)
			default: // SkipToNext
				if c.Recurring && c.IntervalSec > 0 {
					interval := time.Duration(c.IntervalSec) * time.Second
					next := c.FireAt
					for !next.After(now) {
						next = next.Add(interval)
					}
					c.FireAt = next
				} else {
					c.FireAt = now.Add(s.minFireLead)
				}
			}
			if c.FireAt.Before(now.Add(s.minFireLead)) {
				c.FireAt = now.Add(s.minFireLead)
			}
		}
		cc := c
		s.checks[cc.ID] = &cc
	}
	return nil
}

// Run starts the single timer goroutine and returns immediately. The
// goroutine runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.doneWg.Add(1)
	go s.loop(ctx)
}

// Stop halts the timer goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.doneWg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.doneWg.Done()
	for {
		d, id, ok := s.nextDeadline()
		var timerC <-chan time.Time
		var cancelTimer func() bool
		if ok {
			timerC, cancelTimer = s.clock.NewTimer(d)
		} else {
			// No pending checks: wait indefinitely for a wake signal.
			timerC, cancelTimer = s.clock.NewTimer(24 * time.Hour)
		}
		select {
		case <-ctx.Done():
			cancelTimer()
			return
		case <-s.stop:
			cancelTimer()
			return
		case <-s.wake:
			cancelTimer()
			continue
		case <-timerC:
			if ok {
				s.fire(id)
			}
		}
	}
}

// nextDeadline returns the soonest pending check's (duration-from-now, id),
// ties broken by id for deterministic ordering (spec §5 ordering guarantee iv).
func (s *Scheduler) nextDeadline() (time.Duration, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Check
	for _, c := range s.checks {
		if c.Status != Pending {
			continue
		}
		if best == nil || c.FireAt.Before(best.FireAt) || (c.FireAt.Equal(best.FireAt) && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return 0, "", false
	}
	d := best.FireAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, best.ID, true
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	c, ok := s.checks[id]
	if !ok || c.Status != Pending {
		s.mu.Unlock()
		return
	}
	target, message := c.Target, c.Message
	s.mu.Unlock()

	err := s.sender.SendMessage(target, message)
	if err != nil {
		agentlog.Warn("scheduler: delivery failed", "id", id, "target", target, "error", err)
	}

	s.mu.Lock()
	c, ok = s.checks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if c.Recurring && c.IntervalSec > 0 {
		c.FireAt = c.FireAt.Add(time.Duration(c.IntervalSec) * time.Second)
		// Recurring checks continue their cadence even after a delivery
		// failure (spec §4.8 error semantics).
	} else {
		c.Status = Fired
	}
	s.mu.Unlock()

	s.persist()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ScheduleOnce arms a one-shot check firing `in` from now.
func (s *Scheduler) ScheduleOnce(target string, in time.Duration, message string) (string, error) {
	return s.schedule(target, in, message, false, 0)
}

// ScheduleRecurring arms a recurring check with the given interval,
// firing first after interval elapses.
func (s *Scheduler) ScheduleRecurring(target string, interval time.Duration, message string) (string, error) {
	return s.schedule(target, interval, message, true, int(interval.Seconds()))
}

func (s *Scheduler) schedule(target string, in time.Duration, message string, recurring bool, intervalSec int) (string, error) {
	if target == "" {
		return "", fmt.Errorf("scheduler: target must not be empty")
	}
	if in <= 0 {
		return "", fmt.Errorf("scheduler: delay must be positive")
	}
	id := uuid.NewString()
	c := &Check{
		ID:          id,
		Target:      target,
		FireAt:      s.clock.Now().Add(in),
		Message:     message,
		Recurring:   recurring,
		IntervalSec: intervalSec,
		Status:      Pending,
	}
	s.mu.Lock()
	s.checks[id] = c
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return "", err
	}
	s.signalWake()
	return id, nil
}

// Cancel marks id Cancelled. Idempotent: cancelling an unknown or
// already-terminal id returns false without error. Eventually consistent
// with an in-flight fire (spec §4.8): a timer already past the fire
// decision point may still deliver one message.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	c, ok := s.checks[id]
	if !ok || c.Status != Pending {
		s.mu.Unlock()
		return false
	}
	c.Status = Cancelled
	s.mu.Unlock()
	s.persist()
	s.signalWake()
	return true
}

// ListAll returns every check, sorted by fireAt then id.
func (s *Scheduler) ListAll() []Check {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Check, 0, len(s.checks))
	for _, c := range s.checks {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// ListFor returns every check targeting target, sorted by fireAt then id.
func (s *Scheduler) ListFor(target string) []Check {
	all := s.ListAll()
	out := make([]Check, 0, len(all))
	for _, c := range all {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scheduler) persist() error {
	s.mu.Lock()
	checks := make([]Check, 0, len(s.checks))
	for _, c := range s.checks {
		checks = append(checks, *c)
	}
	s.mu.Unlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].ID < checks[j].ID })

	data, err := json.MarshalIndent(stateFile{Version: 1, Checks: checks}, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.Write(s.statePath, data, 0o644); err != nil {
		agentlog.Error("scheduler: persist failed", "path", s.statePath, "error", err)
		return err
	}
	return nil
}
