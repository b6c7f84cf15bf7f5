package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeSender records every delivery so tests can assert on ordering/content
// without a real command.Helper.
type fakeSender struct {
	mu  sync.Mutex
	got []string
}

func (f *fakeSender) SendMessage(target, message string) error {
	f.mu.Lock()
	f.got = append(f.got, target+":"+message)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	copy(out, f.got)
	return out
}

// fakeClock lets tests advance time deterministically instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) (<-chan time.Time, func() bool) {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	fire := c.now.Add(d)
	c.mu.Unlock()
	stopped := make(chan struct{})
	go func() {
		for {
			c.mu.Lock()
			now := c.now
			c.mu.Unlock()
			if !now.Before(fire) {
				select {
				case ch <- now:
				default:
				}
				return
			}
			select {
			case <-stopped:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()
	return ch, func() bool {
		close(stopped)
		return true
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestScheduleOnceFires(t *testing.T) {
	dir := t.TempDir()
	sender := &fakeSender{}
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(filepath.Join(dir, "sched.json"), sender, time.Second, SkipToNext, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)
	defer s.Stop()

	if _, err := s.ScheduleOnce("orchestrator", 5*time.Second, "wake up"); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	clock.Advance(6 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := sender.messages()
	if len(got) != 1 || got[0] != "orchestrator:wake up" {
		t.Fatalf("messages = %v, want [orchestrator:wake up]", got)
	}
}

func TestCancelIsIdempotentAndPreventsDelivery(t *testing.T) {
	dir := t.TempDir()
	sender := &fakeSender{}
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(filepath.Join(dir, "sched.json"), sender, time.Second, SkipToNext, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)
	defer s.Stop()

	id, err := s.ScheduleOnce("orchestrator", 10*time.Second, "ping")
	if err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	if ok := s.Cancel(id); !ok {
		t.Error("first Cancel should succeed")
	}
	if ok := s.Cancel(id); ok {
		t.Error("second Cancel should be a no-op returning false")
	}

	clock.Advance(20 * time.Second)
	time.Sleep(50 * time.Millisecond)

	if got := sender.messages(); len(got) != 0 {
		t.Errorf("messages = %v, want none after cancel", got)
	}
}

func TestRecoverSkipsOverdueCheckToNext(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sched.json")
	sender := &fakeSender{}

	past := time.Unix(1700000000, 0)
	clock := newFakeClock(past)
	s, err := New(statePath, sender, 5*time.Second, SkipToNext, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.ScheduleOnce("orchestrator", time.Second, "stale"); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	// Simulate the process restarting much later than the deadline.
	laterClock := newFakeClock(past.Add(time.Hour))
	s2, err := New(statePath, sender, 5*time.Second, SkipToNext, WithClock(laterClock))
	if err != nil {
		t.Fatalf("New (recover): %v", err)
	}

	all := s2.ListAll()
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	if !all[0].FireAt.After(laterClock.Now()) {
		t.Errorf("recovered fireAt %v should be clipped forward of now %v", all[0].FireAt, laterClock.Now())
	}
	if all[0].Status != Pending {
		t.Errorf("status = %v, want Pending", all[0].Status)
	}
}

func TestListForFiltersByTarget(t *testing.T) {
	dir := t.TempDir()
	sender := &fakeSender{}
	clock := newFakeClock(time.Unix(1700000000, 0))
	s, err := New(filepath.Join(dir, "sched.json"), sender, time.Second, SkipToNext, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.ScheduleOnce("a", time.Minute, "m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ScheduleOnce("b", time.Minute, "m2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ScheduleOnce("a", 2*time.Minute, "m3"); err != nil {
		t.Fatal(err)
	}

	got := s.ListFor("a")
	if len(got) != 2 {
		t.Fatalf("len(ListFor(a)) = %d, want 2", len(got))
	}
	for _, c := range got {
		if c.Target != "a" {
			t.Errorf("ListFor(a) returned check for target %q", c.Target)
		}
	}
}
