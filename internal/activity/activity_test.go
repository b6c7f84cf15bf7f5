package activity

import (
	"testing"
	"time"
)

func TestUnknownSessionIsInactive(t *testing.T) {
	tr := New(50*time.Millisecond, 150*time.Millisecond)
	if got := tr.Status("never-seen"); got != Inactive {
		t.Errorf("Status = %v, want Inactive", got)
	}
}

func TestRecordPtyActivityMakesSessionActive(t *testing.T) {
	tr := New(50*time.Millisecond, 150*time.Millisecond)
	tr.RecordPtyActivity("s1")
	if got := tr.Status("s1"); got != Active {
		t.Errorf("Status = %v, want Active immediately after recording", got)
	}
}

func TestTransitionsActiveToIdleToInactive(t *testing.T) {
	tr := New(30*time.Millisecond, 90*time.Millisecond)
	tr.RecordPtyActivity("s1")

	if got := tr.Status("s1"); got != Active {
		t.Fatalf("Status = %v, want Active", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := tr.Status("s1"); got != Idle {
		t.Fatalf("Status = %v, want Idle after activeTTL elapses", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := tr.Status("s1"); got != Inactive {
		t.Fatalf("Status = %v, want Inactive after idleTTL elapses", got)
	}
}

func TestHeartbeatAloneKeepsSessionActive(t *testing.T) {
	tr := New(50*time.Millisecond, 150*time.Millisecond)
	tr.RecordHeartbeat("heartbeat-only")
	if got := tr.Status("heartbeat-only"); got != Active {
		t.Errorf("Status = %v, want Active from heartbeat alone", got)
	}
}

func TestForgetRemovesRecord(t *testing.T) {
	tr := New(50*time.Millisecond, 150*time.Millisecond)
	tr.RecordPtyActivity("s1")
	tr.Forget("s1")
	if got := tr.Status("s1"); got != Inactive {
		t.Errorf("Status after Forget = %v, want Inactive", got)
	}
}

func TestMostRecentSourceWins(t *testing.T) {
	tr := New(30*time.Millisecond, 90*time.Millisecond)
	tr.RecordPtyActivity("s1")
	time.Sleep(40 * time.Millisecond)
	// s1 would be Idle by now from pty alone; a fresh API call should
	// bring it back to Active.
	tr.RecordAPIActivity("s1")
	if got := tr.Status("s1"); got != Active {
		t.Errorf("Status = %v, want Active after a fresh API activity stamp", got)
	}
}
