package ptyproc

import (
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestSpawnAndReadData(t *testing.T) {
	p, err := Spawn(Options{Argv: []string{"/bin/sh"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Kill(syscall.SIGKILL)

	var mu sync.Mutex
	var buf strings.Builder
	unsub, err := p.OnData(func(data []byte) {
		mu.Lock()
		buf.Write(data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("OnData: %v", err)
	}
	defer unsub()

	if _, err := p.Write([]byte("echo HELLO_FROM_PTY\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		got := buf.String()
		mu.Unlock()
		if strings.Contains(got, "HELLO_FROM_PTY") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("buffer never contained expected output, got: %q", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestKillMakesProcessUnwritable(t *testing.T) {
	p, err := Spawn(Options{Argv: []string{"/bin/sh"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := p.Kill(syscall.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if _, err := p.Write([]byte("echo x\r")); err == nil {
		t.Error("Write after Kill should fail")
	}
}

func TestOnExitFiresWhenProcessExits(t *testing.T) {
	p, err := Spawn(Options{Argv: []string{"/bin/sh"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Kill(syscall.SIGKILL)

	done := make(chan struct{})
	if _, err := p.OnExit(func(error) { close(done) }); err != nil {
		t.Fatalf("OnExit: %v", err)
	}

	if _, err := p.Write([]byte("exit 0\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("OnExit callback never fired")
	}
}

func TestOnDataRespectsListenerCap(t *testing.T) {
	p, err := Spawn(Options{Argv: []string{"/bin/sh"}, Cols: 80, Rows: 24, MaxDataListeners: 1})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Kill(syscall.SIGKILL)

	if _, err := p.OnData(func([]byte) {}); err != nil {
		t.Fatalf("first OnData: %v", err)
	}
	if _, err := p.OnData(func([]byte) {}); err == nil {
		t.Error("second OnData beyond the cap should fail")
	}
}

func TestIsAliveReflectsRealProcessState(t *testing.T) {
	p, err := Spawn(Options{Argv: []string{"/bin/sh"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if !IsAlive(p.Pid) {
		t.Error("IsAlive should report true immediately after spawn")
	}

	p.Kill(syscall.SIGKILL)

	deadline := time.Now().Add(2 * time.Second)
	for IsAlive(p.Pid) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if IsAlive(p.Pid) {
		t.Error("IsAlive should report false after the process is killed and reaped")
	}
}
