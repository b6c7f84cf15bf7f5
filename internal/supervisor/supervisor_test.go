package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/agentctl/internal/activity"
	"github.com/ehrlich-b/agentctl/internal/command"
	"github.com/ehrlich-b/agentctl/internal/eventbus"
	"github.com/ehrlich-b/agentctl/internal/heartbeat"
	"github.com/ehrlich-b/agentctl/internal/monitor"
	"github.com/ehrlich-b/agentctl/internal/registry"
	"github.com/ehrlich-b/agentctl/internal/runtimeadapter"
)

// testRuntime is a made-up RuntimeKind driving a real /bin/sh rather than
// one of the production CLI runtimes, so these tests exercise the full
// spawn -> ready -> monitor -> exit pipeline without depending on claude,
// codex, or gemini being installed.
const testRuntime registry.RuntimeKind = "test_echo"

type echoAdapter struct {
	initCmd string
	ready   []string
	exit    []string
}

func (a echoAdapter) InitCommands(cwd, resumeID string, flags []string) []string {
	return []string{a.initCmd}
}
func (a echoAdapter) ReadyPatterns() []string { return a.ready }
func (a echoAdapter) ErrorPatterns() []string { return nil }
func (a echoAdapter) ExitPatterns() []string  { return a.exit }
func (a echoAdapter) Detect(ctx context.Context, helper *command.Helper, sessionName string) (bool, error) {
	return true, nil
}
func (a echoAdapter) PostInitialize(ctx context.Context, session *registry.Session, projectCwd string) error {
	return nil
}
func (a echoAdapter) DetectResumableID(projectCwd string) (string, error) { return "", nil }

func newTestSupervisor(t *testing.T, orchestratorName string) (*Supervisor, *eventbus.Bus) {
	t.Helper()
	reg := registry.New()
	bus := eventbus.New()
	helper := command.New(reg, 20*time.Millisecond)
	adapters := runtimeadapter.NewRegistry()
	adapters.Register(testRuntime, echoAdapter{
		initCmd: "echo READY_MARKER",
		ready:   []string{"READY_MARKER"},
		exit:    []string{"EXIT_MARKER"},
	})
	act := activity.New(time.Minute, 5*time.Minute)
	hb := heartbeat.New()

	sv := New(Config{
		OrchestratorSessionName:  orchestratorName,
		ReadyTimeout:             3 * time.Second,
		ForceKillEscalationDelay: 100 * time.Millisecond,
		MonitorConfig: monitor.Config{
			MaxBufferSize:       4096,
			StartupGrace:        30 * time.Millisecond,
			ConfirmationDelay:   20 * time.Millisecond,
			ProcessPollInterval: 20 * time.Millisecond,
			ProcessPollGrace:    20 * time.Millisecond,
		},
	}, reg, adapters, helper, bus, act, hb, nil)

	return sv, bus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateWaitsForReadyAndStartsMonitor(t *testing.T) {
	sv, bus := newTestSupervisor(t, "orchestrator")

	var mu sync.Mutex
	var kinds []eventbus.EventKind
	bus.Subscribe(func(e any) {
		if ev, ok := e.(eventbus.Event); ok {
			mu.Lock()
			kinds = append(kinds, ev.Kind)
			mu.Unlock()
		}
	})

	res := sv.Create(context.Background(), registry.SessionOptions{
		Name:        "worker-1",
		Cwd:         t.TempDir(),
		RuntimeKind: testRuntime,
		Shell:       "/bin/sh",
	})
	if !res.Success {
		t.Fatalf("Create failed: %s", res.Error)
	}

	sess, ok := sv.reg.Get("worker-1")
	if !ok {
		t.Fatal("session not found in registry after Create")
	}
	if sess.Status != registry.StatusReady {
		t.Errorf("status = %v, want Ready", sess.Status)
	}

	mu.Lock()
	got := append([]eventbus.EventKind(nil), kinds...)
	mu.Unlock()
	if len(got) != 2 || got[0] != eventbus.SessionCreated || got[1] != eventbus.SessionReady {
		t.Errorf("events = %v, want [session.created session.ready]", got)
	}

	if err := sv.Kill("worker-1"); err != nil {
		t.Fatalf("cleanup Kill: %v", err)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	sv, _ := newTestSupervisor(t, "orchestrator")

	opts := registry.SessionOptions{Name: "dup", Cwd: t.TempDir(), RuntimeKind: testRuntime, Shell: "/bin/sh"}
	res := sv.Create(context.Background(), opts)
	if !res.Success {
		t.Fatalf("first Create failed: %s", res.Error)
	}
	defer sv.Kill("dup")

	res2 := sv.Create(context.Background(), opts)
	if res2.Success {
		t.Error("second Create with the same name should fail")
	}
}

func TestCreateFailsOnUnknownRuntimeKind(t *testing.T) {
	sv, _ := newTestSupervisor(t, "orchestrator")
	res := sv.Create(context.Background(), registry.SessionOptions{
		Name:        "unknown-kind",
		Cwd:         t.TempDir(),
		RuntimeKind: registry.RuntimeKind("does_not_exist"),
	})
	if res.Success {
		t.Error("Create should fail for an unregistered runtime kind")
	}
}

func TestKillRemovesSessionAndPublishesInactive(t *testing.T) {
	sv, bus := newTestSupervisor(t, "orchestrator")

	var mu sync.Mutex
	var reason eventbus.StatusReason
	bus.Subscribe(func(e any) {
		if ev, ok := e.(eventbus.Event); ok && ev.Kind == eventbus.SessionStatus {
			mu.Lock()
			reason = ev.Reason
			mu.Unlock()
		}
	})

	res := sv.Create(context.Background(), registry.SessionOptions{
		Name: "worker-2", Cwd: t.TempDir(), RuntimeKind: testRuntime, Shell: "/bin/sh",
	})
	if !res.Success {
		t.Fatalf("Create failed: %s", res.Error)
	}

	if err := sv.Kill("worker-2"); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if sv.reg.Exists("worker-2") {
		t.Error("session should be removed from registry after Kill")
	}
	mu.Lock()
	got := reason
	mu.Unlock()
	if got != eventbus.ReasonKilled {
		t.Errorf("reason = %v, want killed", got)
	}
}

func TestOrchestratorExitNeverRestarts(t *testing.T) {
	sv, bus := newTestSupervisor(t, "orchestrator")

	var mu sync.Mutex
	var statuses []eventbus.Event
	bus.Subscribe(func(e any) {
		if ev, ok := e.(eventbus.Event); ok && ev.Kind == eventbus.SessionStatus {
			mu.Lock()
			statuses = append(statuses, ev)
			mu.Unlock()
		}
	})

	res := sv.Create(context.Background(), registry.SessionOptions{
		Name: "orchestrator", Cwd: t.TempDir(), RuntimeKind: testRuntime, Shell: "/bin/sh",
	})
	if !res.Success {
		t.Fatalf("Create failed: %s", res.Error)
	}

	if err := sv.helper.SendMessage("orchestrator", "exit 0"); err != nil {
		t.Fatalf("SendMessage(exit): %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) > 0
	})

	// Give a late, duplicate publish (e.g. from the monitor as well as the
	// supervisor) a chance to land before asserting the final count.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := append([]eventbus.Event(nil), statuses...)
	mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("session.status events = %d, want exactly 1 (got %+v)", len(got), got)
	}
	last := got[0]
	if last.Status != string(registry.StatusInactive) || last.Reason != eventbus.ReasonRuntimeExited {
		t.Errorf("status event = %+v, want Inactive/runtime_exited", last)
	}
	if sv.reg.Exists("orchestrator") {
		t.Error("orchestrator session should be removed and never auto-restarted")
	}
}

func TestShutdownKillsAllSessionsInParallel(t *testing.T) {
	sv, _ := newTestSupervisor(t, "orchestrator")

	for _, name := range []string{"a", "b", "c"} {
		res := sv.Create(context.Background(), registry.SessionOptions{
			Name: name, Cwd: t.TempDir(), RuntimeKind: testRuntime, Shell: "/bin/sh",
		})
		if !res.Success {
			t.Fatalf("Create(%s) failed: %s", name, res.Error)
		}
	}

	sv.Shutdown()

	for _, name := range []string{"a", "b", "c"} {
		if sv.reg.Exists(name) {
			t.Errorf("session %q should be removed after Shutdown", name)
		}
	}
}
