// Package supervisor implements the Session Supervisor (spec §4.7): create
// -> init -> post-init, restart-on-exit decisions, and kill escalation.
// Grounded on the teacher's internal/daemon.Run wiring style (explicit
// struct-field dependencies, no package-level singletons) and
// internal/egg/server.go's SIGTERM-then-SIGKILL shutdown sequence.
package supervisor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/agentctl/internal/activity"
	"github.com/ehrlich-b/agentctl/internal/agentlog"
	"github.com/ehrlich-b/agentctl/internal/command"
	"github.com/ehrlich-b/agentctl/internal/eventbus"
	"github.com/ehrlich-b/agentctl/internal/heartbeat"
	"github.com/ehrlich-b/agentctl/internal/monitor"
	"github.com/ehrlich-b/agentctl/internal/ptyproc"
	"github.com/ehrlich-b/agentctl/internal/registry"
	"github.com/ehrlich-b/agentctl/internal/runtimeadapter"
	"github.com/ehrlich-b/agentctl/internal/taskregistry"
)

// Config is the subset of config.Config the Supervisor consumes.
type Config struct {
	OrchestratorSessionName  string
	ReadyTimeout             time.Duration
	ForceKillEscalationDelay time.Duration
	MaxCols                  int
	MaxRows                  int
	MaxDataListeners         int
	MaxExitListeners         int
	MonitorConfig            monitor.Config
}

// CreateResult mirrors spec §6's createAgentSession response shape.
type CreateResult struct {
	Success bool
	Error   string
}

// Supervisor orchestrates session lifecycle.
type Supervisor struct {
	cfg      Config
	reg      *registry.Registry
	adapters *runtimeadapter.Registry
	helper   *command.Helper
	mon      *monitor.Monitor
	bus      *eventbus.Bus
	activity *activity.Tracker
	hb       *heartbeat.Service
	tasks    taskregistry.Registry
}

func New(
	cfg Config,
	reg *registry.Registry,
	adapters *runtimeadapter.Registry,
	helper *command.Helper,
	bus *eventbus.Bus,
	act *activity.Tracker,
	hb *heartbeat.Service,
	tasks taskregistry.Registry,
) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		reg:      reg,
		adapters: adapters,
		helper:   helper,
		bus:      bus,
		activity: act,
		hb:       hb,
		tasks:    tasks,
	}
	s.mon = monitor.New(cfg.MonitorConfig, reg, bus, nil, s.onExitDetected)
	return s
}

// SetMemoryService installs the best-effort memory snapshot sink the Output
// Monitor delegates to on confirmed exit. Optional — nil is a valid no-op.
func (s *Supervisor) SetMemoryService(m monitor.MemoryService) {
	s.mon = monitor.New(s.cfg.MonitorConfig, s.reg, s.bus, m, s.onExitDetected)
}

// Heartbeat records an explicit heartbeat against both the heartbeat
// service's last-seen map and the activity tracker's third source.
func (s *Supervisor) Heartbeat(name string) {
	s.hb.Beat(name)
	s.activity.RecordHeartbeat(name)
}

// Create runs the full create flow: spawn -> resume detection -> init
// script -> await ready -> attach monitor -> post-init -> publish event.
func (s *Supervisor) Create(ctx context.Context, opts registry.SessionOptions) CreateResult {
	if s.reg.Exists(opts.Name) {
		return CreateResult{Success: false, Error: "already exists"}
	}

	adapter, ok := s.adapters.Get(opts.RuntimeKind)
	if !ok {
		return CreateResult{Success: false, Error: fmt.Sprintf("unknown runtime kind %q", opts.RuntimeKind)}
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	shell := opts.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	proc, err := ptyproc.Spawn(ptyproc.Options{
		Cwd:              opts.Cwd,
		Argv:             []string{shell},
		Env:              env,
		Cols:             cols,
		Rows:             rows,
		MaxDataListeners: s.cfg.MaxDataListeners,
		MaxExitListeners: s.cfg.MaxExitListeners,
	})
	if err != nil {
		agentlog.Error("supervisor: spawn failed", "session", opts.Name, "error", err)
		return CreateResult{Success: false, Error: err.Error()}
	}

	sess := &registry.Session{
		Name:        opts.Name,
		Cwd:         opts.Cwd,
		Pid:         proc.Pid,
		RuntimeKind: opts.RuntimeKind,
		Role:        opts.Role,
		TeamID:      opts.TeamID,
		MemberID:    opts.MemberID,
		CreatedAt:   time.Now(),
		Status:      registry.StatusStarting,
		Proc:        proc,
	}

	// Resume detection tolerates absence.
	resumeID, _ := adapter.DetectResumableID(opts.Cwd)
	sess.ResumableSessionID = resumeID

	if err := s.reg.Create(sess); err != nil {
		_ = proc.Kill(syscall.SIGTERM)
		return CreateResult{Success: false, Error: err.Error()}
	}

	for _, line := range adapter.InitCommands(opts.Cwd, resumeID, opts.RuntimeFlags) {
		if err := s.helper.SendMessage(opts.Name, line); err != nil {
			s.failCreate(sess, err)
			return CreateResult{Success: false, Error: err.Error()}
		}
	}

	readyTimeout := s.cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 45 * time.Second
	}
	if err := monitor.WaitForReady(ctx, proc, adapter.ReadyPatterns(), adapter.ErrorPatterns(), readyTimeout); err != nil {
		s.failCreate(sess, err)
		return CreateResult{Success: false, Error: err.Error()}
	}

	_ = s.reg.SetStatus(opts.Name, registry.StatusReady)
	s.activity.RecordPtyActivity(opts.Name)

	if err := s.mon.Start(sess, adapter.ExitPatterns()); err != nil {
		agentlog.Warn("supervisor: monitor attach failed", "session", opts.Name, "error", err)
	}

	if err := adapter.PostInitialize(ctx, sess, opts.Cwd); err != nil {
		agentlog.Warn("supervisor: post-initialize failed", "session", opts.Name, "error", err)
	}

	s.bus.Publish(eventbus.Event{Kind: eventbus.SessionCreated, Name: opts.Name, Role: opts.Role, TeamID: opts.TeamID})
	s.bus.Publish(eventbus.Event{Kind: eventbus.SessionReady, Name: opts.Name})

	return CreateResult{Success: true}
}

func (s *Supervisor) failCreate(sess *registry.Session, cause error) {
	agentlog.Error("supervisor: create failed", "session", sess.Name, "error", cause)
	s.killEscalating(sess.Name)
	s.reg.Remove(sess.Name)
	s.bus.Publish(eventbus.Event{
		Kind:   eventbus.SessionStatus,
		Name:   sess.Name,
		Status: string(registry.StatusInactive),
		Reason: eventbus.ReasonReadinessTimeout,
		Error:  cause.Error(),
	})
}

// onExitDetected is invoked by the Output Monitor once exit is confirmed. It
// implements the restart-on-exit decision tree from spec §4.7.
func (s *Supervisor) onExitDetected(name string, kind registry.RuntimeKind, role, teamID, memberID string) {
	s.activity.Forget(name)
	s.hb.Forget(name)

	if name == s.cfg.OrchestratorSessionName {
		// The orchestrator is never auto-restarted; it is restarted only by
		// an out-of-band mechanism (spec §4.7).
		_ = s.reg.SetStatus(name, registry.StatusInactive)
		s.reg.Remove(name)
		s.bus.Publish(eventbus.Event{Kind: eventbus.SessionStatus, Name: name, Status: string(registry.StatusInactive), Reason: eventbus.ReasonRuntimeExited})
		return
	}

	restartable, err := taskregistry.HasRestartableTask(s.tasks, memberID)
	if err != nil {
		agentlog.Warn("supervisor: task registry lookup failed", "session", name, "error", err)
	}

	sess, ok := s.reg.Get(name)
	var cwd, cwdRole, cwdTeam string
	if ok {
		cwd, cwdRole, cwdTeam = sess.Cwd, sess.Role, sess.TeamID
	} else {
		cwd, cwdRole, cwdTeam = "", role, teamID
	}

	s.reg.Remove(name)

	if !restartable {
		s.bus.Publish(eventbus.Event{Kind: eventbus.SessionStatus, Name: name, Status: string(registry.StatusInactive), Reason: eventbus.ReasonRuntimeExited})
		return
	}

	result := s.Create(context.Background(), registry.SessionOptions{
		Name:        name,
		Cwd:         cwd,
		RuntimeKind: kind,
		Role:        cwdRole,
		TeamID:      cwdTeam,
		MemberID:    memberID,
	})
	if !result.Success {
		agentlog.Error("supervisor: restart failed, falling back to inactive", "session", name, "error", result.Error)
		s.bus.Publish(eventbus.Event{Kind: eventbus.SessionStatus, Name: name, Status: string(registry.StatusInactive), Reason: eventbus.ReasonRuntimeExited, Error: result.Error})
		return
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.SessionStatus, Name: name, Status: string(registry.StatusReady), Reason: eventbus.ReasonRestarted})
}

// Kill escalates: SIGTERM, wait ForceKillEscalationDelay, then SIGKILL to
// the pid (if still alive) and to the process group (-pid), catching
// subprocesses the runtime spawned. ESRCH is treated as benign and not logged.
func (s *Supervisor) Kill(name string) error {
	s.mon.Stop(name)
	s.killEscalating(name)
	s.activity.Forget(name)
	s.hb.Forget(name)
	s.reg.Remove(name)
	s.bus.Publish(eventbus.Event{Kind: eventbus.SessionStatus, Name: name, Status: string(registry.StatusInactive), Reason: eventbus.ReasonKilled})
	return nil
}

func (s *Supervisor) killEscalating(name string) {
	sess, ok := s.reg.Get(name)
	if !ok || sess.Proc == nil {
		return
	}
	delay := s.cfg.ForceKillEscalationDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	if err := sess.Proc.Kill(syscall.SIGTERM); err != nil {
		agentlog.Warn("supervisor: SIGTERM failed", "session", name, "error", err)
	}
	time.Sleep(delay)
	if ptyproc.IsAlive(sess.Pid) {
		if err := sess.Proc.Kill(syscall.SIGKILL); err != nil {
			agentlog.Warn("supervisor: SIGKILL failed", "session", name, "error", err)
		}
	}
	// The group is signalled even when the leader already exited, since its
	// children may outlive it.
	if err := sess.Proc.KillGroup(syscall.SIGKILL); err != nil {
		agentlog.Warn("supervisor: SIGKILL process group failed", "session", name, "error", err)
	}
}

// Shutdown stops monitoring and kills every live session concurrently,
// returning once all escalation sequences have completed (spec §5
// "kills sessions with the escalation sequence in parallel").
func (s *Supervisor) Shutdown() {
	var g errgroup.Group
	for _, sess := range s.reg.List() {
		name := sess.Name
		g.Go(func() error {
			return s.Kill(name)
		})
	}
	_ = g.Wait()
}
