// Package daemon wires every long-lived service into one process and
// drives graceful shutdown. Grounded directly on the teacher's
// internal/daemon/daemon.go: open the store, recover interrupted state,
// build the dependency graph by hand (no DI container), start each service
// in its own goroutine, and select on signals vs. first service error.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ehrlich-b/agentctl/internal/activity"
	"github.com/ehrlich-b/agentctl/internal/agentlog"
	"github.com/ehrlich-b/agentctl/internal/checkpoint"
	"github.com/ehrlich-b/agentctl/internal/command"
	"github.com/ehrlich-b/agentctl/internal/config"
	"github.com/ehrlich-b/agentctl/internal/eventbus"
	"github.com/ehrlich-b/agentctl/internal/heartbeat"
	"github.com/ehrlich-b/agentctl/internal/monitor"
	"github.com/ehrlich-b/agentctl/internal/registry"
	"github.com/ehrlich-b/agentctl/internal/runtimeadapter"
	"github.com/ehrlich-b/agentctl/internal/scheduler"
	"github.com/ehrlich-b/agentctl/internal/store"
	"github.com/ehrlich-b/agentctl/internal/supervisor"
	"github.com/ehrlich-b/agentctl/internal/watchdog"
)

// ErrInterrupted is returned by Run when it shut down because of a
// termination signal (spec §6 exit code 130), as opposed to a fatal
// service error.
var ErrInterrupted = errors.New("daemon: interrupted")

// Daemon bundles the constructed service graph so status/introspection
// commands (and tests) can reach into it without re-wiring everything.
type Daemon struct {
	Config      *config.Config
	Store       *store.Store
	Registry    *registry.Registry
	Supervisor  *supervisor.Supervisor
	Scheduler   *scheduler.Scheduler
	Checkpoint  *checkpoint.Store
	Watchdog    *watchdog.Watchdog
	Bus         *eventbus.Bus
	WSBroadcast *eventbus.WSBroadcaster
}

// schedulerSender adapts command.Helper to scheduler.Sender.
type schedulerSender struct{ h *command.Helper }

func (s schedulerSender) SendMessage(target, message string) error {
	return s.h.SendMessage(target, message)
}

// Build constructs every service per cfg but does not start any goroutines.
func Build(cfg *config.Config) (*Daemon, error) {
	stateDir := cfg.ResolvedStateDir()
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: mkdir state dir: %w", err)
	}

	db, err := store.Open(filepath.Join(stateDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	reg := registry.New()
	bus := eventbus.New()
	helper := command.New(reg, cfg.SendCRDelay)

	adapters := runtimeadapter.NewRegistry()
	adapters.Register(registry.RuntimeClaudeCode, runtimeadapter.NewClaude())
	adapters.Register(registry.RuntimeCodex, runtimeadapter.NewCodex())
	adapters.Register(registry.RuntimeGeminiCLI, runtimeadapter.NewGemini(""))

	act := activity.New(cfg.ActiveTTL, cfg.IdleTTL)
	hb := heartbeat.New()

	sv := supervisor.New(
		supervisor.Config{
			OrchestratorSessionName:  cfg.OrchestratorSessionName,
			ReadyTimeout:             cfg.ReadyTimeout,
			ForceKillEscalationDelay: cfg.ForceKillEscalationDelay,
			MaxCols:                  cfg.MaxCols,
			MaxRows:                  cfg.MaxRows,
			MaxDataListeners:         cfg.MaxDataListeners,
			MaxExitListeners:         cfg.MaxExitListeners,
			MonitorConfig: monitor.Config{
				MaxBufferSize:       cfg.MaxBufferSize,
				StartupGrace:        cfg.StartupGrace,
				ConfirmationDelay:   cfg.ConfirmationDelay,
				ProcessPollInterval: cfg.ProcessPollInterval,
				ProcessPollGrace:    cfg.ProcessPollGrace,
			},
		},
		reg, adapters, helper, bus, act, hb, db,
	)

	sched, err := scheduler.New(
		filepath.Join(stateDir, "scheduler.json"),
		schedulerSender{h: helper},
		time.Duration(cfg.MinFireLeadSec)*time.Second,
		scheduler.MissedFirePolicy(cfg.SchedulerMissedFirePolicy),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("daemon: build scheduler: %w", err)
	}

	cp := checkpoint.New(cfg.Home, "orchestrator", cfg.BackupRetention, cfg.ResumeConvWindow, checkpoint.WithIndex(db))

	metrics := watchdog.NewMetrics()
	wd := watchdog.New(watchdog.Config{
		DiskPath:      cfg.ResolvedStateDir(),
		PollInterval:  cfg.PollInterval,
		AlertCooldown: cfg.AlertCooldown,
		Disk:          watchdog.Thresholds{Warning: cfg.DiskWarningPct, Critical: cfg.DiskCriticalPct},
		Memory:        watchdog.Thresholds{Warning: cfg.MemWarningPct, Critical: cfg.MemCriticalPct},
		CPU:           watchdog.Thresholds{Warning: cfg.CPUWarningPct, Critical: cfg.CPUCriticalPct},
	}, bus, metrics)

	ws := eventbus.NewWSBroadcaster(bus)

	return &Daemon{
		Config:      cfg,
		Store:       db,
		Registry:    reg,
		Supervisor:  sv,
		Scheduler:   sched,
		Checkpoint:  cp,
		Watchdog:    wd,
		Bus:         bus,
		WSBroadcast: ws,
	}, nil
}

// Run starts every background service and blocks until a termination
// signal arrives, then shuts down: stop the scheduler, watchdog and ws
// broadcaster, run prepareForShutdown on the Checkpoint Store, then
// Supervisor.Shutdown, which stops each session's monitor and kills the
// sessions in parallel. Monitors are therefore still running while the
// checkpoint is saved; no monitor is stopped before that save.
func Run(cfg *config.Config) error {
	d, err := Build(cfg)
	if err != nil {
		return err
	}
	defer d.Store.Close()

	if _, err := d.Checkpoint.Initialize(); err != nil {
		agentlog.Warn("daemon: checkpoint initialize failed", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	configPath := cfg.SourcePath
	if configPath != "" {
		if w, err := config.NewWatcher(configPath); err != nil {
			agentlog.Warn("daemon: config watcher disabled", "path", configPath, "error", err)
		} else {
			go d.watchConfigReloads(ctx, w)
			defer w.Close()
		}
	}

	d.Scheduler.Run(ctx)
	d.Watchdog.Run(ctx)

	if cfg.CheckpointInterval > 0 {
		go d.periodicCheckpoint(ctx, cfg.CheckpointInterval)
	}

	agentlog.Info("daemon: started", "home", cfg.Home)

	<-ctx.Done()
	agentlog.Info("daemon: shutdown signal received")

	d.Scheduler.Stop()
	d.Watchdog.Stop()
	d.WSBroadcast.Close()

	if err := d.Checkpoint.PrepareForShutdown(); err != nil {
		agentlog.Warn("daemon: checkpoint prepare-for-shutdown failed", "error", err)
	}

	d.Supervisor.Shutdown()

	return ErrInterrupted
}

// watchConfigReloads pushes watchdog threshold changes from a reloaded
// config.Watcher into the running Watchdog. Every other tunable (timeouts,
// buffer sizes, runtime-adapter wiring) is baked into its service at Build
// time and still requires a restart.
func (d *Daemon) watchConfigReloads(ctx context.Context, w *config.Watcher) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	last := w.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := w.Get()
			if cur == last {
				continue
			}
			last = cur
			d.Watchdog.UpdateThresholds(
				watchdog.Thresholds{Warning: cur.DiskWarningPct, Critical: cur.DiskCriticalPct},
				watchdog.Thresholds{Warning: cur.MemWarningPct, Critical: cur.MemCriticalPct},
				watchdog.Thresholds{Warning: cur.CPUWarningPct, Critical: cur.CPUCriticalPct},
				cur.AlertCooldown,
			)
			agentlog.Info("daemon: watchdog thresholds reloaded from config")
		}
	}
}

func (d *Daemon) periodicCheckpoint(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Checkpoint.Save("periodic"); err != nil {
				agentlog.Warn("daemon: periodic checkpoint failed", "error", err)
			}
		}
	}
}
