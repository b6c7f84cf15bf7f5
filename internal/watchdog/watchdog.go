package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
)

// Severity is a threshold crossing's level.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds holds the two-level percentage thresholds for one metric.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Config is the subset of config.Config the watchdog consumes.
type Config struct {
	DiskPath      string
	PollInterval  time.Duration
	AlertCooldown time.Duration
	Disk          Thresholds
	Memory        Thresholds
	CPU           Thresholds
}

// Alert is the payload emitted on threshold crossing (spec §6 "alert event").
type Alert struct {
	Key      string
	Severity Severity
	Message  string
	Ts       time.Time
}

// EventBus is the minimal surface the watchdog needs.
type EventBus interface {
	Publish(event any)
}

// Watchdog periodically samples disk/memory/CPU and emits deduplicated
// alerts; it never takes corrective action itself (spec §4.10).
type Watchdog struct {
	bus     EventBus
	metrics *Metrics

	cfgMu sync.RWMutex
	cfg   Config

	mu           sync.Mutex
	lastAlertFor map[string]time.Time

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, bus EventBus, metrics *Metrics) *Watchdog {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 15 * time.Minute
	}
	if cfg.Disk == (Thresholds{}) {
		cfg.Disk = Thresholds{Warning: 85, Critical: 95}
	}
	if cfg.Memory == (Thresholds{}) {
		cfg.Memory = Thresholds{Warning: 85, Critical: 95}
	}
	if cfg.CPU == (Thresholds{}) {
		cfg.CPU = Thresholds{Warning: 200, Critical: 400}
	}
	return &Watchdog{
		cfg:          cfg,
		bus:          bus,
		metrics:      metrics,
		lastAlertFor: make(map[string]time.Time),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run starts the single sampling goroutine and returns immediately; Stop
// blocks until that goroutine has exited.
func (w *Watchdog) Run(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watchdog) Stop() {
	close(w.stop)
	<-w.done
}

// UpdateThresholds replaces the live threshold and cooldown configuration.
// The daemon's config-reload loop calls this when config.Watcher picks up a
// changed file, so an operator can tighten or loosen
// alerting on a running daemon without a restart; PollInterval is left to
// the next Run since retuning it would mean tearing down the ticker.
func (w *Watchdog) UpdateThresholds(disk, memory, cpu Thresholds, alertCooldown time.Duration) {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()
	w.cfg.Disk = disk
	w.cfg.Memory = memory
	w.cfg.CPU = cpu
	if alertCooldown > 0 {
		w.cfg.AlertCooldown = alertCooldown
	}
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	w.cfgMu.RLock()
	cfg := w.cfg
	w.cfgMu.RUnlock()

	sample := takeSample(cfg.DiskPath)
	if w.metrics != nil {
		w.metrics.observe(sample)
	}

	w.evaluate("disk", sample.DiskPercent, cfg.Disk, sample.At, cfg.AlertCooldown)
	w.evaluate("memory", sample.MemoryPercent, cfg.Memory, sample.At, cfg.AlertCooldown)
	w.evaluate("cpu", sample.CPUPercent, cfg.CPU, sample.At, cfg.AlertCooldown)
}

func (w *Watchdog) evaluate(metric string, value float64, th Thresholds, at time.Time, cooldown time.Duration) {
	var sev Severity
	switch {
	case value >= th.Critical:
		sev = SeverityCritical
	case value >= th.Warning:
		sev = SeverityWarning
	default:
		return
	}

	key := metric + ":" + string(sev)
	w.mu.Lock()
	last, ok := w.lastAlertFor[key]
	if ok && at.Sub(last) < cooldown {
		w.mu.Unlock()
		return
	}
	w.lastAlertFor[key] = at
	w.mu.Unlock()

	msg := fmt.Sprintf("%s at %.1f%% (%s threshold)", metric, value, sev)
	agentlog.Warn("watchdog: alert", "metric", metric, "severity", sev, "value", value)

	if w.metrics != nil {
		w.metrics.AlertsTotal.WithLabelValues(metric, string(sev)).Inc()
	}
	if w.bus != nil {
		w.bus.Publish(Alert{Key: key, Severity: sev, Message: msg, Ts: at})
	}
}
