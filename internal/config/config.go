// Package config holds orchestrator-wide settings: the reserved orchestrator
// session name, every runtime-timing constant the spec requires to be
// policy rather than hard-coded, and watchdog/scheduler tuning. Loaded from
// YAML the way the teacher loads wing.yaml, with the same "missing file is
// not an error" tolerance, plus fsnotify-driven hot reload for long-lived
// daemons.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MissedFirePolicy controls what the Scheduler does with a recurring check
// whose deadline passed while the process was down.
type MissedFirePolicy string

const (
	SkipToNext      MissedFirePolicy = "skip_to_next"
	FireImmediately MissedFirePolicy = "fire_immediately"
)

// Config is the full set of tunables consumed by the session runtime.
// All fields have production-ready defaults; every file is optional.
type Config struct {
	Home     string `yaml:"home,omitempty"`
	StateDir string `yaml:"state_dir,omitempty"`

	OrchestratorSessionName string `yaml:"orchestrator_session_name,omitempty"`

	// Command Helper
	SendCRDelay time.Duration `yaml:"send_cr_delay,omitempty"`

	// PTY Backend
	MaxCols int `yaml:"max_cols,omitempty"`
	MaxRows int `yaml:"max_rows,omitempty"`

	// Output Monitor
	MaxBufferSize       int           `yaml:"max_buffer_size,omitempty"`
	StartupGrace        time.Duration `yaml:"startup_grace,omitempty"`
	ConfirmationDelay   time.Duration `yaml:"confirmation_delay,omitempty"`
	ProcessPollInterval time.Duration `yaml:"process_poll_interval,omitempty"`
	ProcessPollGrace    time.Duration `yaml:"process_poll_grace,omitempty"`

	// Runtime Adapter
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`

	// Activity Tracker
	ActiveTTL time.Duration `yaml:"active_ttl,omitempty"`
	IdleTTL   time.Duration `yaml:"idle_ttl,omitempty"`

	// Session Supervisor
	ForceKillEscalationDelay time.Duration `yaml:"force_kill_escalation_delay,omitempty"`

	// Scheduler
	MinFireLeadSec            int              `yaml:"min_fire_lead_sec,omitempty"`
	SchedulerMissedFirePolicy MissedFirePolicy `yaml:"scheduler_missed_fire_policy,omitempty"`

	// State Checkpoint Store
	BackupRetention    int           `yaml:"backup_retention,omitempty"`
	ResumeConvWindow   time.Duration `yaml:"resume_conv_window,omitempty"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval,omitempty"`
	MaxRecentMessages  int           `yaml:"max_recent_messages,omitempty"`

	// Resource Watchdog
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	AlertCooldown   time.Duration `yaml:"alert_cooldown,omitempty"`
	DiskWarningPct  float64       `yaml:"disk_warning_pct,omitempty"`
	DiskCriticalPct float64       `yaml:"disk_critical_pct,omitempty"`
	MemWarningPct   float64       `yaml:"mem_warning_pct,omitempty"`
	MemCriticalPct  float64       `yaml:"mem_critical_pct,omitempty"`
	CPUWarningPct   float64       `yaml:"cpu_warning_pct,omitempty"`
	CPUCriticalPct  float64       `yaml:"cpu_critical_pct,omitempty"`

	// listener caps, guard against subscribe-without-unsubscribe leaks
	MaxDataListeners int `yaml:"max_data_listeners,omitempty"`
	MaxExitListeners int `yaml:"max_exit_listeners,omitempty"`

	// SourcePath is the file Load read cfg from; Watcher uses it to find
	// the directory to watch. Not persisted.
	SourcePath string `yaml:"-"`
}

// Default returns a Config with every production default from spec §9 filled in.
func Default() *Config {
	return &Config{
		OrchestratorSessionName: "orchestrator",

		SendCRDelay: 100 * time.Millisecond,

		MaxCols: 500,
		MaxRows: 200,

		MaxBufferSize:       16 * 1024,
		StartupGrace:        60 * time.Second,
		ConfirmationDelay:   750 * time.Millisecond,
		ProcessPollInterval: 5 * time.Second,
		ProcessPollGrace:    30 * time.Second,

		ReadyTimeout: 45 * time.Second,

		ActiveTTL: 2 * time.Minute,
		IdleTTL:   10 * time.Minute,

		ForceKillEscalationDelay: 5 * time.Second,

		MinFireLeadSec:            5,
		SchedulerMissedFirePolicy: SkipToNext,

		BackupRetention:    10,
		ResumeConvWindow:   time.Hour,
		CheckpointInterval: 5 * time.Minute,
		MaxRecentMessages:  200,

		PollInterval:    60 * time.Second,
		AlertCooldown:   15 * time.Minute,
		DiskWarningPct:  85,
		DiskCriticalPct: 95,
		MemWarningPct:   85,
		MemCriticalPct:  95,
		CPUWarningPct:   200,
		CPUCriticalPct:  400,

		MaxDataListeners: 32,
		MaxExitListeners: 32,
	}
}

// Load reads path (YAML) over the defaults. A missing file is not an error —
// the teacher's LoadWingConfig does the same for wing.yaml.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.SourcePath = path
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCTL_HOME"); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv("AGENTCTL_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("AGENTCTL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}

	envFloat("AGENTCTL_ALERT_DISK_WARNING_PCT", &cfg.DiskWarningPct)
	envFloat("AGENTCTL_ALERT_DISK_CRITICAL_PCT", &cfg.DiskCriticalPct)
	envFloat("AGENTCTL_ALERT_MEM_WARNING_PCT", &cfg.MemWarningPct)
	envFloat("AGENTCTL_ALERT_MEM_CRITICAL_PCT", &cfg.MemCriticalPct)
	envFloat("AGENTCTL_ALERT_CPU_WARNING_PCT", &cfg.CPUWarningPct)
	envFloat("AGENTCTL_ALERT_CPU_CRITICAL_PCT", &cfg.CPUCriticalPct)
	if v := os.Getenv("AGENTCTL_ALERT_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AlertCooldown = d
		}
	}
}

// envFloat overrides *dst with the env var v if set and parseable.
func envFloat(name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

// DefaultHome returns ~/.agentctl, matching the teacher's ~/.wingthing pattern.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agentctl"), nil
}

func (c *Config) ResolvedStateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	if c.Home != "" {
		return filepath.Join(c.Home, "state")
	}
	return "state"
}
