package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.OrchestratorSessionName != want.OrchestratorSessionName {
		t.Errorf("OrchestratorSessionName = %q, want %q", cfg.OrchestratorSessionName, want.OrchestratorSessionName)
	}
	if cfg.ActiveTTL != want.ActiveTTL {
		t.Errorf("ActiveTTL = %v, want %v", cfg.ActiveTTL, want.ActiveTTL)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.OrchestratorSessionName = "custom-orchestrator"
	cfg.DiskWarningPct = 77

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.OrchestratorSessionName != "custom-orchestrator" {
		t.Errorf("OrchestratorSessionName = %q, want custom-orchestrator", loaded.OrchestratorSessionName)
	}
	if loaded.DiskWarningPct != 77 {
		t.Errorf("DiskWarningPct = %v, want 77", loaded.DiskWarningPct)
	}
}

func TestResolvedStateDirPrecedence(t *testing.T) {
	cfg := &Config{}
	if got := cfg.ResolvedStateDir(); got != "state" {
		t.Errorf("ResolvedStateDir() = %q, want %q with neither set", got, "state")
	}

	cfg.Home = "/home/agentctl"
	if got := cfg.ResolvedStateDir(); got != filepath.Join("/home/agentctl", "state") {
		t.Errorf("ResolvedStateDir() = %q, want Home/state", got)
	}

	cfg.StateDir = "/explicit/state"
	if got := cfg.ResolvedStateDir(); got != "/explicit/state" {
		t.Errorf("ResolvedStateDir() = %q, want explicit StateDir to win", got)
	}
}

func TestDefaultHomeIsDotAgentctl(t *testing.T) {
	home, err := DefaultHome()
	if err != nil {
		t.Fatalf("DefaultHome: %v", err)
	}
	if filepath.Base(home) != ".agentctl" {
		t.Errorf("DefaultHome() = %q, want a path ending in .agentctl", home)
	}
}

func TestEnvOverridesAlertThresholdsAndCooldown(t *testing.T) {
	for k, v := range map[string]string{
		"AGENTCTL_ALERT_DISK_WARNING_PCT":  "70",
		"AGENTCTL_ALERT_DISK_CRITICAL_PCT": "90",
		"AGENTCTL_ALERT_MEM_WARNING_PCT":   "60",
		"AGENTCTL_ALERT_MEM_CRITICAL_PCT":  "80",
		"AGENTCTL_ALERT_CPU_WARNING_PCT":   "150",
		"AGENTCTL_ALERT_CPU_CRITICAL_PCT":  "300",
		"AGENTCTL_ALERT_COOLDOWN":          "5m",
	} {
		t.Setenv(k, v)
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DiskWarningPct != 70 || cfg.DiskCriticalPct != 90 {
		t.Errorf("disk thresholds = %v/%v, want 70/90", cfg.DiskWarningPct, cfg.DiskCriticalPct)
	}
	if cfg.MemWarningPct != 60 || cfg.MemCriticalPct != 80 {
		t.Errorf("mem thresholds = %v/%v, want 60/80", cfg.MemWarningPct, cfg.MemCriticalPct)
	}
	if cfg.CPUWarningPct != 150 || cfg.CPUCriticalPct != 300 {
		t.Errorf("cpu thresholds = %v/%v, want 150/300", cfg.CPUWarningPct, cfg.CPUCriticalPct)
	}
	if cfg.AlertCooldown != 5*time.Minute {
		t.Errorf("AlertCooldown = %v, want 5m", cfg.AlertCooldown)
	}
}

func TestLoadSetsSourcePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourcePath != path {
		t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if got := w.Get().DiskWarningPct; got != Default().DiskWarningPct {
		t.Fatalf("initial DiskWarningPct = %v, want %v", got, Default().DiskWarningPct)
	}

	updated := Default()
	updated.DiskWarningPct = 42
	if err := os.WriteFile(path, mustMarshal(t, updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if w.Get().DiskWarningPct == 42 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never picked up the reloaded DiskWarningPct, got %v", w.Get().DiskWarningPct)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func mustMarshal(t *testing.T, cfg *Config) []byte {
	t.Helper()
	tmp := filepath.Join(t.TempDir(), "tmp.yaml")
	if err := Save(tmp, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return data
}
