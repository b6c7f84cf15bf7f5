package watchdog

import (
	"sync"
	"testing"
	"time"
)

type recordingBus struct {
	mu     sync.Mutex
	alerts []Alert
}

func (b *recordingBus) Publish(event any) {
	a, ok := event.(Alert)
	if !ok {
		return
	}
	b.mu.Lock()
	b.alerts = append(b.alerts, a)
	b.mu.Unlock()
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

func TestEvaluateBelowWarningPublishesNothing(t *testing.T) {
	bus := &recordingBus{}
	w := New(Config{AlertCooldown: time.Minute, Disk: Thresholds{Warning: 85, Critical: 95}}, bus, nil)

	w.evaluate("disk", 50, w.cfg.Disk, time.Now(), w.cfg.AlertCooldown)

	if bus.count() != 0 {
		t.Errorf("alerts = %d, want 0 below warning threshold", bus.count())
	}
}

func TestEvaluateCrossingWarningPublishesOnce(t *testing.T) {
	bus := &recordingBus{}
	w := New(Config{AlertCooldown: time.Minute, Disk: Thresholds{Warning: 85, Critical: 95}}, bus, nil)

	now := time.Now()
	w.evaluate("disk", 90, w.cfg.Disk, now, w.cfg.AlertCooldown)

	if bus.count() != 1 {
		t.Fatalf("alerts = %d, want 1", bus.count())
	}
	if bus.alerts[0].Severity != SeverityWarning {
		t.Errorf("severity = %v, want Warning", bus.alerts[0].Severity)
	}
}

func TestEvaluateCriticalOverridesWarning(t *testing.T) {
	bus := &recordingBus{}
	w := New(Config{AlertCooldown: time.Minute, Disk: Thresholds{Warning: 85, Critical: 95}}, bus, nil)

	w.evaluate("disk", 99, w.cfg.Disk, time.Now(), w.cfg.AlertCooldown)

	if bus.count() != 1 || bus.alerts[0].Severity != SeverityCritical {
		t.Fatalf("alerts = %+v, want one Critical alert", bus.alerts)
	}
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	bus := &recordingBus{}
	w := New(Config{AlertCooldown: time.Minute, Disk: Thresholds{Warning: 85, Critical: 95}}, bus, nil)

	base := time.Now()
	w.evaluate("disk", 90, w.cfg.Disk, base, w.cfg.AlertCooldown)
	w.evaluate("disk", 92, w.cfg.Disk, base.Add(10*time.Second), w.cfg.AlertCooldown)

	if bus.count() != 1 {
		t.Fatalf("alerts = %d, want 1 (second crossing within cooldown suppressed)", bus.count())
	}

	w.evaluate("disk", 92, w.cfg.Disk, base.Add(2*time.Minute), w.cfg.AlertCooldown)
	if bus.count() != 2 {
		t.Errorf("alerts = %d, want 2 after cooldown elapses", bus.count())
	}
}

func TestEvaluateWarningAndCriticalHaveIndependentCooldownKeys(t *testing.T) {
	bus := &recordingBus{}
	w := New(Config{AlertCooldown: time.Minute, Disk: Thresholds{Warning: 85, Critical: 95}}, bus, nil)

	base := time.Now()
	w.evaluate("disk", 90, w.cfg.Disk, base, w.cfg.AlertCooldown)
	w.evaluate("disk", 99, w.cfg.Disk, base.Add(time.Second), w.cfg.AlertCooldown)

	if bus.count() != 2 {
		t.Fatalf("alerts = %d, want 2 (warning and critical are separate keys)", bus.count())
	}
	if bus.alerts[0].Severity != SeverityWarning || bus.alerts[1].Severity != SeverityCritical {
		t.Errorf("alerts = %+v, want [Warning, Critical]", bus.alerts)
	}
}

func TestNewFillsDefaults(t *testing.T) {
	w := New(Config{}, nil, nil)
	if w.cfg.DiskPath != "/" {
		t.Errorf("DiskPath = %q, want /", w.cfg.DiskPath)
	}
	if w.cfg.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s", w.cfg.PollInterval)
	}
	if w.cfg.Disk.Warning != 85 || w.cfg.Disk.Critical != 95 {
		t.Errorf("Disk thresholds = %+v, want {85 95}", w.cfg.Disk)
	}
}

func TestUpdateThresholdsReplacesLiveConfig(t *testing.T) {
	bus := &recordingBus{}
	w := New(Config{AlertCooldown: time.Minute, Disk: Thresholds{Warning: 85, Critical: 95}}, bus, nil)

	w.UpdateThresholds(Thresholds{Warning: 50, Critical: 60}, Thresholds{Warning: 70, Critical: 80}, Thresholds{Warning: 90, Critical: 99}, 5*time.Second)

	w.cfgMu.RLock()
	cfg := w.cfg
	w.cfgMu.RUnlock()
	if cfg.Disk.Warning != 50 || cfg.Disk.Critical != 60 {
		t.Errorf("Disk thresholds after update = %+v, want {50 60}", cfg.Disk)
	}
	if cfg.AlertCooldown != 5*time.Second {
		t.Errorf("AlertCooldown after update = %v, want 5s", cfg.AlertCooldown)
	}

	w.evaluate("disk", 55, cfg.Disk, time.Now(), cfg.AlertCooldown)
	if bus.count() != 1 {
		t.Errorf("alerts = %d, want 1 using the updated lower warning threshold", bus.count())
	}
}
