// Package monitor implements the Output Monitor (spec §4.5): a per-session
// rolling buffer + pattern matcher + process-liveness poller that confirms
// runtime exit and delegates to the Supervisor (which publishes the
// session.status event) and the Memory Service. Grounded on the teacher's internal/egg/server.go PTY read loop
// and the "watchdog" diagnostic timers in RunSession/startupWatchdog, which
// are the closest in-pack precedent for grace-period + liveness-poll exit
// detection.
package monitor

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
	"github.com/ehrlich-b/agentctl/internal/ptyproc"
	"github.com/ehrlich-b/agentctl/internal/registry"
)

// MemoryService is the external best-effort memory snapshot sink consumed
// on confirmed exit (spec §4.5 point 3). Opaque beyond this contract.
type MemoryService interface {
	SnapshotSession(ctx context.Context, sessionName, role, tail string)
}

// EventBus is the bus surface handed to New. The monitor keeps the
// reference but publishes nothing itself: session.status events come from
// the ExitCallback (see confirmExit). See internal/eventbus for the
// concrete Bus type.
type EventBus interface {
	Publish(event any)
}

// ExitCallback matches the Supervisor's onExitDetected hook.
type ExitCallback func(name string, kind registry.RuntimeKind, role, teamID, memberID string)

// Config is the subset of config.Config the monitor consumes.
type Config struct {
	MaxBufferSize       int
	StartupGrace        time.Duration
	ConfirmationDelay   time.Duration
	ProcessPollInterval time.Duration
	ProcessPollGrace    time.Duration
}

// Monitor tracks one rolling buffer + exit-detection state machine per
// monitored session.
type Monitor struct {
	cfg    Config
	reg    *registry.Registry
	bus    EventBus
	memory MemoryService
	onExit ExitCallback

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	buf           *rollingBuffer
	createdAt     time.Time
	unsubData     ptyproc.Unsubscribe
	unsubExit     ptyproc.Unsubscribe
	exitPatterns  []*regexp.Regexp
	confirmed     bool
	cancelPoll    chan struct{}
	cancelConfirm chan struct{}
	role          string
	kind          registry.RuntimeKind
	teamID        string
	memberID      string
}

func New(cfg Config, reg *registry.Registry, bus EventBus, memory MemoryService, onExit ExitCallback) *Monitor {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 16 * 1024
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = 60 * time.Second
	}
	if cfg.ConfirmationDelay <= 0 {
		cfg.ConfirmationDelay = 750 * time.Millisecond
	}
	if cfg.ProcessPollInterval <= 0 {
		cfg.ProcessPollInterval = 5 * time.Second
	}
	if cfg.ProcessPollGrace <= 0 {
		cfg.ProcessPollGrace = 30 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		reg:      reg,
		bus:      bus,
		memory:   memory,
		onExit:   onExit,
		sessions: make(map[string]*sessionState),
	}
}

// Start begins monitoring a session's PTY output for the given runtime's
// exit patterns. Idempotent: a second call cancels the previous subscription
// before installing a fresh one, so exactly one subscription is live at
// rest (spec §4.5 "Starting the monitor twice").
func (m *Monitor) Start(sess *registry.Session, patterns []string) error {
	exitRes := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			// Fall back to literal substring matching via QuoteMeta so a
			// malformed pattern never silently disables exit detection.
			re = regexp.MustCompile(regexp.QuoteMeta(p))
		}
		exitRes = append(exitRes, re)
	}

	m.mu.Lock()
	if old, ok := m.sessions[sess.Name]; ok {
		m.stopLocked(sess.Name, old)
	}
	m.mu.Unlock()

	st := &sessionState{
		buf:          newRollingBuffer(m.cfg.MaxBufferSize),
		createdAt:    time.Now(),
		exitPatterns: exitRes,
		cancelPoll:   make(chan struct{}),
		role:         sess.Role,
		kind:         sess.RuntimeKind,
		teamID:       sess.TeamID,
		memberID:     sess.MemberID,
	}

	unsubData, err := sess.Proc.OnData(func(data []byte) {
		st.buf.Append(data)
		m.checkExit(sess.Name, st)
	})
	if err != nil {
		return err
	}
	unsubExit, err := sess.Proc.OnExit(func(error) {
		m.confirmExit(sess.Name, st)
	})
	if err != nil {
		unsubData()
		return err
	}
	st.unsubData = unsubData
	st.unsubExit = unsubExit

	sess.TailFn = func(lines int) string { return st.buf.TailLines(lines) }

	m.mu.Lock()
	m.sessions[sess.Name] = st
	m.mu.Unlock()

	go m.pollProcessLiveness(sess.Name, sess.Pid, st)

	return nil
}

// Stop cancels monitoring for name, releasing its PTY subscriptions.
func (m *Monitor) Stop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[name]; ok {
		m.stopLocked(name, st)
	}
}

func (m *Monitor) stopLocked(name string, st *sessionState) {
	if st.unsubData != nil {
		st.unsubData()
	}
	if st.unsubExit != nil {
		st.unsubExit()
	}
	close(st.cancelPoll)
	delete(m.sessions, name)
}

func (m *Monitor) checkExit(name string, st *sessionState) {
	m.mu.Lock()
	if st.confirmed {
		m.mu.Unlock()
		return
	}
	if time.Since(st.createdAt) < m.cfg.StartupGrace {
		// Suppress false triggers on startup banners (spec §4.5).
		m.mu.Unlock()
		return
	}
	if st.cancelConfirm != nil {
		m.mu.Unlock()
		return // debounce already pending
	}
	snapshot := st.buf.String()
	matched := false
	for _, re := range st.exitPatterns {
		if re.MatchString(snapshot) {
			matched = true
			break
		}
	}
	if !matched {
		m.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	st.cancelConfirm = cancel
	m.mu.Unlock()

	go func() {
		t := time.NewTimer(m.cfg.ConfirmationDelay)
		defer t.Stop()
		select {
		case <-cancel:
			return
		case <-t.C:
		}
		m.mu.Lock()
		st.cancelConfirm = nil
		reMatched := false
		snap := st.buf.String()
		for _, re := range st.exitPatterns {
			if re.MatchString(snap) {
				reMatched = true
				break
			}
		}
		m.mu.Unlock()
		if reMatched {
			m.confirmExit(name, st)
		}
	}()
}

func (m *Monitor) pollProcessLiveness(name string, pid int, st *sessionState) {
	t := time.NewTimer(m.cfg.ProcessPollGrace)
	defer t.Stop()
	select {
	case <-st.cancelPoll:
		return
	case <-t.C:
	}

	ticker := time.NewTicker(m.cfg.ProcessPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.cancelPoll:
			return
		case <-ticker.C:
			if !ptyproc.IsAlive(pid) {
				m.confirmExit(name, st)
				return
			}
		}
	}
}

// confirmExit applies the single confirmation latch: once an exit is
// confirmed, further matches for that session are ignored until restart
// clears the latch via Start.
func (m *Monitor) confirmExit(name string, st *sessionState) {
	m.mu.Lock()
	if st.confirmed {
		m.mu.Unlock()
		return
	}
	st.confirmed = true
	tail := st.buf.TailLines(50)
	role, kind, teamID, memberID := st.role, st.kind, st.teamID, st.memberID
	m.mu.Unlock()

	agentlog.Info("monitor: exit confirmed", "session", name)

	// onExit (Supervisor.onExitDetected) is the sole source of the
	// session.status bus event: it alone knows whether this exit is a
	// restart (superseding Inactive) or a true Inactive/runtime_exited,
	// and whether the session is the orchestrator. Publishing a second,
	// monitor-local status event here would double-fire Inactive on a
	// plain exit and still fire it on the restart path.
	if m.onExit != nil {
		m.onExit(name, kind, role, teamID, memberID)
	}
	if m.memory != nil {
		go m.memory.SnapshotSession(context.Background(), name, role, tail)
	}
}
