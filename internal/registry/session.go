// Package registry implements the Session Registry (spec §4.2): a serialized
// map from session name to its live PTY process and metadata.
package registry

import (
	"time"

	"github.com/ehrlich-b/agentctl/internal/ptyproc"
)

// Status is the Session state-machine position (spec §4.7).
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusInactive Status = "inactive"
	StatusExiting  Status = "exiting"
)

// RuntimeKind identifies which in-PTY CLI runtime a session hosts.
type RuntimeKind string

const (
	RuntimeClaudeCode RuntimeKind = "claude_code"
	RuntimeGeminiCLI  RuntimeKind = "gemini_cli"
	RuntimeCodex      RuntimeKind = "codex"
)

// SessionOptions is the input to session creation (spec §6).
type SessionOptions struct {
	Name        string
	Cwd         string
	RuntimeKind RuntimeKind
	Role        string
	TeamID      string
	MemberID    string
	Shell       string
	Env         map[string]string
	Cols        int
	Rows        int
	RuntimeFlags []string
}

// Session is the essential attributes of a live or recently-live PTY-backed
// agent. Owned exclusively by the Registry for its lifetime.
type Session struct {
	Name        string
	Cwd         string
	Pid         int
	RuntimeKind RuntimeKind
	Role        string
	TeamID      string
	MemberID    string

	ResumableSessionID string

	CreatedAt time.Time
	Status    Status

	Proc *ptyproc.Process

	// TailFn returns the last N lines of the session's rolling output
	// buffer. Installed by the Output Monitor when monitoring starts; nil
	// until then. The registry never owns buffer bytes itself (spec §9:
	// "Rolling buffer vs. unbounded log" — keep these paths distinct).
	TailFn func(lines int) string

	// Unsubscribe handles owned by this session, released on destroy.
	unsubData Unsubscribe
	unsubExit Unsubscribe
}

// Unsubscribe matches ptyproc.Unsubscribe so the registry doesn't need to
// import ptyproc in call sites beyond this file.
type Unsubscribe = ptyproc.Unsubscribe

func (s *Session) SetUnsub(data, exit Unsubscribe) {
	s.unsubData = data
	s.unsubExit = exit
}

func (s *Session) releaseSubscriptions() {
	if s.unsubData != nil {
		s.unsubData()
		s.unsubData = nil
	}
	if s.unsubExit != nil {
		s.unsubExit()
		s.unsubExit = nil
	}
}
