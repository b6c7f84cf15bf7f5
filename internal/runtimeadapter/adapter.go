// Package runtimeadapter implements the Runtime Adapter strategy (spec
// §4.4): per-runtime-kind init commands, ready/error/exit patterns, and
// optional post-init hooks. Grounded on the teacher's per-runtime agent
// implementations (internal/agent/claude.go, codex.go, gemini.go) which
// encode the same "one adapter per CLI" shape, adapted here from a
// stdout-pipe driver to a PTY init-script driver.
package runtimeadapter

import (
	"context"

	"github.com/ehrlich-b/agentctl/internal/command"
	"github.com/ehrlich-b/agentctl/internal/registry"
)

// Adapter is pure with respect to global state; Detect receives the Command
// Helper as a parameter rather than reaching for globals.
type Adapter interface {
	// InitCommands returns the exact shell lines to send to start the
	// in-PTY runtime. resumeID, when non-empty, is spliced in adapter-locally
	// as a --resume flag (or equivalent).
	InitCommands(cwd string, resumeID string, flags []string) []string

	// ReadyPatterns are literal substrings that, appearing in the buffer
	// within READY_TIMEOUT, confirm initialization (matched with
	// strings.Contains, not as regexes).
	ReadyPatterns() []string

	// ErrorPatterns are substrings that, at any time, indicate a fatal
	// startup error.
	ErrorPatterns() []string

	// ExitPatterns are regexes matched against the rolling buffer to detect
	// runtime exit (e.g. "Agent powering down").
	ExitPatterns() []string

	// Detect optionally verifies the runtime truly is the one configured
	// (e.g. "send '/' and compare pane deltas").
	Detect(ctx context.Context, helper *command.Helper, sessionName string) (bool, error)

	// PostInitialize runs an optional side-effect after readiness (e.g.
	// materialize an .mcp.json configuration file).
	PostInitialize(ctx context.Context, session *registry.Session, projectCwd string) error

	// DetectResumableID best-effort discovers an externally stored
	// conversation id for projectCwd.
	DetectResumableID(projectCwd string) (string, error)
}

// Registry maps a registry.RuntimeKind to its Adapter.
type Registry struct {
	adapters map[registry.RuntimeKind]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registry.RuntimeKind]Adapter)}
}

func (r *Registry) Register(kind registry.RuntimeKind, a Adapter) {
	r.adapters[kind] = a
}

func (r *Registry) Get(kind registry.RuntimeKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// base provides shared no-op implementations so concrete adapters only
// override what differs.
type base struct{}

func (base) Detect(ctx context.Context, helper *command.Helper, sessionName string) (bool, error) {
	return true, nil
}

func (base) PostInitialize(ctx context.Context, session *registry.Session, projectCwd string) error {
	return nil
}

func (base) DetectResumableID(projectCwd string) (string, error) {
	return "", nil
}
