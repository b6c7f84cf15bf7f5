// Package command implements the Command Helper (spec §4.3): higher-level
// verbs on a session built atop raw PTY writes, grounded on the teacher's
// ptmx.Write usage in internal/egg/server.go.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehrlich-b/agentctl/internal/agenterr"
	"github.com/ehrlich-b/agentctl/internal/registry"
)

// Sleep is overridable in tests so SEND_CR_DELAY doesn't make the suite slow.
var Sleep = time.Sleep

var keyMap = map[string]string{
	"Enter":    "\r",
	"Escape":   "\x1b",
	"C-c":      "\x03",
	"C-u":      "\x15",
	"Tab":      "\t",
	"PageUp":   "\x1b[5~",
	"PageDown": "\x1b[6~",
	"Up":       "\x1b[A",
	"Down":     "\x1b[B",
	"Left":     "\x1b[D",
	"Right":    "\x1b[C",
}

// Helper issues higher-level commands against sessions held in reg.
type Helper struct {
	reg         *registry.Registry
	sendCRDelay time.Duration
}

func New(reg *registry.Registry, sendCRDelay time.Duration) *Helper {
	if sendCRDelay <= 0 {
		sendCRDelay = 100 * time.Millisecond
	}
	return &Helper{reg: reg, sendCRDelay: sendCRDelay}
}

func (h *Helper) session(name string) (*registry.Session, error) {
	s, ok := h.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("command: session %q: %w", name, agenterr.ErrNotFound)
	}
	return s, nil
}

// SendMessage writes text without a trailing newline, waits SEND_CR_DELAY,
// then writes a lone \r. Two-phase because some runtime REPLs coalesce a
// same-frame CR with the text (spec §4.3). Must not error on long messages;
// any chunking is internal and preserves the "one final CR" contract.
func (h *Helper) SendMessage(name, text string) error {
	s, err := h.session(name)
	if err != nil {
		return err
	}
	if _, err := s.Proc.Write([]byte(text)); err != nil {
		return err
	}
	Sleep(h.sendCRDelay)
	_, err = s.Proc.Write([]byte("\r"))
	return err
}

// SendKey writes the literal escape sequence for a known key name, or the
// string itself when key isn't recognized.
func (h *Helper) SendKey(name, key string) error {
	s, err := h.session(name)
	if err != nil {
		return err
	}
	seq, ok := keyMap[key]
	if !ok {
		seq = key
	}
	_, err = s.Proc.Write([]byte(seq))
	return err
}

// ClearCommandLine sends C-c then C-u to abort a partial input line, then
// waits a short settle delay.
func (h *Helper) ClearCommandLine(name string) error {
	if err := h.SendKey(name, "C-c"); err != nil {
		return err
	}
	if err := h.SendKey(name, "C-u"); err != nil {
		return err
	}
	Sleep(50 * time.Millisecond)
	return nil
}

// CapturePane returns up to the last `lines` lines of the session's terminal
// buffer, without consuming it.
func (h *Helper) CapturePane(name string, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	return h.reg.CaptureTail(name, lines)
}

// SetEnv writes a POSIX export for k=v, escaping inner quotes and backslashes.
func (h *Helper) SetEnv(name, k, v string) error {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
	cmd := fmt.Sprintf(`export %s="%s"`, k, escaped)
	return h.SendMessage(name, cmd)
}
