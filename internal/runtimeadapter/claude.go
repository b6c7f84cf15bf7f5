package runtimeadapter

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ehrlich-b/agentctl/internal/registry"
)

// Claude drives the "claude" CLI interactively inside a PTY. Command-line
// flags mirror the teacher's internal/agent/claude.go (--append-system-prompt,
// etc.) adapted from one-shot -p invocation to an interactive session.
type Claude struct {
	base
	Command string // defaults to "claude"
}

func NewClaude() *Claude {
	return &Claude{Command: "claude"}
}

func (c *Claude) cmd() string {
	if c.Command != "" {
		return c.Command
	}
	return "claude"
}

func (c *Claude) InitCommands(cwd, resumeID string, flags []string) []string {
	args := c.cmd()
	if resumeID != "" {
		args += " --resume " + resumeID
	}
	for _, f := range flags {
		args += " " + f
	}
	return []string{"cd " + cwd, args}
}

func (c *Claude) ReadyPatterns() []string {
	return []string{"Welcome to Claude", "claude-code>", "Ready to assist", "? for shortcuts"}
}

func (c *Claude) ErrorPatterns() []string {
	return []string{"command not found", "Invalid API key", "authentication_error"}
}

func (c *Claude) ExitPatterns() []string {
	return []string{`Agent powering down`, `\bexit\b.*claude`}
}

func (c *Claude) PostInitialize(ctx context.Context, session *registry.Session, projectCwd string) error {
	return writeMCPConfig(projectCwd)
}

// DetectResumableID finds the most recently modified conversation file under
// Claude's per-project conversation directory, tolerating its absence.
func (c *Claude) DetectResumableID(projectCwd string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	dir := filepath.Join(home, ".claude", "projects", sanitizeProjectKey(projectCwd))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil
	}
	var newest os.DirEntry
	var newestMod int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Unix() > newestMod {
			newestMod = info.ModTime().Unix()
			newest = e
		}
	}
	if newest == nil {
		return "", nil
	}
	return idFromFilename(newest.Name()), nil
}

func sanitizeProjectKey(cwd string) string {
	out := make([]byte, 0, len(cwd))
	for i := 0; i < len(cwd); i++ {
		c := cwd[i]
		if c == '/' || c == '.' {
			out = append(out, '-')
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}

func idFromFilename(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// writeMCPConfig materializes .mcp.json in projectCwd, preserving any
// existing user fields by merging rather than overwriting.
func writeMCPConfig(projectCwd string) error {
	if projectCwd == "" {
		return nil
	}
	path := filepath.Join(projectCwd, ".mcp.json")
	existing := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		_ = jsonUnmarshal(data, &existing)
	}
	if _, ok := existing["mcpServers"]; !ok {
		existing["mcpServers"] = map[string]any{}
	}
	return writeJSONFile(path, existing)
}
