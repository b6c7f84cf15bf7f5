// Package ptyproc implements the PTY Backend (spec §4.1): spawning a child
// process attached to a pseudo-terminal, writing/reading/resizing it, and
// killing it, with OS-level liveness checks rather than cached flags.
// Grounded on the teacher's internal/egg/server.go PTY lifecycle.
package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/ehrlich-b/agentctl/internal/agenterr"
)

// DataListener receives raw PTY output bytes. Implementations must not
// block — enqueue and return (spec §5 back-pressure).
type DataListener func(data []byte)

// ExitListener is invoked once, when the child process exits.
type ExitListener func(err error)

// Unsubscribe removes a previously registered listener.
type Unsubscribe func()

// Options configure a new PTY-backed process.
type Options struct {
	Cwd  string
	Argv []string
	Env  []string
	Cols int
	Rows int

	MaxDataListeners int
	MaxExitListeners int
}

// Process is a single PTY-attached child process. Owned 1:1 by a Session.
type Process struct {
	Pid int

	ptmx *os.File
	cmd  *exec.Cmd

	mu            sync.Mutex
	dataListeners []dataSub
	exitListeners []exitSub
	maxData       int
	maxExit       int
	closed        bool

	exitOnce sync.Once
	exitErr  error
}

type dataSub struct {
	id int
	fn DataListener
}

type exitSub struct {
	id int
	fn ExitListener
}

// Spawn starts argv[0] with argv[1:] attached to a new PTY in cwd with env,
// sized cols x rows. Returns agenterr.ErrBackendSpawn on failure.
func Spawn(opts Options) (*Process, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("ptyproc: empty argv: %w", agenterr.ErrInvalidArgument)
	}
	if opts.Cols <= 0 || opts.Rows <= 0 {
		return nil, fmt.Errorf("ptyproc: dimensions %dx%d: %w", opts.Cols, opts.Rows, agenterr.ErrInvalidArgument)
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.Env
	// New process group so kill escalation can signal -pid and catch
	// subprocesses the in-PTY runtime spawns (LSPs, language runtimes).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	size := &pty.Winsize{Cols: uint16(opts.Cols), Rows: uint16(opts.Rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("ptyproc: spawn %q: %v: %w", opts.Argv[0], err, agenterr.ErrBackendSpawn)
	}

	maxData := opts.MaxDataListeners
	if maxData <= 0 {
		maxData = 32
	}
	maxExit := opts.MaxExitListeners
	if maxExit <= 0 {
		maxExit = 32
	}

	p := &Process{
		Pid:     cmd.Process.Pid,
		ptmx:    ptmx,
		cmd:     cmd,
		maxData: maxData,
		maxExit: maxExit,
	}

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

func (p *Process) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.dispatchData(data)
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) dispatchData(data []byte) {
	p.mu.Lock()
	// Copy the slice so a concurrent unsubscribe never races with dispatch.
	subs := make([]dataSub, len(p.dataListeners))
	copy(subs, p.dataListeners)
	p.mu.Unlock()
	for _, s := range subs {
		s.fn(data)
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	p.exitOnce.Do(func() {
		p.exitErr = err
		p.mu.Lock()
		subs := make([]exitSub, len(p.exitListeners))
		copy(subs, p.exitListeners)
		p.mu.Unlock()
		for _, s := range subs {
			s.fn(err)
		}
	})
}

var listenerIDs int
var listenerIDsMu sync.Mutex

func nextListenerID() int {
	listenerIDsMu.Lock()
	defer listenerIDsMu.Unlock()
	listenerIDs++
	return listenerIDs
}

// OnData subscribes to PTY output. Fails with agenterr.ErrTooManyListeners
// once the cap is reached, guarding against subscribe-without-unsubscribe leaks.
func (p *Process) OnData(fn DataListener) (Unsubscribe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dataListeners) >= p.maxData {
		return nil, agenterr.ErrTooManyListeners
	}
	id := nextListenerID()
	p.dataListeners = append(p.dataListeners, dataSub{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.dataListeners {
			if s.id == id {
				p.dataListeners = append(p.dataListeners[:i], p.dataListeners[i+1:]...)
				break
			}
		}
	}, nil
}

// OnExit subscribes to process exit. See OnData for the listener cap.
func (p *Process) OnExit(fn ExitListener) (Unsubscribe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.exitListeners) >= p.maxExit {
		return nil, agenterr.ErrTooManyListeners
	}
	id := nextListenerID()
	p.exitListeners = append(p.exitListeners, exitSub{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.exitListeners {
			if s.id == id {
				p.exitListeners = append(p.exitListeners[:i], p.exitListeners[i+1:]...)
				break
			}
		}
	}, nil
}

// Write sends bytes to the PTY. Fails once Kill has been invoked.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, agenterr.ErrSessionClosed
	}
	return p.ptmx.Write(data)
}

// Resize changes the PTY window size. cols/rows must be positive and within caps.
func (p *Process) Resize(cols, rows, maxCols, maxRows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("ptyproc: resize %dx%d: %w", cols, rows, agenterr.ErrInvalidArgument)
	}
	if maxCols > 0 && cols > maxCols {
		return fmt.Errorf("ptyproc: resize cols %d exceeds max %d: %w", cols, maxCols, agenterr.ErrInvalidArgument)
	}
	if maxRows > 0 && rows > maxRows {
		return fmt.Errorf("ptyproc: resize rows %d exceeds max %d: %w", rows, maxRows, agenterr.ErrInvalidArgument)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return agenterr.ErrSessionClosed
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill sends sig (default SIGTERM) to the process. Once invoked, Write and
// Resize fail, and all listener sets are cleared.
func (p *Process) Kill(sig syscall.Signal) error {
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	p.mu.Lock()
	p.closed = true
	p.dataListeners = nil
	p.exitListeners = nil
	p.mu.Unlock()

	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

// KillGroup sends sig to the process group (-pid), catching subprocesses the
// in-PTY runtime spawned (LSPs, language servers). ESRCH is treated as benign.
func (p *Process) KillGroup(sig syscall.Signal) error {
	if sig == 0 {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-p.Pid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

// IsAlive performs an OS-level liveness check (signal 0), never a cached flag.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Close releases the PTY file descriptor.
func (p *Process) Close() error {
	return p.ptmx.Close()
}
