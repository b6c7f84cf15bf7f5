package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ehrlich-b/agentctl/internal/agenterr"
	"github.com/ehrlich-b/agentctl/internal/ptyproc"
)

// WaitForReady subscribes to proc's output and blocks until one of
// readyPatterns matches (success), one of errorPatterns matches (fatal
// startup error), or timeout elapses (agenterr.ErrReadyTimeout). Used by the
// Supervisor's create flow before the Output Monitor's steady-state
// exit-detection takes over.
func WaitForReady(ctx context.Context, proc *ptyproc.Process, readyPatterns, errorPatterns []string, timeout time.Duration) error {
	buf := newRollingBuffer(64 * 1024)
	done := make(chan error, 1)

	unsub, err := proc.OnData(func(data []byte) {
		buf.Append(data)
		snapshot := buf.String()
		for _, p := range errorPatterns {
			if strings.Contains(snapshot, p) {
				select {
				case done <- fmt.Errorf("runtimeadapter: startup error pattern %q: %w", p, agenterr.ErrPatternNotMatched):
				default:
				}
				return
			}
		}
		for _, p := range readyPatterns {
			if strings.Contains(snapshot, p) {
				select {
				case done <- nil:
				default:
				}
				return
			}
		}
	})
	if err != nil {
		return err
	}
	defer unsub()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return agenterr.ErrReadyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
