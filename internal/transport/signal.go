package transport

import (
	"os/exec"
	"syscall"
	"time"
)

// GracefulStop sends SIGTERM and gives the process grace to exit cleanly
// before escalating to SIGKILL, so a tool with its own cleanup hooks (e.g.
// flushing a partial ReturnPacket) gets a chance to run them.
func GracefulStop(cmd *exec.Cmd, grace time.Duration) error {
	if cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return cmd.Process.Kill()
	}
}
