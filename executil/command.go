package executil

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const killGrace = 3 * time.Second

// Command is exec.CommandContext for tools that may spawn children of their
// own. The process runs in its own group and cancellation terminates the
// whole group, escalating to SIGKILL after a grace period.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true} //nolint:exhaustruct
	cmd.Cancel = func() error {
		p := cmd.Process
		if nil == p {
			return nil
		}

		if err := syscall.Kill(-p.Pid, syscall.SIGTERM); nil != err {
			if errors.Is(err, syscall.ESRCH) {
				return os.ErrProcessDone
			}

			return err
		}

		go func() {
			time.Sleep(killGrace)
			_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
		}()

		return nil
	}
	cmd.WaitDelay = 2 * killGrace

	return cmd
}

// Interrupted reports whether a command failed because ctx ended.
func Interrupted(ctx context.Context, err error) bool {
	return nil != err && nil != ctx.Err()
}
