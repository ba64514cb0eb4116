//go:build !windows

package supervisor

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// jobObject has no equivalent on POSIX; the process group is sufficient.
type jobObject struct{}

func (j *jobObject) assign(cmd *exec.Cmd) error { return nil }
func (j *jobObject) close() error               { return nil }

func newJobObjectIfWindows() (*jobObject, error) {
	return nil, nil
}

// setProcessGroup configures the command to run in its own process group so
// that a parent crash or force-kill does not leave the media service orphaned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// killProcessGroup kills the entire process group of the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		return cmd.Process.Kill()
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
		return fmt.Errorf("supervisor: kill process group %d: %w", pgid, err)
	}
	return nil
}
