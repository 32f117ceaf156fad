//go:build unix

package term

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultTerminator returns the process-group terminator.
func DefaultTerminator() Terminator {
	return processGroup{}
}

// processGroup starts each child as the leader of a new process group and
// kills the whole group with SIGKILL.
type processGroup struct{}

func (processGroup) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func (processGroup) TerminateTree(p *os.Process) error {
	if p == nil {
		return ErrNoProcess
	}
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if err == nil {
		return nil
	}
	// The group is gone or unreachable; fall back to the child itself.
	if killErr := p.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return errors.Join(err, killErr)
	}
	return err
}
