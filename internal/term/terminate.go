package term

import (
	"errors"
	"os"
	"os/exec"
)

// ErrNoProcess is returned by a Terminator asked to kill a process that was
// never started.
var ErrNoProcess = errors.New("no process")

// Terminator kills a child process together with its descendants.
type Terminator interface {
	// Prepare configures cmd before Start so that TerminateTree can reach
	// everything the process spawns.
	Prepare(cmd *exec.Cmd)
	// TerminateTree forcefully kills p and its descendants.
	TerminateTree(p *os.Process) error
}

// directKill only kills the direct child.
type directKill struct{}

func (directKill) Prepare(*exec.Cmd) {}

func (directKill) TerminateTree(p *os.Process) error {
	if p == nil {
		return ErrNoProcess
	}
	return p.Kill()
}
