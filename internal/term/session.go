package term

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sourcegraph/conc"
)

// Session supervises one child process and its combined output.
type Session struct {
	*outputState

	command string
	args    []string
	cmd     *exec.Cmd
	term    Terminator
	log     *slog.Logger
	started time.Time

	exitCode atomic.Int64
	errMu    sync.RWMutex
	waitErr  error
}

// Execute starts command and returns a Session that drains its output in
// the background.
//
// The command is split with POSIX shell-word rules and executed directly,
// unless WithShell is given. stdout and stderr share one pipe, so lines
// appear in the order the process wrote them. If the process cannot be
// started the error is a *SpawnError and no session is created.
func Execute(command string, opts ...Option) (*Session, error) {
	cfg := buildOptions(opts)

	args, err := commandArgs(command, cfg.shell)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = cfg.dir
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	cfg.terminator.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, &SpawnError{Command: command, Err: err}
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees end-of-stream once the process tree exits.
	_ = pw.Close()

	s := &Session{
		outputState: newOutputState(cfg.grace, cfg.startupWait),
		command:     command,
		args:        args,
		cmd:         cmd,
		term:        cfg.terminator,
		log:         cfg.logger.With("pid", cmd.Process.Pid),
		started:     time.Now(),
	}
	s.exitCode.Store(-1)
	s.log.Debug("process started", "command", command)

	go s.supervise(pr)
	return s, nil
}

func commandArgs(command, shell string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}
	if shell != "" {
		return []string{shell, "-c", command}, nil
	}
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

// supervise marks the session finished once the output pipe is drained
// and the exit status has been collected.
func (s *Session) supervise(pr *os.File) {
	var wg conc.WaitGroup
	wg.Go(func() { s.drain(pr) })
	wg.Go(s.wait)
	wg.Wait()

	s.finish()
	s.log.Debug("process finished",
		"exit_code", s.ExitCode(),
		"cancelled", s.Cancelled(),
		"lines", s.LineCount(),
	)
}

func (s *Session) drain(pr *os.File) {
	w := newLineWriter(s.outputState)
	_, err := io.Copy(w, pr)
	w.Flush()
	if err != nil {
		s.log.Warn("read process output", "err", err)
	}
	// Closing the read end turns any further writes from a straggling
	// descendant into EPIPE instead of a blocked pipe.
	_ = pr.Close()
}

func (s *Session) wait() {
	err := s.cmd.Wait()

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	s.errMu.Lock()
	s.waitErr = err
	s.errMu.Unlock()
	s.exitCode.Store(int64(code))
}

// Cancel kills the process tree. It is a no-op once the session has been
// cancelled or has finished. The session still becomes Finished only after
// the process is reaped.
func (s *Session) Cancel() {
	if !s.markCancelled() {
		return
	}
	if err := s.term.TerminateTree(s.cmd.Process); err != nil {
		s.log.Debug("terminate process tree", "err", err)
	}
}

// Command returns the command string the session was started with.
func (s *Session) Command() string {
	return s.command
}

// Args returns the argv that was executed.
func (s *Session) Args() []string {
	return append([]string(nil), s.args...)
}

// PID returns the child's process id.
func (s *Session) PID() int {
	return s.cmd.Process.Pid
}

// ExitCode returns the exit code, or -1 while running or when the process
// was killed by a signal.
func (s *Session) ExitCode() int {
	return int(s.exitCode.Load())
}

// Err returns the error from waiting on the process, which includes a
// non-zero exit status. It is nil while running.
func (s *Session) Err() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.waitErr
}

// StartedAt returns when the process was started.
func (s *Session) StartedAt() time.Time {
	return s.started
}

// Runtime returns how long the process ran, or has been running.
func (s *Session) Runtime() time.Duration {
	if end := s.ended(); !end.IsZero() {
		return end.Sub(s.started)
	}
	return time.Since(s.started)
}
