package session

import (
	"time"

	"github.com/drew/muxbot/internal/term"
)

// Kind says how a tracked task was started.
type Kind string

const (
	KindTerm Kind = "term"
	KindExec Kind = "exec"
	KindEval Kind = "eval"
	KindAPI  Kind = "api"
)

// Status values reported in snapshots.
const (
	StatusRunning   = "running"
	StatusCancelled = "cancelled"
	StatusFinished  = "finished"
	StatusFailed    = "failed"
)

// Spec describes a command to launch.
type Spec struct {
	Kind    Kind
	Command string
	// Dir overrides the chat's working directory.
	Dir string
	// Shell runs Command through "<Shell> -c" when set.
	Shell  string
	ChatID int64
}

// Entry is one tracked task: a child process or an in-process function.
type Entry struct {
	ID        string
	Kind      Kind
	Command   string
	Dir       string
	ChatID    int64
	CreatedAt time.Time

	live    term.Live
	session *term.Session
	task    *term.Task
}

// Live returns the polling view of the task.
func (e *Entry) Live() term.Live {
	return e.live
}

// Session returns the child process, or nil for in-process tasks.
func (e *Entry) Session() *term.Session {
	return e.session
}

// Err returns the task's terminal error, if any.
func (e *Entry) Err() error {
	if e.session != nil {
		return e.session.Err()
	}
	return e.task.Err()
}

// ExitCode returns the child's exit code. In-process tasks report 0 on
// success and 1 on error; -1 means still running or killed.
func (e *Entry) ExitCode() int {
	if e.session != nil {
		return e.session.ExitCode()
	}
	switch {
	case !e.task.Finished() || e.task.Cancelled():
		return -1
	case e.task.Err() != nil:
		return 1
	default:
		return 0
	}
}

// Runtime returns how long the task ran, or has been running.
func (e *Entry) Runtime() time.Duration {
	if e.session != nil {
		return e.session.Runtime()
	}
	return e.task.Runtime()
}

// Status summarises the lifecycle flags.
func (e *Entry) Status() string {
	switch {
	case !e.live.Finished():
		return StatusRunning
	case e.live.Cancelled():
		return StatusCancelled
	case e.Err() != nil:
		return StatusFailed
	default:
		return StatusFinished
	}
}

// Snapshot is a point-in-time copy of an entry, safe to serialize.
type Snapshot struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Command   string    `json:"command"`
	Dir       string    `json:"dir,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Status    string    `json:"status"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Runtime   string    `json:"runtime"`
	Lines     int       `json:"lines"`
	Latest    string    `json:"latest,omitempty"`
	Output    string    `json:"output,omitempty"`
}

// Snapshot copies the entry's current state. The full output is included
// only when withOutput is set.
func (e *Entry) Snapshot(withOutput bool) Snapshot {
	s := Snapshot{
		ID:        e.ID,
		Kind:      e.Kind,
		Command:   e.Command,
		Dir:       e.Dir,
		ChatID:    e.ChatID,
		Status:    e.Status(),
		ExitCode:  e.ExitCode(),
		CreatedAt: e.CreatedAt,
		Runtime:   e.Runtime().Round(time.Millisecond).String(),
		Lines:     e.live.LineCount(),
		Latest:    e.live.LatestChunk(),
	}
	if err := e.Err(); err != nil {
		s.Error = err.Error()
	}
	if withOutput {
		s.Output = e.live.Output()
	}
	return s
}
