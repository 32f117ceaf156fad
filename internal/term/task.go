package term

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Task runs an in-process function under the same polling contract as a
// Session. The function writes its output to an explicit sink.
type Task struct {
	*outputState

	label   string
	cancel  context.CancelFunc
	log     *slog.Logger
	started time.Time

	errMu sync.RWMutex
	err   error
}

// Go starts fn in its own goroutine. Everything fn writes to out becomes
// session output, split into lines. Cancel cancels the context passed to
// fn; the task finishes when fn returns.
func Go(ctx context.Context, label string, fn func(ctx context.Context, out io.Writer) error, opts ...Option) *Task {
	cfg := buildOptions(opts)
	ctx, cancel := context.WithCancel(ctx)

	t := &Task{
		outputState: newOutputState(cfg.grace, cfg.startupWait),
		label:       label,
		cancel:      cancel,
		log:         cfg.logger.With("task", label),
		started:     time.Now(),
	}
	go t.run(ctx, fn)
	return t
}

func (t *Task) run(ctx context.Context, fn func(context.Context, io.Writer) error) {
	w := newLineWriter(t.outputState)
	defer func() {
		if r := recover(); r != nil {
			t.setErr(fmt.Errorf("task panic: %v", r))
		}
		w.Flush()
		t.cancel()
		t.finish()
		t.log.Debug("task finished", "cancelled", t.Cancelled(), "err", t.Err())
	}()

	t.setErr(fn(ctx, w))
}

func (t *Task) setErr(err error) {
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
}

// Cancel cancels the function's context. It is a no-op once the task has
// been cancelled or has finished.
func (t *Task) Cancel() {
	if t.markCancelled() {
		t.cancel()
	}
}

// Err returns the function's error once it has returned.
func (t *Task) Err() error {
	t.errMu.RLock()
	defer t.errMu.RUnlock()
	return t.err
}

// Label returns the label the task was started with.
func (t *Task) Label() string {
	return t.label
}

// StartedAt returns when the task was started.
func (t *Task) StartedAt() time.Time {
	return t.started
}

// Runtime returns how long the task ran, or has been running.
func (t *Task) Runtime() time.Duration {
	if end := t.ended(); !end.IsZero() {
		return end.Sub(t.started)
	}
	return time.Since(t.started)
}
