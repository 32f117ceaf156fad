package term

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

// outputState is the accumulated output, lifecycle flags and notification
// slot shared by Session and Task.
type outputState struct {
	mu        sync.RWMutex
	lines     []string
	latest    string
	sawOutput bool
	cancelled bool
	finished  bool
	endedAt   time.Time

	grace        time.Duration
	startupTimer *time.Timer
	graceTimer   *time.Timer

	// notify is the single-slot notification: capacity 1, a send while
	// full is dropped because the pending wake-up already covers it.
	notify    chan struct{}
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

func newOutputState(grace, startupWait time.Duration) *outputState {
	o := &outputState{
		grace:  grace,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	o.startupTimer = time.AfterFunc(startupWait, o.markReady)
	return o
}

// AwaitInitialized blocks until the first render point: a grace period
// after the first line, the startup wait without any output, or the end
// of the session. It returns ctx.Err() if ctx ends first.
func (o *outputState) AwaitInitialized(ctx context.Context) error {
	select {
	case <-o.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitUpdate blocks until a pending notification is consumed, the session
// finishes, timeout elapses or ctx ends. Callers inspect state afterwards.
func (o *outputState) AwaitUpdate(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		select {
		case <-o.notify:
		case <-o.done:
		default:
		}
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-o.notify:
	case <-o.done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// LatestChunk returns the most recently appended line.
func (o *outputState) LatestChunk() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// Output returns every line received so far, newline-joined.
func (o *outputState) Output() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return strings.Join(o.lines, "\n")
}

// Tail returns a copy of the last n lines.
func (o *outputState) Tail(n int) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(0, len(o.lines)-n)
	out := make([]string, len(o.lines)-start)
	copy(out, o.lines[start:])
	return out
}

// Since returns a copy of the lines from index i on. Lines are never
// rewritten, so callers can follow output by passing the count they have
// already consumed.
func (o *outputState) Since(i int) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if i >= len(o.lines) {
		return nil
	}
	out := make([]string, len(o.lines)-max(0, i))
	copy(out, o.lines[max(0, i):])
	return out
}

// LineCount returns the number of lines received so far.
func (o *outputState) LineCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.lines)
}

// Finished reports whether the session reached its terminal state.
func (o *outputState) Finished() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.finished
}

// Cancelled reports whether Cancel took effect.
func (o *outputState) Cancelled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cancelled
}

// Done returns a channel closed when the session finishes.
func (o *outputState) Done() <-chan struct{} {
	return o.done
}

func (o *outputState) append(line string) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.lines = append(o.lines, line)
	o.latest = line
	if !o.sawOutput {
		o.sawOutput = true
		o.graceTimer = time.AfterFunc(o.grace, o.markReady)
	}
	o.mu.Unlock()

	o.signal()
}

// markCancelled sets the cancelled flag once. It reports false when the
// session was already cancelled or finished.
func (o *outputState) markCancelled() bool {
	o.mu.Lock()
	if o.cancelled || o.finished {
		o.mu.Unlock()
		return false
	}
	o.cancelled = true
	o.mu.Unlock()

	o.signal()
	return true
}

func (o *outputState) finish() {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.finished = true
	o.endedAt = time.Now()
	o.startupTimer.Stop()
	if o.graceTimer != nil {
		o.graceTimer.Stop()
	}
	o.mu.Unlock()

	o.markReady()
	close(o.done)
	o.signal()
}

func (o *outputState) ended() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.endedAt
}

func (o *outputState) markReady() {
	o.readyOnce.Do(func() { close(o.ready) })
}

func (o *outputState) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// lineWriter splits written bytes into lines and appends them to an
// outputState. A trailing partial line is held until Flush.
type lineWriter struct {
	mu      sync.Mutex
	out     *outputState
	partial []byte
}

func newLineWriter(out *outputState) *lineWriter {
	return &lineWriter{out: out}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) == 0 {
		w.partial = nil
	} else {
		w.partial = append([]byte(nil), w.partial...)
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.emit(w.partial)
	}
	w.partial = nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	w.out.append(strings.ToValidUTF8(string(line), ""))
}
