package term

import (
	"context"
	"log/slog"
	"time"
)

// Default timing for AwaitInitialized.
const (
	DefaultGrace       = 100 * time.Millisecond
	DefaultStartupWait = time.Second
)

// Live is the polling contract shared by Session and Task.
type Live interface {
	AwaitInitialized(ctx context.Context) error
	AwaitUpdate(ctx context.Context, timeout time.Duration)
	LatestChunk() string
	Output() string
	Tail(n int) []string
	Since(i int) []string
	LineCount() int
	Finished() bool
	Cancelled() bool
	Done() <-chan struct{}
	Cancel()
}

var (
	_ Live = (*Session)(nil)
	_ Live = (*Task)(nil)
)

type options struct {
	dir         string
	env         []string
	shell       string
	grace       time.Duration
	startupWait time.Duration
	terminator  Terminator
	logger      *slog.Logger
}

// Option configures Execute and Go.
type Option func(*options)

// WithDir sets the working directory of the child process.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithEnv adds KEY=VALUE pairs on top of the current environment.
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

// WithShell runs the command string through "<shell> -c" instead of
// splitting it into argv.
func WithShell(shell string) Option {
	return func(o *options) {
		o.shell = shell
	}
}

// WithGrace sets how long after the first line a session becomes
// initialized.
func WithGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithStartupWait sets how long a silent session waits before it becomes
// initialized anyway.
func WithStartupWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startupWait = d
		}
	}
}

// WithTerminator replaces the platform process-tree terminator.
func WithTerminator(t Terminator) Option {
	return func(o *options) {
		if t != nil {
			o.terminator = t
		}
	}
}

// WithLogger sets the logger used for background failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		grace:       DefaultGrace,
		startupWait: DefaultStartupWait,
		terminator:  DefaultTerminator(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
