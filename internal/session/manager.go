package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/drew/muxbot/internal/term"
)

var (
	// ErrTaskNotFound is returned when no running or retained task has the id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTooManyTasks is returned when the running-task limit is reached.
	ErrTooManyTasks = errors.New("too many running tasks")
	// ErrShuttingDown is returned for tasks started after Shutdown.
	ErrShuttingDown = errors.New("task manager is shutting down")
)

const (
	DefaultMaxTasks  = 16
	DefaultRetention = 30 * time.Minute
)

// Manager tracks running tasks and keeps finished ones around for a while
// so their output can still be fetched. It also holds each chat's working
// directory.
type Manager struct {
	mu       sync.RWMutex
	running  map[string]*Entry
	finished *gocache.Cache
	workdirs map[int64]string
	wg       sync.WaitGroup
	// reserved counts slots taken by tasks that are still being started.
	reserved int
	closed   bool

	defaultDir string
	maxTasks   int
	retention  time.Duration
	termOpts   []term.Option
	log        *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxTasks limits the number of concurrently running tasks. 0 means
// unlimited.
func WithMaxTasks(n int) Option {
	return func(m *Manager) {
		m.maxTasks = n
	}
}

// WithRetention sets how long finished tasks stay retrievable.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithTermOptions adds options passed to every term.Execute and term.Go.
func WithTermOptions(opts ...term.Option) Option {
	return func(m *Manager) {
		m.termOpts = append(m.termOpts, opts...)
	}
}

// WithDefaultDir sets the working directory of chats that never ran /cd.
func WithDefaultDir(dir string) Option {
	return func(m *Manager) {
		m.defaultDir = dir
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates a task manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		running:   make(map[string]*Entry),
		workdirs:  make(map[int64]string),
		maxTasks:  DefaultMaxTasks,
		retention: DefaultRetention,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultDir == "" {
		if wd, err := os.Getwd(); err == nil {
			m.defaultDir = wd
		}
	}
	m.finished = gocache.New(m.retention, time.Minute)
	return m
}

// Execute starts a child process for spec and tracks it. The process is
// spawned without holding the manager's lock.
func (m *Manager) Execute(spec Spec) (*Entry, error) {
	dir := spec.Dir
	if dir == "" {
		dir = m.WorkingDir(spec.ChatID)
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}

	opts := append([]term.Option{}, m.termOpts...)
	opts = append(opts, term.WithDir(dir))
	if spec.Shell != "" {
		opts = append(opts, term.WithShell(spec.Shell))
	}

	s, err := term.Execute(spec.Command, opts...)
	if err != nil {
		m.unreserve()
		return nil, err
	}

	e := &Entry{
		Kind:      spec.Kind,
		Command:   spec.Command,
		Dir:       dir,
		ChatID:    spec.ChatID,
		CreatedAt: time.Now(),
		live:      s,
		session:   s,
	}
	m.track(e)
	return e, nil
}

// Go runs fn as a tracked in-process task.
func (m *Manager) Go(kind Kind, label string, chatID int64, fn func(ctx context.Context, out io.Writer) error) (*Entry, error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}

	t := term.Go(context.Background(), label, fn, m.termOpts...)
	e := &Entry{
		Kind:      kind,
		Command:   label,
		ChatID:    chatID,
		CreatedAt: time.Now(),
		live:      t,
		task:      t,
	}
	m.track(e)
	return e, nil
}

// reserve takes a running-task slot and registers the task with the
// shutdown wait group.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrShuttingDown
	}
	if m.maxTasks > 0 && len(m.running)+m.reserved >= m.maxTasks {
		return ErrTooManyTasks
	}
	m.reserved++
	m.wg.Add(1)
	return nil
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
	m.wg.Done()
}

// newID returns an unused short id. Callers hold m.mu.
func (m *Manager) newID() string {
	for {
		id := uuid.NewString()[:8]
		if _, ok := m.running[id]; ok {
			continue
		}
		if _, ok := m.finished.Get(id); ok {
			continue
		}
		return id
	}
}

// track turns a reserved slot into a running entry and retires it once it
// finishes. A task that started while Shutdown was running is cancelled
// right away.
func (m *Manager) track(e *Entry) {
	m.mu.Lock()
	m.reserved--
	e.ID = m.newID()
	m.running[e.ID] = e
	closed := m.closed
	m.mu.Unlock()

	m.log.Info("task started", "id", e.ID, "kind", e.Kind, "command", e.Command, "chat_id", e.ChatID)
	if closed {
		e.live.Cancel()
	}

	go func() {
		defer m.wg.Done()
		<-e.live.Done()

		m.mu.Lock()
		delete(m.running, e.ID)
		m.finished.SetDefault(e.ID, e)
		m.mu.Unlock()

		m.log.Info("task finished",
			"id", e.ID,
			"status", e.Status(),
			"exit_code", e.ExitCode(),
			"runtime", e.Runtime().Round(time.Millisecond),
		)
	}()
}

// Get returns a running or retained task.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.running[id]; ok {
		return e, nil
	}
	if v, ok := m.finished.Get(id); ok {
		if e, ok := v.(*Entry); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// List returns running and retained tasks, oldest first.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*Entry, 0, len(m.running)+m.finished.ItemCount())
	for _, e := range m.running {
		entries = append(entries, e)
	}
	for _, item := range m.finished.Items() {
		if e, ok := item.Object.(*Entry); ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// Cancel cancels a task. Cancelling a finished task is a no-op.
func (m *Manager) Cancel(id string) error {
	e, err := m.Get(id)
	if err != nil {
		return err
	}
	e.live.Cancel()
	return nil
}

// CancelAll cancels every running task and returns how many there were.
func (m *Manager) CancelAll() int {
	m.mu.RLock()
	entries := make([]*Entry, 0, len(m.running))
	for _, e := range m.running {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.live.Cancel()
	}
	return len(entries)
}

// Len returns the number of running tasks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// Shutdown refuses new tasks, cancels every running one and waits until
// all have finished or ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if n := m.CancelAll(); n > 0 {
		m.log.Info("cancelling running tasks", "count", n)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkingDir returns the chat's working directory.
func (m *Manager) WorkingDir(chatID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workdir(chatID)
}

func (m *Manager) workdir(chatID int64) string {
	if dir, ok := m.workdirs[chatID]; ok {
		return dir
	}
	return m.defaultDir
}

// SetWorkingDir changes the chat's working directory. Relative paths are
// resolved against the current one and "~" against the home directory.
// It returns the new absolute directory.
func (m *Manager) SetWorkingDir(chatID int64, dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := resolveDir(m.workdir(chatID), dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("change directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("change directory: %s is not a directory", target)
	}

	m.workdirs[chatID] = target
	return target, nil
}

func resolveDir(current, dir string) (string, error) {
	switch {
	case dir == "" || dir == "~":
		return os.UserHomeDir()
	case len(dir) > 1 && dir[:2] == "~/":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, dir[2:]), nil
	case filepath.IsAbs(dir):
		return filepath.Clean(dir), nil
	default:
		return filepath.Join(current, dir), nil
	}
}
