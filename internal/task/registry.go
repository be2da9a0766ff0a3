// Package task runs detection pipelines in the background and lets callers
// poll their status, log lines and result by id.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var (
	// ErrNotFound is returned for ids that were never submitted.
	ErrNotFound = errors.New("task not found")
	// ErrStillRunning is returned by Result while the task has not finished.
	ErrStillRunning = errors.New("task still running")
	// ErrFailed is wrapped by Result for tasks that ended in error.
	ErrFailed = errors.New("task failed")
	// ErrDuplicateID is returned by Submit when the generator repeats an id.
	ErrDuplicateID = errors.New("duplicate task id")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("registry closed")
)

// LogFunc appends one line to the task log.
type LogFunc func(msg string)

// RunFunc is the body of a task. The returned string is the result.
type RunFunc func(ctx context.Context, logf LogFunc) (string, error)

// IDGenerator produces task ids.
// Implemented by UUIDv7Generator (production) and test fixtures.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 task ids, so two tasks
// submitted in the same second still get distinct ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Task is a point-in-time copy of a task's state.
type Task struct {
	ID         string    `json:"task_id"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	Result     string    `json:"result,omitempty"`
	Logs       []string  `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// entry owns one task. Its mutex is independent of the registry map, so
// a busy task never blocks lookups of another.
type entry struct {
	mu   sync.Mutex
	task Task
	done chan struct{}
}

func (e *entry) snapshot() Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.task
	t.Logs = append([]string(nil), e.task.Logs...)
	return t
}

// Registry tracks submitted tasks. Tasks are never removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	ids    IDGenerator
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides the id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) { r.ids = g }
}

// WithClock overrides the clock used for log line stamps and task times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		entries: make(map[string]*entry),
		ids:     UUIDv7Generator{},
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit registers a running task and starts run on its own goroutine. It
// returns as soon as the task is visible to Status.
func (r *Registry) Submit(run RunFunc) (string, error) {
	id := r.ids.Generate()
	e := &entry{
		task: Task{
			ID:        id,
			Status:    StatusRunning,
			Message:   "Task started.",
			CreatedAt: r.now(),
		},
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.entries[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	slog.Info("task submitted", "task", id)
	go r.execute(e, run)
	return id, nil
}

func (r *Registry) execute(e *entry, run RunFunc) {
	defer r.wg.Done()
	defer close(e.done)

	logf := func(msg string) {
		line := fmt.Sprintf("%s | %s", r.now().Format("15:04:05"), msg)
		e.mu.Lock()
		e.task.Logs = append(e.task.Logs, line)
		e.mu.Unlock()
	}

	result, err := safeRun(r.ctx, run, logf)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.task.FinishedAt = r.now()
	if err != nil {
		e.task.Status = StatusError
		e.task.Message = err.Error()
		e.task.Logs = append(e.task.Logs, fmt.Sprintf("%s | error: %v", e.task.FinishedAt.Format("15:04:05"), err))
		slog.Error("task failed", "task", e.task.ID, "error", err)
		return
	}
	e.task.Status = StatusCompleted
	e.task.Message = "Task completed successfully"
	e.task.Result = result
	slog.Info("task completed", "task", e.task.ID, "result", result)
}

// safeRun converts a panic in run into an error.
func safeRun(ctx context.Context, run RunFunc, logf LogFunc) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("task panic", "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return run(ctx, logf)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Status returns a snapshot of the task.
func (r *Registry) Status(id string) (Task, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	return e.snapshot(), nil
}

// Logs returns the task's log lines in arrival order.
func (r *Registry) Logs(id string) ([]string, error) {
	t, err := r.Status(id)
	if err != nil {
		return nil, err
	}
	return t.Logs, nil
}

// Result returns the finished task. It fails with ErrStillRunning before the
// run ends and wraps ErrFailed when the run ended in error.
func (r *Registry) Result(id string) (Task, error) {
	t, err := r.Status(id)
	if err != nil {
		return Task{}, err
	}
	switch t.Status {
	case StatusRunning:
		return t, ErrStillRunning
	case StatusError:
		return t, fmt.Errorf("%w: %s", ErrFailed, t.Message)
	}
	return t, nil
}

// Wait blocks until the task finishes or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (Task, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	select {
	case <-e.done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// List returns every task, oldest first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Task, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close cancels running tasks and waits for them to finish. Submit fails
// afterwards; reads keep working.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
