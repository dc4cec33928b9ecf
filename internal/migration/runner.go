package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinicalcore/internal/platform/logger"
)

// TaskState is the lifecycle state of a background task.
type TaskState string

// Task states.
const (
	TaskRunning   TaskState = "RUNNING"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
)

// ErrUnknownTask is returned for task ids the runner never started.
var ErrUnknownTask = errors.New("migration: unknown task")

// ErrTaskRunning is returned when a task id is started twice concurrently.
var ErrTaskRunning = errors.New("migration: task already running")

// TaskStatus reports a task's state and, once failed, its error. EndedAt is
// zero while the task runs.
type TaskStatus struct {
	State     TaskState
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

type task struct {
	done   chan struct{}
	status TaskStatus
}

// Runner runs migration work in background goroutines keyed by migration id.
// Finished tasks are kept so Wait and Status keep answering after
// completion; starting the same id again replaces a finished task.
type Runner struct {
	mu    sync.Mutex
	tasks map[string]*task
	base  context.Context
	log   *logger.Logger
	now   func() time.Time
}

// NewRunner constructs a runner. Tasks run under a context detached from the
// caller's cancellation.
func NewRunner(log *logger.Logger) *Runner {
	return &Runner{
		tasks: map[string]*task{},
		base:  context.Background(),
		log:   logger.OrNop(log).With("component", "MigrationRunner"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start runs fn in a new goroutine. A panic in fn fails the task instead of
// crashing the process.
func (r *Runner) Start(id string, fn func(context.Context) error) error {
	r.mu.Lock()
	if t, ok := r.tasks[id]; ok && t.status.State == TaskRunning {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskRunning, id)
	}
	t := &task{done: make(chan struct{}), status: TaskStatus{State: TaskRunning, StartedAt: r.now()}}
	r.tasks[id] = t
	r.mu.Unlock()

	go func() {
		err := r.call(id, fn)
		r.mu.Lock()
		t.status.EndedAt = r.now()
		t.status.State = TaskSucceeded
		if err != nil {
			t.status.State, t.status.Err = TaskFailed, err
		}
		r.mu.Unlock()
		close(t.done)
	}()
	return nil
}

func (r *Runner) call(id string, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("migration task panic", "migration", id, "panic", rec)
			err = fmt.Errorf("migration task %s panicked: %v", id, rec)
		}
	}()
	if err = fn(r.base); err != nil {
		r.log.Error("migration task failed", "migration", id, "error", err)
	}
	return err
}

// Wait blocks until the task finishes or ctx is done and returns the task's
// error.
func (r *Runner) Wait(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.status.Err
}

// Status returns the task's current status.
func (r *Runner) Status(id string) (TaskStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return t.status, true
}
