package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterruptWait bounds how long a cancellation waits for a turn's
// tasks before abandoning them.
const DefaultInterruptWait = time.Second

// ErrForced is returned by [Supervisor.Cancel] when one or more tasks did
// not stop within the wait budget. The turn is still marked terminal; the
// stragglers are logged and left to die with their cancelled context.
var ErrForced = errors.New("turn: tasks abandoned after cancellation timeout")

// Task is a handle to one supervised background goroutine.
type Task struct {
	// Name identifies the task in logs ("producer", "consumer", ...).
	Name string

	done chan struct{}
	err  error
}

// Done is closed when the task's function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's final error. Only valid after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Supervisor owns the background tasks of a single turn. Every task spawned
// on behalf of the turn goes through [Supervisor.Go] so that cancellation
// can account for all of them, and [Supervisor.Cancel] never blocks its
// caller for longer than the configured wait.
type Supervisor struct {
	log     *slog.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	tasks []*Task
}

// NewSupervisor derives a cancellable context from parent for all tasks of
// one turn. A timeout of 0 falls back to [DefaultInterruptWait].
func NewSupervisor(parent context.Context, log *slog.Logger, timeout time.Duration) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultInterruptWait
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		log:     log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context returns the shared task context. It is cancelled by
// [Supervisor.Cancel].
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Go registers and starts a named background task. The task must observe
// ctx cancellation at every suspension point and exit promptly.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) *Task {
	t := &Task{Name: name, done: make(chan struct{})}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		t.err = fn(s.ctx)
	}()
	return t
}

// Wait blocks until every registered task has finished or ctx is cancelled.
// Unlike [Supervisor.Cancel] it does not request cancellation first.
func (s *Supervisor) Wait(ctx context.Context) error {
	for _, t := range s.snapshot() {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Cancel requests cancellation of every registered task and waits up to the
// configured timeout for the group to finish. Tasks still running after the
// deadline are logged and abandoned; the caller never blocks indefinitely.
// Returns [ErrForced] when any task had to be abandoned.
func (s *Supervisor) Cancel(turnID string) error {
	s.cancel()

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	forced := false
	for _, t := range s.snapshot() {
		if forced {
			// Deadline already spent; only a non-blocking check remains.
			select {
			case <-t.done:
				continue
			default:
			}
			s.abandon(turnID, t)
			continue
		}
		select {
		case <-t.done:
		case <-deadline.C:
			forced = true
			s.abandon(turnID, t)
		}
	}
	if forced {
		return ErrForced
	}
	return nil
}

// Idle reports whether every registered task has finished. It never blocks.
func (s *Supervisor) Idle() bool {
	for _, t := range s.snapshot() {
		select {
		case <-t.done:
		default:
			return false
		}
	}
	return true
}

func (s *Supervisor) abandon(turnID string, t *Task) {
	s.log.Warn("task did not stop within cancellation timeout; abandoning",
		"turn_id", turnID, "task", t.Name, "timeout", s.timeout)
}

func (s *Supervisor) snapshot() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	return tasks
}
