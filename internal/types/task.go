package types

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Priority bounds for task tiers. Higher dispatches first.
const (
	MinPriority = 0
	MaxPriority = 9
)

// TaskState tracks a task through the scheduler state machine.
type TaskState int32

// Task lifecycle states.
const (
	TaskQueued TaskState = iota
	TaskLeasing
	TaskRunning
	TaskSucceeded
	TaskFailed
	TaskTimedOut
	TaskCancelled
)

// String returns a human-readable state name.
func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskLeasing:
		return "leasing"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskTimedOut:
		return "timed_out"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is a terminal outcome.
func (s TaskState) Terminal() bool {
	return s >= TaskSucceeded
}

// TaskPayload is the closed set of work descriptions the executor understands.
// Each mode carries its own strongly-typed parameters.
type TaskPayload interface {
	Mode() TaskMode
	TargetURL() string
}

// TaskResult holds the output of a completed task.
type TaskResult struct {
	URL        string            // Final URL after redirects
	StatusCode int               // HTTP status of the final navigation response
	Headers    map[string]string // Response headers of the final navigation
	HTML       string            // Rendered HTML (html mode)
	Text       string            // Visible text (text mode)
	Screenshot string            // Base64-encoded PNG (screenshot mode)
	Fields     map[string]string // Extracted fields (extract mode)
	Elapsed    time.Duration
}

// TaskOutcome is the single terminal result delivered to the submitter.
// Exactly one of Result or Err is set.
type TaskOutcome struct {
	State  TaskState
	Result *TaskResult
	Err    error
}

// Task is one unit of requested browser work. The scheduler owns the task
// after admission; the submitter observes it only through Done().
type Task struct {
	ID         uuid.UUID
	Priority   int
	Payload    TaskPayload
	EnqueuedAt time.Time
	Deadline   time.Time

	state     atomic.Int32
	cancelled atomic.Bool
	cancelFn  atomic.Pointer[context.CancelFunc]

	once sync.Once
	done chan TaskOutcome
}

// NewTask creates a task with a clamped priority and an absolute deadline.
func NewTask(payload TaskPayload, priority int, deadline time.Time) *Task {
	if priority < MinPriority {
		priority = MinPriority
	} else if priority > MaxPriority {
		priority = MaxPriority
	}
	return &Task{
		ID:         uuid.New(),
		Priority:   priority,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		Deadline:   deadline,
		done:       make(chan TaskOutcome, 1),
	}
}

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// SetState records a non-terminal state transition. Terminal transitions go
// through Finish so the result slot is fulfilled exactly once. The transition
// is refused once a terminal state has been recorded.
func (t *Task) SetState(s TaskState) bool {
	for {
		cur := t.state.Load()
		if TaskState(cur).Terminal() {
			return false
		}
		if t.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// Finish delivers the terminal outcome. Only the first call wins; later calls
// are ignored, which guarantees exactly one result per task.
func (t *Task) Finish(state TaskState, result *TaskResult, err error) bool {
	delivered := false
	t.once.Do(func() {
		t.state.Store(int32(state))
		t.done <- TaskOutcome{State: state, Result: result, Err: err}
		close(t.done)
		delivered = true
	})
	return delivered
}

// BindCancel registers the cancel function covering the task's current
// execution window so Cancel can reach in-flight work.
func (t *Task) BindCancel(fn context.CancelFunc) {
	t.cancelFn.Store(&fn)
	// Cancel may have raced the bind; honor it.
	if t.cancelled.Load() {
		fn()
	}
}

// Cancel requests cooperative cancellation. If execution is in flight, the
// bound context is cancelled; otherwise the scheduler notices the flag at its
// next checkpoint. Safe to call from any goroutine, any number of times.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	if fn := t.cancelFn.Load(); fn != nil {
		(*fn)()
	}
}

// IsCancelled reports whether cancellation has been requested.
func (t *Task) IsCancelled() bool {
	return t.cancelled.Load()
}

// Done returns the channel on which the terminal outcome is delivered.
func (t *Task) Done() <-chan TaskOutcome {
	return t.done
}

// Remaining returns the time left until the task deadline.
func (t *Task) Remaining() time.Duration {
	return time.Until(t.Deadline)
}

// Expired reports whether the deadline has already passed.
func (t *Task) Expired() bool {
	return time.Now().After(t.Deadline)
}
