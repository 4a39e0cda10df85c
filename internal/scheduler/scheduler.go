// Package scheduler binds the task queue to the session pool. One dispatch
// worker runs per pool slot, so the number of tasks in Leasing or Running
// never exceeds pool capacity and dispatch order is decided by the queue, not
// by goroutine races.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagemill/internal/config"
	"github.com/Rorqualx/pagemill/internal/metrics"
	"github.com/Rorqualx/pagemill/internal/pool"
	"github.com/Rorqualx/pagemill/internal/queue"
	"github.com/Rorqualx/pagemill/internal/session"
	"github.com/Rorqualx/pagemill/internal/types"
)

// Executor is the caller-supplied unit of work run against a leased session.
// Implementations must honor ctx cancellation on every blocking operation.
type Executor interface {
	Run(ctx context.Context, sess *session.Session, task *types.Task) (*types.TaskResult, error)
}

// Counters tracks cumulative scheduler activity for health reporting.
type Counters struct {
	Started   atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	TimedOut  atomic.Int64
	Cancelled atomic.Int64
	Rejected  atomic.Int64
}

// Scheduler owns the dispatch loop and the per-task state machine.
type Scheduler struct {
	queue *queue.Queue
	pool  *pool.Pool
	exec  Executor
	cfg   *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	counters Counters
}

// New creates a scheduler over the given queue, pool, and executor.
func New(cfg *config.Config, q *queue.Queue, p *pool.Pool, exec Executor) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:  q,
		pool:   p,
		exec:   exec,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches one dispatch worker per pool slot.
func (s *Scheduler) Start() {
	workers := s.pool.Capacity()
	log.Info().Int("workers", workers).Msg("Scheduler starting")
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.dispatchLoop(id)
		}(i)
	}
}

// Submit applies admission control and, if the task is accepted, blocks until
// its terminal outcome or until the caller's ctx is done. Caller abandonment
// cancels the task cooperatively; the task still reaches a terminal state
// internally and the outcome is dropped.
func (s *Scheduler) Submit(ctx context.Context, payload types.TaskPayload, priority int, timeout time.Duration) (*types.TaskResult, error) {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTaskTimeout
	}
	if timeout > s.cfg.MaxTaskTimeout {
		timeout = s.cfg.MaxTaskTimeout
	}

	task := types.NewTask(payload, priority, time.Now().Add(timeout))

	if err := s.queue.Enqueue(task); err != nil {
		s.counters.Rejected.Add(1)
		return nil, err
	}

	log.Debug().
		Str("task_id", task.ID.String()).
		Str("mode", string(payload.Mode())).
		Int("priority", task.Priority).
		Dur("timeout", timeout).
		Msg("Task admitted")

	select {
	case outcome := <-task.Done():
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return outcome.Result, nil

	case <-ctx.Done():
		task.Cancel()
		return nil, types.ErrTaskCancelled
	}
}

// SubmitTask enqueues an already-built task without waiting on its outcome.
// Used by tests and by callers that manage the result channel themselves.
func (s *Scheduler) SubmitTask(task *types.Task) error {
	if err := s.queue.Enqueue(task); err != nil {
		s.counters.Rejected.Add(1)
		return err
	}
	return nil
}

// dispatchLoop is the per-slot worker: dequeue, lease, execute, release.
func (s *Scheduler) dispatchLoop(id int) {
	for {
		task, err := s.queue.DequeueNext(s.ctx)
		if err != nil {
			log.Debug().Int("worker", id).Err(err).Msg("Dispatch worker stopping")
			return
		}
		s.dispatch(task)
	}
}

// dispatch drives one task through Leasing -> Running -> terminal state. The
// session lease, when obtained, is released exactly once on every exit path.
func (s *Scheduler) dispatch(task *types.Task) {
	if task.State().Terminal() {
		// Cancelled while still queued; nothing was leased.
		return
	}
	if task.IsCancelled() {
		s.finish(task, types.TaskCancelled, nil, types.ErrTaskCancelled)
		return
	}
	if task.Expired() {
		s.finish(task, types.TaskTimedOut, nil, types.ErrTaskTimedOut)
		return
	}

	s.counters.Started.Add(1)
	task.SetState(types.TaskLeasing)

	// The remaining deadline budgets both the lease wait and the execution.
	runCtx, cancel := context.WithDeadline(s.ctx, task.Deadline)
	defer cancel()
	task.BindCancel(cancel)

	sess, err := s.pool.Acquire(runCtx)
	if err != nil {
		s.finishLeaseError(task, err)
		return
	}

	if !task.SetState(types.TaskRunning) || task.IsCancelled() {
		// Cancelled between lease and start; no work touched the session.
		s.pool.Release(sess, pool.OutcomeHealthy)
		s.finish(task, types.TaskCancelled, nil, types.ErrTaskCancelled)
		return
	}

	result, runErr := s.runBounded(runCtx, sess, task)

	switch {
	case runErr == nil:
		s.pool.Release(sess, pool.OutcomeHealthy)
		s.finish(task, types.TaskSucceeded, result, nil)

	case task.IsCancelled():
		// Work had started, so the session state is unknown.
		s.pool.Release(sess, pool.OutcomeAbandoned)
		s.finish(task, types.TaskCancelled, nil, types.ErrTaskCancelled)

	case errors.Is(runErr, context.DeadlineExceeded):
		s.pool.Release(sess, pool.OutcomeAbandoned)
		s.finish(task, types.TaskTimedOut, nil, types.ErrTaskTimedOut)

	case types.IsCorruption(runErr):
		s.pool.Release(sess, pool.OutcomeCorrupted)
		s.finish(task, types.TaskFailed, nil, runErr)

	default:
		// Task-level failure against a healthy session.
		s.pool.Release(sess, pool.OutcomeHealthy)
		s.finish(task, types.TaskFailed, nil, runErr)
	}
}

// runBounded races the executor against the task deadline. If the deadline
// wins, the executor goroutine is abandoned; its rod operations fail fast on
// the cancelled context and the session is discarded by the caller.
func (s *Scheduler) runBounded(ctx context.Context, sess *session.Session, task *types.Task) (*types.TaskResult, error) {
	type runResult struct {
		result *types.TaskResult
		err    error
	}

	resCh := make(chan runResult, 1)
	go func() {
		result, err := s.exec.Run(ctx, sess, task)
		resCh <- runResult{result: result, err: err}
	}()

	select {
	case r := <-resCh:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finishLeaseError maps a failed Acquire to a terminal task state.
func (s *Scheduler) finishLeaseError(task *types.Task, err error) {
	switch {
	case task.IsCancelled():
		s.finish(task, types.TaskCancelled, nil, types.ErrTaskCancelled)
	case errors.Is(err, types.ErrPoolExhausted):
		s.finish(task, types.TaskTimedOut, nil, err)
	case errors.Is(err, types.ErrSpawnFailed):
		s.finish(task, types.TaskFailed, nil, err)
	default:
		s.finish(task, types.TaskFailed, nil, err)
	}
}

// finish records the terminal outcome exactly once and updates counters.
func (s *Scheduler) finish(task *types.Task, state types.TaskState, result *types.TaskResult, err error) {
	if !task.Finish(state, result, err) {
		return
	}

	mode := string(task.Payload.Mode())
	elapsed := time.Since(task.EnqueuedAt)
	metrics.TasksTotal.WithLabelValues(mode, state.String()).Inc()
	metrics.TaskDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	switch state {
	case types.TaskSucceeded:
		s.counters.Succeeded.Add(1)
	case types.TaskFailed:
		s.counters.Failed.Add(1)
	case types.TaskTimedOut:
		s.counters.TimedOut.Add(1)
	case types.TaskCancelled:
		s.counters.Cancelled.Add(1)
	}

	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.
		Str("task_id", task.ID.String()).
		Str("mode", mode).
		Str("state", state.String()).
		Dur("elapsed", elapsed).
		Msg("Task finished")
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() (started, succeeded, failed, timedOut, cancelled, rejected int64) {
	return s.counters.Started.Load(),
		s.counters.Succeeded.Load(),
		s.counters.Failed.Load(),
		s.counters.TimedOut.Load(),
		s.counters.Cancelled.Load(),
		s.counters.Rejected.Load()
}

// Stop halts dispatch, fails out queued tasks, and waits for in-flight work
// to release its sessions.
func (s *Scheduler) Stop() {
	log.Info().Msg("Scheduler stopping")

	for _, task := range s.queue.Close() {
		s.finish(task, types.TaskCancelled, nil, types.ErrQueueClosed)
	}

	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}
