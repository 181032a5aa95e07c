// Package workqueue runs a bounded pool of tasks with shared request pacing,
// retry of transient task errors, and cancel/pause semantics.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/retry"
)

// Queue executes tasks with at most workers running at once.
type Queue struct {
	mu        sync.Mutex
	tasks     []*taskState
	next      int // index of the first task not yet started
	running   int
	workers   int
	cancelled bool
	paused    bool
	done      chan struct{}
	wg        sync.WaitGroup

	retry   *retry.Config
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers bounds concurrently running tasks. Values below 1 mean 1.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n < 1 {
			n = 1
		}
		q.workers = n
	}
}

// WithRetry sets the policy for task errors that pass retry.IsRetryable.
// A nil config disables retries.
func WithRetry(cfg *retry.Config) QueueOption {
	return func(q *Queue) { q.retry = cfg }
}

// WithRateLimiter shares limiter between all tasks. One limiter may be shared
// by several queues to pace a single upstream.
func WithRateLimiter(limiter *rate.Limiter) QueueOption {
	return func(q *Queue) { q.limiter = limiter }
}

// WithParentContext derives the task context from parent.
func WithParentContext(parent context.Context) QueueOption {
	return func(q *Queue) {
		q.cancel()
		q.ctx, q.cancel = context.WithCancel(parent)
	}
}

// New creates a queue. By default it runs one task at a time and retries
// transient task errors with retry.DefaultConfig.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workers: 1,
		retry:   retry.DefaultConfig(),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewMinIntervalLimiter admits one request per interval. A non-positive
// interval disables pacing.
func NewMinIntervalLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Pace implements Runtime.
func (q *Queue) Pace(ctx context.Context) error {
	if q.limiter == nil {
		return ctx.Err()
	}
	return q.limiter.Wait(ctx)
}

// Enqueue implements Runtime. Tasks enqueued after Cancel or Pause are dropped.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Debug("Queue stopped, dropping task", zap.String("task_id", task.ID()))
		return
	}

	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}

	q.tasks = append(q.tasks, &taskState{task: task, status: TaskStatusPending})
	q.startLocked()
}

func (q *Queue) startLocked() {
	for !q.cancelled && q.running < q.workers && q.next < len(q.tasks) {
		ts := q.tasks[q.next]
		q.next++
		ts.status = TaskStatusRunning
		q.running++
		q.wg.Add(1)
		go q.run(ts)
	}
}

func (q *Queue) run(ts *taskState) {
	defer q.wg.Done()

	retries := 0
	err := retry.DoRetryable(q.ctx, q.retryConfig(), func() error {
		return ts.task.Execute(q.ctx, q)
	}, func(attempt int, err error, wait time.Duration) {
		retries = attempt
		q.logger.Warn("Task failed with transient error, retrying",
			zap.String("task_id", ts.task.ID()),
			zap.String("task_name", ts.task.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})

	q.finish(ts, err, retries)
}

func (q *Queue) retryConfig() *retry.Config {
	if q.retry == nil {
		return &retry.Config{}
	}
	return q.retry
}

func (q *Queue) finish(ts *taskState, err error, retries int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	ts.retries = retries

	switch {
	case err == nil:
		ts.status = TaskStatusCompleted
	case errors.Is(err, context.Canceled) || q.ctx.Err() != nil:
		ts.status = q.stoppedStatusLocked()
	default:
		ts.status = TaskStatusFailed
		ts.err = err
		q.logger.Error("Task failed",
			zap.String("task_id", ts.task.ID()),
			zap.String("task_name", ts.task.Name()),
			zap.Int("retries", retries),
			zap.Error(err))
	}

	q.startLocked()
	q.closeIfDoneLocked()
}

func (q *Queue) stoppedStatusLocked() TaskStatus {
	if q.paused {
		return TaskStatusPaused
	}
	return TaskStatusCancelled
}

func (q *Queue) closeIfDoneLocked() {
	for _, ts := range q.tasks {
		if !ts.status.terminal() {
			return
		}
	}
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// Wait blocks until every task is terminal and its goroutine has exited. It
// returns the first task error in enqueue order. If ctx ends first the queue
// is cancelled and Wait still lets running tasks settle.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		q.Cancel()
		q.wg.Wait()
		return ctx.Err()
	}
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ts := range q.tasks {
		if ts.status == TaskStatusFailed {
			return ts.err
		}
	}
	return nil
}

// Cancel stops the queue. Running tasks see their context end and pending
// tasks never start.
func (q *Queue) Cancel() { q.stop(false) }

// Pause stops the queue like Cancel but marks unfinished tasks paused, so
// the owner can re-enqueue them on a fresh queue later.
func (q *Queue) Pause() { q.stop(true) }

func (q *Queue) stop(pause bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}
	q.cancelled = true
	q.paused = pause
	q.cancel()

	status := q.stoppedStatusLocked()
	for _, ts := range q.tasks[q.next:] {
		ts.status = status
	}
	q.next = len(q.tasks)

	q.logger.Info("Queue stopped",
		zap.Bool("paused", pause),
		zap.Int("running", q.running))
	q.closeIfDoneLocked()
}

// IsPaused reports whether the queue was stopped by Pause.
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// IsCancelled reports whether the queue was stopped by Cancel or Pause.
func (q *Queue) IsCancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

// Progress returns task counts by status.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.status {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		case TaskStatusPaused:
			p.Paused++
		}
	}
	return p
}
