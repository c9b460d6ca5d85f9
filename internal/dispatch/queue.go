// Package dispatch serializes calls to a rate-limited downstream API.
//
// A Queue runs at most one task at a time in FIFO order. A task that fails with a
// *RateLimitError is put back at the head of the queue and the whole queue waits
// out the retry-after delay; any other failure is final for that task.
//
// With a task timeout, an attempt that overruns is abandoned: its context is
// cancelled, its future settles with ErrTaskTimeout and the next task starts. An
// operation that ignores its context can therefore still be running alongside the
// next one. Operations must honour ctx for the one-at-a-time guarantee to hold.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/metrics"
)

var (
	// ErrQueueClosed settles tasks still pending when the queue is closed.
	ErrQueueClosed = errors.New("dispatch queue closed")
	// ErrTaskTimeout settles a task that ran longer than the per-task timeout.
	ErrTaskTimeout = errors.New("dispatch task timed out")
)

// DefaultRetryAfter is used when a throttling response carries no usable delay.
const DefaultRetryAfter = time.Second

// RateLimitError marks a throttled call that should be retried after RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// task is one queued unit of work. exec runs the operation; settle resolves its future.
type task struct {
	name     string
	exec     func(ctx context.Context) error
	settle   func(err error)
	attempts int
}

// Queue is a single-consumer, multi-producer task queue.
type Queue struct {
	logger      *slog.Logger
	taskTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tasks   []*task
	running bool
	closed  bool
	retryAt time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithTaskTimeout bounds each task attempt; zero leaves attempts unbounded.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) { q.taskTimeout = d }
}

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates an idle Queue. The drain loop starts lazily on the first submission.
func New(opts ...Option) *Queue {
	q := &Queue{logger: slog.Default()}
	for _, o := range opts {
		o(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Submit enqueues op and returns a Future for its result.
func Submit[T any](q *Queue, name string, op func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	var val T
	q.push(&task{
		name: name,
		exec: func(ctx context.Context) error {
			v, err := op(ctx)
			if err == nil {
				val = v
			}
			return err
		},
		settle: func(err error) {
			if err != nil {
				var zero T
				f.complete(zero, err)
				return
			}
			f.complete(val, nil)
		},
	})
	return f
}

// Enqueue is Submit for operations without a result value.
func (q *Queue) Enqueue(name string, op func(ctx context.Context) error) *Future[struct{}] {
	return Submit(q, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
}

// Len returns how many tasks are waiting, excluding one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops the drain loop and settles all waiting tasks with ErrQueueClosed.
// A task in flight sees its context cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	q.cancel()
	for _, t := range pending {
		t.settle(ErrQueueClosed)
	}
	metrics.DispatchQueueDepth.Set(0)
	q.wg.Wait()
}

func (q *Queue) push(t *task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.settle(ErrQueueClosed)
		return
	}
	q.tasks = append(q.tasks, t)
	metrics.DispatchQueueDepth.Set(float64(len(q.tasks)))
	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.drain()
	}
	q.mu.Unlock()
}

// drain runs until the queue is empty or closed. Only one drain runs at a time.
func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.closed || len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		wait := time.Until(q.retryAt)
		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
				continue
			}
		}

		q.mu.Lock()
		if q.closed || len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		metrics.DispatchQueueDepth.Set(float64(len(q.tasks)))
		q.mu.Unlock()

		q.run(t)
	}
}

func (q *Queue) run(t *task) {
	t.attempts++
	start := time.Now()
	err := q.execute(t)
	metrics.DispatchDuration.Observe(float64(time.Since(start).Milliseconds()))

	var rl *RateLimitError
	switch {
	case err == nil:
		metrics.DispatchTasks.WithLabelValues(t.name, "success").Inc()
		t.settle(nil)
	case errors.As(err, &rl):
		metrics.DispatchTasks.WithLabelValues(t.name, "rate_limited").Inc()
		delay := rl.RetryAfter
		if delay <= 0 {
			delay = DefaultRetryAfter
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			t.settle(ErrQueueClosed)
			return
		}
		q.retryAt = time.Now().Add(delay)
		q.tasks = append([]*task{t}, q.tasks...)
		metrics.DispatchQueueDepth.Set(float64(len(q.tasks)))
		q.mu.Unlock()
		q.logger.Warn("dispatch throttled, requeued at head", "operation", t.name, "retry_after", delay, "attempt", t.attempts)
	default:
		metrics.DispatchTasks.WithLabelValues(t.name, "error").Inc()
		q.logger.Debug("dispatch task failed", "operation", t.name, "attempt", t.attempts, "err", err)
		t.settle(err)
	}
}

// execute runs one attempt. With a task timeout the attempt runs on its own
// goroutine so an operation that ignores its context still cannot stall the queue;
// such an attempt is left running after the timeout.
func (q *Queue) execute(t *task) error {
	if q.taskTimeout <= 0 {
		return safeExec(q.ctx, t)
	}
	ctx, cancel := context.WithTimeout(q.ctx, q.taskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- safeExec(ctx, t) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w after %s", t.name, ErrTaskTimeout, q.taskTimeout)
		}
		return ctx.Err()
	}
}

func safeExec(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", t.name, r)
		}
	}()
	return t.exec(ctx)
}
