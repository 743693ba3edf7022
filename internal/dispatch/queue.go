// ABOUTME: Unbounded single-goroutine serial task queue
// ABOUTME: Models the presentation and engine execution contexts

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrClosed is returned when posting to or running a closed queue.
	ErrClosed = errors.New("queue closed")

	// ErrAlreadyRunning is returned when Run is called a second time.
	ErrAlreadyRunning = errors.New("queue already running")
)

// Queue runs posted tasks one at a time, in FIFO order, on the goroutine
// that called Run.
type Queue struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []func()
	closed  bool
	running bool

	wake chan struct{}
	done chan struct{}
}

// New creates a queue. Pass nil logger for default.
func New(name string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		name:   name,
		logger: logger.With("component", "dispatch", "queue", name),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the queue name given to New.
func (q *Queue) Name() string {
	return q.name
}

// Post enqueues fn. It returns false, dropping fn, if the queue is closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
		// Already signalled
	}
	return true
}

// Do posts fn and waits for it to finish. It must not be called from a
// task running on q.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !q.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		// Closed while waiting; fn may still have run.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Run executes tasks until ctx is cancelled or Close is called.
// Tasks still pending at that point are dropped.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.running {
		q.mu.Unlock()
		return ErrAlreadyRunning
	}
	q.running = true
	q.mu.Unlock()

	q.logger.Debug("queue running")
	defer q.logger.Debug("queue stopped")

	for {
		select {
		case <-ctx.Done():
			q.Close()
			return ctx.Err()
		case <-q.done:
			return nil
		case <-q.wake:
		}

		for {
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
		}
	}
}

// next pops the oldest task, or reports false when empty or closed.
func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops the queue and drops pending tasks. It is safe to call
// multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.tasks = nil
	close(q.done)
}

// Poster accepts tasks for a context. *Queue implements it.
type Poster interface {
	Post(fn func()) bool
}
