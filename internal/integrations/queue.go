package integrations

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one queued unit of work.
type Task func(ctx context.Context)

// Queue serializes agent dispatches for one connector: while a task is in
// flight, additional tasks enqueue; on completion the next is dequeued.
// Cross-connector parallelism is unrestricted.
type Queue struct {
	mu      sync.Mutex
	pending []Task
	running bool
	wg      sync.WaitGroup

	ctx    context.Context
	logger *slog.Logger

	// onDepth reports queue depth changes, used for metrics.
	onDepth func(depth int)
}

// NewQueue creates a queue whose tasks run under ctx.
func NewQueue(ctx context.Context, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{ctx: ctx, logger: logger}
}

// OnDepth registers a depth observer. Must be called before Submit.
func (q *Queue) OnDepth(fn func(depth int)) { q.onDepth = fn }

// Submit enqueues a task. The first task on an idle queue starts a drain
// goroutine; subsequent tasks wait their turn.
func (q *Queue) Submit(task Task) {
	q.mu.Lock()
	q.pending = append(q.pending, task)
	if q.onDepth != nil {
		q.onDepth(len(q.pending))
	}
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain()
}

// Wait blocks until the queue is idle.
func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		if q.onDepth != nil {
			q.onDepth(len(q.pending))
		}
		q.mu.Unlock()

		if err := q.ctx.Err(); err != nil {
			q.logger.Debug("task dropped, queue context done")
			continue
		}
		task(q.ctx)
	}
}
