package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/grafana/dskit/multierror"
)

// TaskQueue tracks fire-and-forget tasks, such as background flushes, until
// someone drains it. Spawning never blocks.
type TaskQueue struct {
	name string

	mu      sync.Mutex
	handles []*JoinHandle
}

// NewTaskQueue returns an empty queue. name prefixes the errors of its tasks.
func NewTaskQueue(name string) *TaskQueue {
	return &TaskQueue{name: name}
}

// Spawn starts fn in the background and tracks it.
func (q *TaskQueue) Spawn(ctx context.Context, fn func(ctx context.Context) error) {
	h := &JoinHandle{name: q.name, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		if err := fn(ctx); err != nil {
			h.err = fmt.Errorf("%s task: %w", q.name, err)
		}
	}()

	q.mu.Lock()
	q.handles = append(q.handles, h)
	q.mu.Unlock()
}

// Len returns the number of tasks not yet drained.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.handles)
}

// Drain waits for every tracked task, including tasks spawned while
// draining, and returns their combined error.
func (q *TaskQueue) Drain() error {
	var errs multierror.MultiError
	for {
		q.mu.Lock()
		handles := q.handles
		q.handles = nil
		q.mu.Unlock()

		if len(handles) == 0 {
			if len(errs) == 1 {
				return errs[0]
			}
			return errs.Err()
		}
		for _, h := range handles {
			errs.Add(h.Join())
		}
	}
}
