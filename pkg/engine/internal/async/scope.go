// Package async runs the tasks of an execution phase.
//
// Tasks are goroutines grouped in a [Scope]. The scope guarantees that every
// task it spawned has returned before [TaskScope] returns, and cancels the
// shared context on the first task failure so that siblings blocked on a pipe
// or on a compute slot wake up and exit.
package async

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// computeLane bounds the number of tasks doing CPU work at the same time.
// Tasks only hold a slot while computing, never while waiting on a pipe.
type computeLane struct {
	*semaphore.Weighted
	capacity int64
}

func newComputeLane(capacity int64) *computeLane {
	if capacity < 1 {
		capacity = math.MaxInt64
	}
	return &computeLane{
		Weighted: semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Scope is a group of tasks sharing one cancellation context.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	lane   *computeLane

	wg      sync.WaitGroup
	errOnce sync.Once
	err     error

	mu    sync.Mutex
	stats []*taskStats
}

// TaskScope runs fn with a new scope whose compute lane admits parallelism
// tasks at a time. It returns only after every task spawned in the scope has
// returned. The first task error takes precedence over the error of fn.
func TaskScope(ctx context.Context, parallelism int, fn func(s *Scope) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	s := &Scope{
		ctx:    ctx,
		cancel: cancel,
		lane:   newComputeLane(int64(parallelism)),
	}

	err := fn(s)
	if err != nil {
		s.fail(err)
	}
	s.wg.Wait()
	cancel(context.Canceled)

	if s.err != nil {
		return s.err
	}
	return err
}

// Context returns the context shared by the tasks of s.
func (s *Scope) Context() context.Context { return s.ctx }

// Err returns the first error reported by a task of s, if any.
func (s *Scope) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scope) fail(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.cancel(err)
	})
}

// Spawn starts fn as a task of s. A non-nil error returned by fn cancels the
// scope.
func (s *Scope) Spawn(name string, fn func(ctx context.Context) error) *JoinHandle {
	h := &JoinHandle{name: name, done: make(chan struct{})}
	stats := s.newTaskStats(name)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)

		err := fn(withTaskStats(s.ctx, stats))
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			s.fail(err)
		}
		h.err = err
	}()
	return h
}

// Compute runs fn while holding a compute slot.
func (s *Scope) Compute(ctx context.Context, fn func() error) error {
	if err := s.lane.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lane.Release(1)
	return fn()
}

// JoinHandle resolves when its task returns.
type JoinHandle struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the name the task was spawned with.
func (h *JoinHandle) Name() string { return h.name }

// Join blocks until the task returned and returns its error.
func (h *JoinHandle) Join() error {
	<-h.done
	return h.err
}

// Done is closed once the task returned.
func (h *JoinHandle) Done() <-chan struct{} { return h.done }
