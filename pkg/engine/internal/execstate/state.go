// Package execstate holds the per-query state shared by the execution driver
// and the operators it runs.
package execstate

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/spf13/afero"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/async"
)

// InMemoryExecState is the context of operators that fall back to
// materialising whole frames.
type InMemoryExecState struct {
	Evaluator expr.Evaluator
	Allocator memory.Allocator
	Fs        afero.Fs
}

// StreamingExecutionState is created once per graph execution and shared by
// every operator of the query.
type StreamingExecutionState struct {
	// NumPipelines is the number of parallel lanes of a parallel port.
	NumPipelines int
	// IdealMorselSize is the number of rows sources aim for per morsel.
	IdealMorselSize int64

	InMemory InMemoryExecState
	Logger   log.Logger

	ctx           context.Context
	queryTasks    *async.TaskQueue
	subphaseTasks *async.TaskQueue
}

// New returns the state of a query running under ctx. Background tasks
// spawned through the state observe ctx.
func New(ctx context.Context, numPipelines int, idealMorselSize int64, inMemory InMemoryExecState, logger log.Logger) *StreamingExecutionState {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if inMemory.Evaluator == nil {
		inMemory.Evaluator = expr.NewEvaluator(inMemory.Allocator)
	}
	if inMemory.Allocator == nil {
		inMemory.Allocator = memory.DefaultAllocator
	}
	if inMemory.Fs == nil {
		inMemory.Fs = afero.NewOsFs()
	}
	return &StreamingExecutionState{
		NumPipelines:    max(numPipelines, 1),
		IdealMorselSize: max(idealMorselSize, 1),
		InMemory:        inMemory,
		Logger:          logger,
		ctx:             ctx,
		queryTasks:      async.NewTaskQueue("query"),
		subphaseTasks:   async.NewTaskQueue("subphase"),
	}
}

// Context returns the context of the query.
func (s *StreamingExecutionState) Context() context.Context { return s.ctx }

// SpawnQueryTask starts fn in the background. It is awaited once the whole
// query finished.
func (s *StreamingExecutionState) SpawnQueryTask(fn func(ctx context.Context) error) {
	s.queryTasks.Spawn(s.ctx, fn)
}

// SpawnSubphaseTask starts fn in the background. It is awaited at the end of
// the current state update or phase.
func (s *StreamingExecutionState) SpawnSubphaseTask(fn func(ctx context.Context) error) {
	s.subphaseTasks.Spawn(s.ctx, fn)
}

// DrainSubphaseTasks waits for every subphase task.
func (s *StreamingExecutionState) DrainSubphaseTasks() error { return s.subphaseTasks.Drain() }

// DrainQueryTasks waits for every query task.
func (s *StreamingExecutionState) DrainQueryTasks() error { return s.queryTasks.Drain() }

// Close waits for all outstanding background tasks, discarding their errors.
// It is used when the query is aborted.
func (s *StreamingExecutionState) Close() {
	_ = s.subphaseTasks.Drain()
	_ = s.queryTasks.Drain()
}
