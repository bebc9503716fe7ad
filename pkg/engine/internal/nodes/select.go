package nodes

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// MapFunc transforms a frame. The caller owns the returned frame, so returning
// df itself requires retaining it first.
type MapFunc func(df arrow.Record) (arrow.Record, error)

// streamingNode holds what every single-input single-output streaming
// operator shares.
type streamingNode struct {
	name string
}

func (n *streamingNode) Name() string { return n.name }

func (n *streamingNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *streamingNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	checkPorts(n.name, recv, send, 1, 1)
	passThrough(recv, send)
	return nil
}

func (n *streamingNode) GetOutput() (arrow.Record, error) { return nil, nil }

// SelectNode evaluates expressions against every morsel.
type SelectNode struct {
	streamingNode
	schema    *arrow.Schema
	selectors []expr.Expr
	extend    bool
}

var _ graph.ComputeNode = (*SelectNode)(nil)

// NewSelect returns a node evaluating selectors against input frames with
// the given schema. With extend set, results are added to the input columns.
func NewSelect(schema *arrow.Schema, selectors []expr.Expr, extend bool) *SelectNode {
	return &SelectNode{
		streamingNode: streamingNode{name: "select"},
		schema:        schema,
		selectors:     selectors,
		extend:        extend,
	}
}

func (n *SelectNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	eval := state.InMemory.Evaluator
	spawnParallelTransform(scope, n.name, recv, send, handles, func(_ context.Context, m morsel.Morsel) (morsel.Morsel, error) {
		defer m.Release()
		cols, err := eval.Evaluate(n.schema, n.selectors, m.DF)
		if err != nil {
			return morsel.Morsel{}, err
		}
		if !n.extend {
			return m.WithDF(cols), nil
		}
		defer cols.Release()
		out, err := dataframe.WithColumns(m.DF, cols)
		if err != nil {
			return morsel.Morsel{}, err
		}
		return m.WithDF(out), nil
	})
}

// FilterNode keeps the rows of every morsel matching a predicate.
type FilterNode struct {
	streamingNode
	predicate expr.Expr
}

var _ graph.ComputeNode = (*FilterNode)(nil)

func NewFilter(predicate expr.Expr) *FilterNode {
	return &FilterNode{streamingNode: streamingNode{name: "filter"}, predicate: predicate}
}

func (n *FilterNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	eval := state.InMemory.Evaluator
	spawnParallelTransform(scope, n.name, recv, send, handles, func(ctx context.Context, m morsel.Morsel) (morsel.Morsel, error) {
		defer m.Release()
		mask, err := eval.EvaluateArray(n.predicate, m.DF)
		if err != nil {
			return morsel.Morsel{}, err
		}
		defer mask.Release()
		out, err := dataframe.Filter(ctx, m.DF, mask)
		if err != nil {
			return morsel.Morsel{}, err
		}
		return m.WithDF(out), nil
	})
}

// SimpleProjectionNode selects columns by name without evaluating
// expressions.
type SimpleProjectionNode struct {
	streamingNode
	columns []string
}

var _ graph.ComputeNode = (*SimpleProjectionNode)(nil)

func NewSimpleProjection(columns []string) *SimpleProjectionNode {
	return &SimpleProjectionNode{streamingNode: streamingNode{name: "simple-projection"}, columns: columns}
}

func (n *SimpleProjectionNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	spawnParallelTransform(scope, n.name, recv, send, handles, func(_ context.Context, m morsel.Morsel) (morsel.Morsel, error) {
		defer m.Release()
		out, err := dataframe.Project(m.DF, n.columns)
		if err != nil {
			return morsel.Morsel{}, err
		}
		return m.WithDF(out), nil
	})
}

// MapNode applies a row-wise function to every morsel.
type MapNode struct {
	streamingNode
	fn MapFunc
}

var _ graph.ComputeNode = (*MapNode)(nil)

// NewMap returns a node applying fn to every morsel. fn must treat rows
// independently, as it never sees the whole frame.
func NewMap(name string, fn MapFunc) *MapNode {
	if name == "" {
		name = "map"
	}
	return &MapNode{streamingNode: streamingNode{name: name}, fn: fn}
}

func (n *MapNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	spawnParallelTransform(scope, n.name, recv, send, handles, func(_ context.Context, m morsel.Morsel) (morsel.Morsel, error) {
		defer m.Release()
		out, err := n.fn(m.DF)
		if err != nil {
			return morsel.Morsel{}, err
		}
		return m.WithDF(out), nil
	})
}

// InputIndependentSelectNode evaluates literal selectors once and emits a
// single row.
type InputIndependentSelectNode struct {
	selectors []expr.Expr
	emitted   bool
}

var _ graph.ComputeNode = (*InputIndependentSelectNode)(nil)

func NewInputIndependentSelect(selectors []expr.Expr) *InputIndependentSelectNode {
	return &InputIndependentSelectNode{selectors: selectors}
}

func (n *InputIndependentSelectNode) Name() string { return "input-independent-select" }

func (n *InputIndependentSelectNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *InputIndependentSelectNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 0, 1)
	if n.emitted || send[0] == graph.Done {
		send[0] = graph.Done
	} else {
		send[0] = graph.Ready
	}
	return nil
}

func (n *InputIndependentSelectNode) Spawn(scope *async.Scope, _ []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	s := takeSend(send, 0).Serial()
	eval := state.InMemory.Evaluator
	*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
		defer s.Close()

		unit := array.NewRecord(arrow.NewSchema(nil, nil), nil, 1)
		defer unit.Release()
		for _, sel := range n.selectors {
			if !expr.IsInputIndependent(sel) {
				return fmt.Errorf("%w: selector %s depends on input", errors.ErrPlan, sel)
			}
		}
		df, err := eval.Evaluate(unit.Schema(), n.selectors, unit)
		if err != nil {
			return err
		}

		m := morsel.New(df, 0, morsel.NewSourceToken())
		if err := s.Send(ctx, m); err != nil {
			m.Release()
			if isClosed(err) {
				n.emitted = true
				return nil
			}
			return err
		}
		n.emitted = true
		return nil
	}))
}

func (n *InputIndependentSelectNode) GetOutput() (arrow.Record, error) { return nil, nil }
