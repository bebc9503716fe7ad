package nodes

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// WithRowIndexNode prepends a column numbering the rows of its input.
type WithRowIndexNode struct {
	column string
	next   int64
}

var _ graph.ComputeNode = (*WithRowIndexNode)(nil)

// NewWithRowIndex returns a node prepending an int64 column named column
// counting up from offset.
func NewWithRowIndex(column string, offset int64) *WithRowIndexNode {
	return &WithRowIndexNode{column: column, next: offset}
}

func (n *WithRowIndexNode) Name() string { return "with-row-index" }

func (n *WithRowIndexNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *WithRowIndexNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 1, 1)
	passThrough(recv, send)
	return nil
}

func (n *WithRowIndexNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	mem := state.InMemory.Allocator
	spawnSerialTransform(scope, n.Name(), recv, send, handles, func(_ context.Context, m morsel.Morsel) (morsel.Morsel, error) {
		defer m.Release()

		rows := m.DF.NumRows()
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(int(rows))
		for i := int64(0); i < rows; i++ {
			b.UnsafeAppend(n.next + i)
		}
		n.next += rows
		idx := b.NewArray()
		defer idx.Release()

		fields := append([]arrow.Field{{Name: n.column, Type: arrow.PrimitiveTypes.Int64}}, m.DF.Schema().Fields()...)
		cols := append([]arrow.Array{idx}, m.DF.Columns()...)
		return m.WithDF(array.NewRecord(arrow.NewSchema(fields, nil), cols, rows)), nil
	})
}

func (n *WithRowIndexNode) GetOutput() (arrow.Record, error) { return nil, nil }
