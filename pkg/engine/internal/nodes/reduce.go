package nodes

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// ReduceNode aggregates its whole input into a single row. Every lane keeps
// its own partial state, so the input is never materialised.
type ReduceNode struct {
	agg *aggregator

	mu       sync.Mutex
	partials [][]accumulator

	source *frameSource
}

var _ graph.ComputeNode = (*ReduceNode)(nil)

// NewReduce returns a node evaluating aggs over input frames with the given
// schema.
func NewReduce(schema *arrow.Schema, aggs []expr.Expr) (*ReduceNode, error) {
	planned, err := planAggregations(schema, aggs)
	if err != nil {
		return nil, err
	}
	return &ReduceNode{agg: &aggregator{aggs: planned}}, nil
}

func (n *ReduceNode) Name() string { return "reduce" }

func (n *ReduceNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *ReduceNode) UpdateState(recv, send []graph.PortState, state *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 1, 1)

	if n.source == nil {
		switch {
		case send[0] == graph.Done:
			n.source = newFrameSource(nil, 1)
		case recv[0] != graph.Done:
			recv[0] = graph.Ready
			send[0] = graph.Blocked
			return nil
		default:
			out := n.finish(state)
			n.source = newFrameSource(out, state.IdealMorselSize)
			out.Release()
		}
	}

	recv[0] = graph.Done
	n.source.updateSend(send)
	return nil
}

func (n *ReduceNode) finish(state *execstate.StreamingExecutionState) arrow.Record {
	total := n.agg.newGroup()
	for _, p := range n.partials {
		for i := range total {
			total[i].merge(&p[i])
		}
	}
	n.partials = nil

	cols := n.agg.build(state.InMemory.Allocator, [][]accumulator{total})
	defer releaseArrays(cols)
	return array.NewRecord(arrow.NewSchema(n.agg.fields(), nil), cols, 1)
}

func (n *ReduceNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	if n.source != nil {
		n.source.spawn(scope, n.Name(), takeSend(send, 0), handles)
		return
	}

	for _, r := range takeRecv(recv, 0).Parallel() {
		*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
			defer r.Close()
			accs := n.agg.newGroup()
			defer func() {
				n.mu.Lock()
				n.partials = append(n.partials, accs)
				n.mu.Unlock()
			}()

			for {
				m, err := r.Recv(ctx)
				if isClosed(err) {
					return nil
				} else if err != nil {
					return err
				}
				err = scope.Compute(ctx, func() error {
					defer m.Release()
					arrs, err := n.agg.inputs(state.InMemory.Evaluator, m.DF)
					if err != nil {
						return err
					}
					defer releaseArrays(arrs)
					for row := 0; row < int(m.DF.NumRows()); row++ {
						pos := position{seq: m.Seq, row: int64(row)}
						for i := range accs {
							accs[i].update(arrs[i], row, pos)
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
		}))
	}
}

func (n *ReduceNode) GetOutput() (arrow.Record, error) { return nil, nil }
