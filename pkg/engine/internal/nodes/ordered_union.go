package nodes

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// OrderedUnionNode emits its inputs one after another. Only the current input
// is ever ready.
type OrderedUnionNode struct {
	cur int
}

var _ graph.ComputeNode = (*OrderedUnionNode)(nil)

func NewOrderedUnion() *OrderedUnionNode { return &OrderedUnionNode{} }

func (n *OrderedUnionNode) Name() string { return "ordered-union" }

func (n *OrderedUnionNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *OrderedUnionNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	if len(recv) == 0 || len(send) != 1 {
		panic(fmt.Sprintf("%s: expected at least 1 input and 1 output, got %d and %d", n.Name(), len(recv), len(send)))
	}

	for n.cur < len(recv) && recv[n.cur] == graph.Done {
		n.cur++
	}
	if send[0] == graph.Done {
		n.cur = len(recv)
	}

	if n.cur == len(recv) {
		for i := range recv {
			recv[i] = graph.Done
		}
		send[0] = graph.Done
		return nil
	}

	upstream, downstream := recv[n.cur], send[0]
	for i := range recv {
		switch {
		case i < n.cur:
			recv[i] = graph.Done
		case i == n.cur:
			recv[i] = downstream
		default:
			recv[i] = graph.Blocked
		}
	}
	send[0] = upstream
	return nil
}

func (n *OrderedUnionNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	receivers := takeRecv(recv, n.cur).Parallel()
	senders := takeSend(send, 0).Parallel()
	for i := range receivers {
		r, s := receivers[i], senders[i]
		*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
			defer s.Close()
			defer r.Close()
			for {
				m, err := r.Recv(ctx)
				if isClosed(err) {
					return nil
				} else if err != nil {
					return err
				}
				if err := s.Send(ctx, m); err != nil {
					m.Release()
					if isClosed(err) {
						return nil
					}
					return err
				}
			}
		}))
	}
}

func (n *OrderedUnionNode) GetOutput() (arrow.Record, error) { return nil, nil }
