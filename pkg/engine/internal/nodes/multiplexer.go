package nodes

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// MultiplexerNode copies its input to every output. Morsels for outputs that
// are not running in the current phase are buffered until they are.
type MultiplexerNode struct {
	buffers [][]morsel.Morsel
	gone    []bool
}

var _ graph.ComputeNode = (*MultiplexerNode)(nil)

func NewMultiplexer() *MultiplexerNode { return &MultiplexerNode{} }

func (n *MultiplexerNode) Name() string { return "multiplexer" }

func (n *MultiplexerNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *MultiplexerNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	if len(recv) != 1 || len(send) == 0 {
		panic(fmt.Sprintf("%s: expected 1 input and at least 1 output, got %d and %d", n.Name(), len(recv), len(send)))
	}
	if n.buffers == nil {
		n.buffers = make([][]morsel.Morsel, len(send))
		n.gone = make([]bool, len(send))
	}

	inputDone := recv[0] == graph.Done
	anyReady, allDone := false, true
	for i, downstream := range send {
		if downstream == graph.Done {
			n.drop(i)
		}

		switch {
		case n.gone[i]:
			send[i] = graph.Done
		case downstream == graph.Ready:
			anyReady = true
			fallthrough
		default:
			allDone = false
			switch {
			case len(n.buffers[i]) > 0:
				send[i] = graph.Ready
			case inputDone:
				send[i] = graph.Done
			default:
				send[i] = recv[0]
			}
		}
	}

	switch {
	case inputDone || allDone:
		recv[0] = graph.Done
	case anyReady:
		recv[0] = graph.Ready
	default:
		recv[0] = graph.Blocked
	}
	return nil
}

// drop forgets output i along with anything buffered for it.
func (n *MultiplexerNode) drop(i int) {
	for _, m := range n.buffers[i] {
		m.Release()
	}
	n.buffers[i] = nil
	n.gone[i] = true
}

func (n *MultiplexerNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	var r *pipe.Receiver
	if recv[0] != nil {
		r = takeRecv(recv, 0).Serial()
	}
	senders := make([]*pipe.Sender, len(send))
	for i := range send {
		if send[i] != nil {
			senders[i] = takeSend(send, i).Serial()
		}
	}

	*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
		defer func() {
			for _, s := range senders {
				if s != nil {
					s.Close()
				}
			}
			if r != nil {
				r.Close()
			}
		}()

		if err := n.flush(ctx, senders); err != nil {
			return err
		}
		if r == nil {
			return nil
		}

		for !n.allGone() {
			m, err := r.Recv(ctx)
			if isClosed(err) {
				return nil
			} else if err != nil {
				return err
			}
			if err := n.fanOut(ctx, m, senders); err != nil {
				return err
			}
		}
		return nil
	}))
}

// flush sends buffered morsels to the outputs running in this phase.
func (n *MultiplexerNode) flush(ctx context.Context, senders []*pipe.Sender) error {
	for i, s := range senders {
		if s == nil {
			continue
		}
		for len(n.buffers[i]) > 0 {
			m := n.buffers[i][0]
			n.buffers[i] = n.buffers[i][1:]
			if err := s.Send(ctx, m); err != nil {
				m.Release()
				if !isClosed(err) {
					return err
				}
				n.drop(i)
			}
		}
	}
	return nil
}

// fanOut hands m to every live output, retaining its frame once per extra
// holder.
func (n *MultiplexerNode) fanOut(ctx context.Context, m morsel.Morsel, senders []*pipe.Sender) error {
	defer m.Release()
	for i := range n.buffers {
		if n.gone[i] {
			continue
		}
		m.DF.Retain()
		if senders[i] == nil {
			n.buffers[i] = append(n.buffers[i], m)
			continue
		}
		if err := senders[i].Send(ctx, m); err != nil {
			m.Release()
			if !isClosed(err) {
				return err
			}
			n.drop(i)
			senders[i].Close()
		}
	}
	return nil
}

func (n *MultiplexerNode) allGone() bool {
	for _, g := range n.gone {
		if !g {
			return false
		}
	}
	return true
}

func (n *MultiplexerNode) GetOutput() (arrow.Record, error) { return nil, nil }
