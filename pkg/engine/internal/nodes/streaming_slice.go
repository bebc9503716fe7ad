package nodes

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// StreamingSliceNode keeps length rows after skipping offset rows. Once
// enough rows passed it asks its sources to stop and finishes.
type StreamingSliceNode struct {
	// offsetRemaining and lengthRemaining shrink as rows pass, as the slice
	// may cross morsel boundaries and phases.
	offsetRemaining int64
	lengthRemaining int64
}

var _ graph.ComputeNode = (*StreamingSliceNode)(nil)

func NewStreamingSlice(offset, length int64) *StreamingSliceNode {
	return &StreamingSliceNode{offsetRemaining: max(offset, 0), lengthRemaining: max(length, 0)}
}

func (n *StreamingSliceNode) Name() string { return "streaming-slice" }

func (n *StreamingSliceNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *StreamingSliceNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 1, 1)
	if n.lengthRemaining == 0 {
		recv[0] = graph.Done
		send[0] = graph.Done
		return nil
	}
	passThrough(recv, send)
	return nil
}

func (n *StreamingSliceNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	r := takeRecv(recv, 0).Serial()
	s := takeSend(send, 0).Serial()
	*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
		defer s.Close()
		defer r.Close()
		return n.run(ctx, r, s)
	}))
}

func (n *StreamingSliceNode) run(ctx context.Context, r *pipe.Receiver, s *pipe.Sender) error {
	for n.lengthRemaining > 0 {
		m, err := r.Recv(ctx)
		if isClosed(err) {
			return nil
		} else if err != nil {
			return err
		}

		rows := m.DF.NumRows()
		start := min(n.offsetRemaining, rows)
		end := start + min(n.lengthRemaining, rows-start)
		n.offsetRemaining -= start
		n.lengthRemaining -= end - start

		if n.lengthRemaining == 0 {
			m.Token.StopRequest()
		}
		if end == start {
			m.Release()
			continue
		}

		var df arrow.Record = m.DF
		if start != 0 || end != rows {
			df = m.DF.NewSlice(start, end)
			m.DF.Release()
		}
		out := m.WithDF(df)
		if err := s.Send(ctx, out); err != nil {
			out.Release()
			if isClosed(err) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (n *StreamingSliceNode) GetOutput() (arrow.Record, error) { return nil, nil }
