package nodes

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// finalizeFunc computes the result of a blocker from its fully collected
// inputs. It owns neither frames nor state.
type finalizeFunc func(ctx context.Context, state *execstate.StreamingExecutionState, frames []arrow.Record) (arrow.Record, error)

// blockerNode collects every input entirely, computes a result and then emits
// it as a source.
type blockerNode struct {
	name            string
	memoryIntensive bool
	finalize        finalizeFunc

	buffers []*frameBuffer
	source  *frameSource
}

func newBlockerNode(name string, memoryIntensive bool, schemas []*arrow.Schema, finalize finalizeFunc) blockerNode {
	buffers := make([]*frameBuffer, len(schemas))
	for i, schema := range schemas {
		buffers[i] = newFrameBuffer(schema)
	}
	return blockerNode{name: name, memoryIntensive: memoryIntensive, finalize: finalize, buffers: buffers}
}

func (n *blockerNode) Name() string { return n.name }

func (n *blockerNode) IsMemoryIntensivePipelineBlocker() bool { return n.memoryIntensive }

func (n *blockerNode) UpdateState(recv, send []graph.PortState, state *execstate.StreamingExecutionState) error {
	checkPorts(n.name, recv, send, len(n.buffers), 1)

	if n.source == nil && send[0] == graph.Done {
		// Nobody wants the result.
		for _, b := range n.buffers {
			b.discard()
		}
		n.source = newFrameSource(nil, 1)
	}

	if n.source == nil {
		collected := true
		for i := range recv {
			if recv[i] != graph.Done {
				recv[i] = graph.Ready
				collected = false
			}
		}
		if !collected {
			send[0] = graph.Blocked
			return nil
		}
		if err := n.emit(state); err != nil {
			return err
		}
	}

	for i := range recv {
		recv[i] = graph.Done
	}
	n.source.updateSend(send)
	return nil
}

func (n *blockerNode) emit(state *execstate.StreamingExecutionState) error {
	frames := make([]arrow.Record, len(n.buffers))
	defer func() {
		for _, f := range frames {
			if f != nil {
				f.Release()
			}
		}
	}()
	for i, b := range n.buffers {
		df, err := b.finish(state.InMemory.Allocator)
		if err != nil {
			return err
		}
		frames[i] = df
	}

	out, err := n.finalize(state.Context(), state, frames)
	if err != nil {
		return err
	}
	defer out.Release()
	n.source = newFrameSource(out, state.IdealMorselSize)
	return nil
}

func (n *blockerNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	if n.source != nil {
		n.source.spawn(scope, n.name, takeSend(send, 0), handles)
		return
	}
	for i := range recv {
		if recv[i] != nil {
			n.buffers[i].spawnCollect(scope, n.name, takeRecv(recv, i), handles)
		}
	}
}

func (n *blockerNode) GetOutput() (arrow.Record, error) { return nil, nil }
