package nodes

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// InMemorySourceNode emits a frame held in memory.
type InMemorySourceNode struct {
	df     arrow.Record
	source *frameSource
}

var _ graph.ComputeNode = (*InMemorySourceNode)(nil)

// NewInMemorySource returns a source emitting df. The node takes a reference
// to df.
func NewInMemorySource(df arrow.Record) *InMemorySourceNode {
	df.Retain()
	return &InMemorySourceNode{df: df}
}

func (n *InMemorySourceNode) Name() string { return "in-memory-source" }

func (n *InMemorySourceNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *InMemorySourceNode) UpdateState(recv, send []graph.PortState, state *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 0, 1)
	if n.source == nil {
		n.source = newFrameSource(n.df, state.IdealMorselSize)
		n.df.Release()
		n.df = nil
	}
	n.source.updateSend(send)
	return nil
}

func (n *InMemorySourceNode) Spawn(scope *async.Scope, _ []*pipe.RecvPort, send []*pipe.SendPort, _ *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	n.source.spawn(scope, n.Name(), takeSend(send, 0), handles)
}

func (n *InMemorySourceNode) GetOutput() (arrow.Record, error) { return nil, nil }

// InMemorySinkNode collects its input into a single frame.
type InMemorySinkNode struct {
	buf *frameBuffer
	mem memory.Allocator
	out arrow.Record
}

var _ graph.ComputeNode = (*InMemorySinkNode)(nil)

// NewInMemorySink returns a sink collecting frames with the given schema.
func NewInMemorySink(schema *arrow.Schema) *InMemorySinkNode {
	return &InMemorySinkNode{buf: newFrameBuffer(schema)}
}

func (n *InMemorySinkNode) Name() string { return "in-memory-sink" }

func (n *InMemorySinkNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *InMemorySinkNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 1, 0)
	if recv[0] != graph.Done {
		recv[0] = graph.Ready
	}
	return nil
}

func (n *InMemorySinkNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, _ []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	n.mem = state.InMemory.Allocator
	n.buf.spawnCollect(scope, n.Name(), takeRecv(recv, 0), handles)
}

// GetOutput returns the collected frame in the order the input produced it.
func (n *InMemorySinkNode) GetOutput() (arrow.Record, error) {
	if n.out == nil {
		out, err := n.buf.finish(n.mem)
		if err != nil {
			return nil, err
		}
		n.out = out
	}
	return n.out, nil
}
