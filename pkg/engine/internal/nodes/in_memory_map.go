package nodes

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
)

// InMemoryMapNode applies a function to its whole input at once. It backs
// operations that cannot be streamed.
type InMemoryMapNode struct {
	blockerNode
	fn MapFunc
}

var _ graph.ComputeNode = (*InMemoryMapNode)(nil)

func NewInMemoryMap(name string, schema *arrow.Schema, fn MapFunc) *InMemoryMapNode {
	if name == "" {
		name = "in-memory-map"
	}
	n := &InMemoryMapNode{fn: fn}
	n.blockerNode = newBlockerNode(name, true, []*arrow.Schema{schema}, n.apply)
	return n
}

func (n *InMemoryMapNode) apply(_ context.Context, _ *execstate.StreamingExecutionState, frames []arrow.Record) (arrow.Record, error) {
	return n.fn(frames[0])
}
