package physical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/nodes"
	"github.com/grafana/morsel/pkg/engine/internal/util/dag"
)

// GraphOptions configures the compute nodes created by ToGraph.
type GraphOptions struct {
	// FileSinkBufferSize is the write buffer of file sinks in bytes. Zero
	// uses nodes.DefaultFileSinkBufferSize.
	FileSinkBufferSize int
}

// ToGraph converts the plan reachable from roots into a runtime graph. The
// returned map holds the graph node of every physical node that has one;
// SinkMultiple nodes have none.
func ToGraph(p *Plan, roots []NodeKey, opts GraphOptions) (*graph.Graph, map[NodeKey]graph.NodeKey, error) {
	if err := p.Validate(roots); err != nil {
		return nil, nil, err
	}

	var (
		g    = graph.New()
		keys = make(map[NodeKey]graph.NodeKey, p.Len())
	)
	err := dag.Walk(roots, p.children, func(key NodeKey) error {
		n := p.MustGet(key)
		if _, ok := n.Kind.(*SinkMultiple); ok {
			return nil
		}

		ptrs := n.Kind.inputs()
		inputs := make([]graph.Input, len(ptrs))
		schemas := make([]*arrow.Schema, len(ptrs))
		for i, s := range ptrs {
			inputs[i] = graph.Input{Node: keys[s.Node], Port: s.Port}
			schemas[i] = p.MustGet(s.Node).OutputSchema
		}

		compute, err := computeNode(n, schemas, opts)
		if err != nil {
			return fmt.Errorf("creating %s %s: %w", n.Kind.Name(), key, err)
		}
		keys[key] = g.AddNode(compute, inputs)
		return nil
	}, dag.PostOrderWalk)
	if err != nil {
		return nil, nil, err
	}
	return g, keys, nil
}

func computeNode(n *Node, inputs []*arrow.Schema, opts GraphOptions) (graph.ComputeNode, error) {
	switch k := n.Kind.(type) {
	case *InMemorySource:
		return nodes.NewInMemorySource(k.DF), nil
	case *FileScan:
		return nodes.NewFileScan(k.Path, k.Format, k.Schema), nil
	case *InputIndependentSelect:
		return nodes.NewInputIndependentSelect(k.Selectors), nil
	case *Select:
		return nodes.NewSelect(inputs[0], k.Selectors, k.Extend), nil
	case *WithRowIndex:
		return nodes.NewWithRowIndex(k.Column, k.Offset), nil
	case *Filter:
		return nodes.NewFilter(k.Predicate), nil
	case *SimpleProjection:
		return nodes.NewSimpleProjection(k.Columns), nil
	case *Reduce:
		return nodes.NewReduce(inputs[0], k.Aggs)
	case *StreamingSlice:
		return nodes.NewStreamingSlice(k.Offset, k.Length), nil
	case *InMemorySink:
		return nodes.NewInMemorySink(n.OutputSchema), nil
	case *FileSink:
		return nodes.NewFileSink(k.Path, k.Format, n.OutputSchema, opts.FileSinkBufferSize), nil
	case *InMemoryMap:
		return nodes.NewInMemoryMap(k.Label, n.OutputSchema, k.Func), nil
	case *Map:
		return nodes.NewMap(k.Label, k.Func), nil
	case *Sort:
		return nodes.NewSort(inputs[0], k.By, k.Options), nil
	case *GroupBy:
		return nodes.NewGroupBy(inputs[0], k.Keys, k.Aggs)
	case *OrderedUnion:
		return nodes.NewOrderedUnion(), nil
	case *Zip:
		return nodes.NewZip(inputs, k.NullExtend), nil
	case *Multiplexer:
		return nodes.NewMultiplexer(), nil
	case *InMemoryJoin:
		return nodes.NewInMemoryJoin(inputs[0], inputs[1], k.Options)
	default:
		return nil, fmt.Errorf("%w: physical node %T", errors.ErrNotImplemented, k)
	}
}
