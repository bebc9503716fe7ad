// Package physical contains the physical plan of a query: typed streaming
// operators stored in an arena and connected by (node, port) streams. A
// physical plan is lowered once from a logical plan and then converted into
// the runtime graph.
package physical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arena"
	"github.com/grafana/morsel/pkg/engine/internal/util/dag"
)

// NodeKey identifies a node of a [Plan].
type NodeKey arena.Key

func (k NodeKey) String() string { return arena.Key(k).String() }

// Stream references an output port of a node.
type Stream struct {
	Node NodeKey
	Port int
}

// First returns the stream of the first output port of node.
func First(node NodeKey) Stream { return Stream{Node: node} }

func (s Stream) String() string { return fmt.Sprintf("%s:%d", s.Node, s.Port) }

// Node is an operator of a physical plan along with the schema of the frames
// it produces.
type Node struct {
	OutputSchema *arrow.Schema
	Kind         Kind
}

// Plan is an arena of physical nodes.
type Plan struct {
	nodes *arena.Arena[NodeKey, Node]
}

func NewPlan() *Plan {
	return &Plan{nodes: arena.New[NodeKey, Node]()}
}

// Add inserts a node producing frames with the given schema.
func (p *Plan) Add(schema *arrow.Schema, kind Kind) NodeKey {
	return p.nodes.Insert(Node{OutputSchema: schema, Kind: kind})
}

// Get returns the node stored under key.
func (p *Plan) Get(key NodeKey) (*Node, bool) { return p.nodes.Get(key) }

// MustGet is like Get but panics if key is unknown.
func (p *Plan) MustGet(key NodeKey) *Node { return p.nodes.MustGet(key) }

// Len returns the number of nodes in the plan.
func (p *Plan) Len() int { return p.nodes.Len() }

// Inputs returns the input streams of the node stored under key.
func (p *Plan) Inputs(key NodeKey) []Stream {
	ptrs := p.MustGet(key).Kind.inputs()
	out := make([]Stream, len(ptrs))
	for i, s := range ptrs {
		out[i] = *s
	}
	return out
}

// children returns the nodes key depends on, in port order.
func (p *Plan) children(key NodeKey) []NodeKey {
	n, ok := p.Get(key)
	if !ok {
		return nil
	}
	if sm, ok := n.Kind.(*SinkMultiple); ok {
		return sm.Sinks
	}
	ptrs := n.Kind.inputs()
	out := make([]NodeKey, len(ptrs))
	for i, s := range ptrs {
		out[i] = s.Node
	}
	return out
}

// visitNodeInputs calls visit for every input stream of every node reachable
// from roots. Every node is visited once. visit may rewrite the stream.
func visitNodeInputs(roots []NodeKey, p *Plan, visit func(*Stream)) {
	_ = dag.Walk(roots, p.children, func(key NodeKey) error {
		n, ok := p.Get(key)
		if !ok {
			return nil
		}
		for _, s := range n.Kind.inputs() {
			visit(s)
		}
		return nil
	}, dag.PreOrderWalk)
}

// Validate checks the plan reachable from roots. Every input must reference an
// existing non-sink node, every output port must be consumed at most once,
// and the ports of a node must be consumed without gaps.
func (p *Plan) Validate(roots []NodeKey) error {
	for _, root := range roots {
		if !p.nodes.Contains(root) {
			return fmt.Errorf("%w: unknown root %s", errors.ErrPlan, root)
		}
	}

	var (
		err       error
		consumers = make(map[Stream]int)
		maxPort   = make(map[NodeKey]int)
	)
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}

	walkErr := dag.Walk(roots, p.children, func(key NodeKey) error {
		n, ok := p.Get(key)
		if !ok {
			return fmt.Errorf("%w: unknown node %s", errors.ErrPlan, key)
		}
		if sm, ok := n.Kind.(*SinkMultiple); ok {
			for _, sink := range sm.Sinks {
				if s, ok := p.Get(sink); !ok || !isSink(s.Kind) {
					return fmt.Errorf("%w: %s groups non-sink %s", errors.ErrPlan, key, sink)
				}
			}
		}
		if n.OutputSchema == nil {
			return fmt.Errorf("%w: %s %s has no output schema", errors.ErrPlan, n.Kind.Name(), key)
		}
		for _, s := range n.Kind.inputs() {
			producer, ok := p.Get(s.Node)
			if !ok {
				return fmt.Errorf("%w: %s %s reads unknown node %s", errors.ErrPlan, n.Kind.Name(), key, s.Node)
			}
			if isSink(producer.Kind) {
				return fmt.Errorf("%w: %s %s reads sink %s", errors.ErrPlan, n.Kind.Name(), key, s.Node)
			}
			if _, mux := producer.Kind.(*Multiplexer); !mux && s.Port != 0 {
				return fmt.Errorf("%w: %s %s reads port %d of single-output node %s", errors.ErrPlan, n.Kind.Name(), key, s.Port, s.Node)
			}
			if s.Port < 0 {
				return fmt.Errorf("%w: negative port in %s", errors.ErrPlan, s)
			}
			consumers[*s]++
			if consumers[*s] > 1 {
				setErr(fmt.Errorf("%w: stream %s is consumed more than once", errors.ErrPlan, s))
			}
			maxPort[s.Node] = max(maxPort[s.Node], s.Port)
		}
		return p.checkSchemas(key, n)
	}, dag.PreOrderWalk)
	if walkErr != nil {
		return walkErr
	}

	for node, last := range maxPort {
		for port := 0; port <= last; port++ {
			if consumers[Stream{Node: node, Port: port}] == 0 {
				setErr(fmt.Errorf("%w: port %d of %s is not consumed", errors.ErrPlan, port, node))
			}
		}
	}
	return err
}

// checkSchemas checks the input schemas of operators that pass frames through
// unchanged.
func (p *Plan) checkSchemas(key NodeKey, n *Node) error {
	var same []Stream
	switch k := n.Kind.(type) {
	case *OrderedUnion:
		same = k.Inputs
	case *Zip:
		if len(k.Inputs) == 0 {
			return fmt.Errorf("%w: zip %s without inputs", errors.ErrPlan, key)
		}
	case *Filter:
		same = []Stream{k.Input}
	case *StreamingSlice:
		same = []Stream{k.Input}
	case *Multiplexer:
		same = []Stream{k.Input}
	case *Sort:
		same = []Stream{k.Input}
	}
	if _, ok := n.Kind.(*OrderedUnion); ok && len(same) == 0 {
		return fmt.Errorf("%w: union %s without inputs", errors.ErrPlan, key)
	}
	for _, s := range same {
		in := p.MustGet(s.Node).OutputSchema
		if !datatype.SchemaEqual(in, n.OutputSchema) {
			return fmt.Errorf("%w: %s %s produces %s from %s", errors.ErrSchema, n.Kind.Name(), key, n.OutputSchema, in)
		}
	}
	return nil
}
