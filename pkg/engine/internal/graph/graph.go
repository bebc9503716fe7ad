// Package graph contains the runtime graph of an execution: compute nodes
// connected by logical pipes whose port states drive the scheduler.
package graph

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
	"github.com/grafana/morsel/pkg/engine/internal/util/arena"
)

// PortState is the state of one side of a logical pipe.
type PortState uint8

const (
	// Blocked means the side cannot currently make progress over the pipe.
	Blocked PortState = iota
	// Ready means the side can send or receive data.
	Ready
	// Done means the side will never send or receive again.
	Done
)

var portStateStrings = map[PortState]string{
	Blocked: "blocked",
	Ready:   "ready",
	Done:    "done",
}

func (s PortState) String() string {
	if str, ok := portStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("PortState(%d)", s)
}

// ComputeNode is the state machine of an operator.
type ComputeNode interface {
	// Name returns a diagnostic label.
	Name() string

	// UpdateState computes the new port states of the node. On entry recv
	// holds the send state of every input pipe and send holds the receive
	// state of every output pipe. On return they hold the node's own receive
	// and send states.
	UpdateState(recv, send []PortState, state *execstate.StreamingExecutionState) error

	// IsMemoryIntensivePipelineBlocker reports whether the node materialises
	// its input before producing output.
	IsMemoryIntensivePipelineBlocker() bool

	// Spawn starts the tasks running the node for one phase. recv and send
	// hold a port for every pipe of the phase and nil otherwise. Spawn must
	// take every port, setting its slot to nil.
	Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, joinHandles *[]*async.JoinHandle)

	// GetOutput returns the frame collected by the node, or nil if the node
	// does not collect.
	GetOutput() (arrow.Record, error)
}

type (
	// NodeKey identifies a node of a Graph.
	NodeKey arena.Key
	// PipeKey identifies a logical pipe of a Graph.
	PipeKey arena.Key
)

func (k NodeKey) String() string { return arena.Key(k).String() }
func (k PipeKey) String() string { return arena.Key(k).String() }

// Node is a runtime operator. The index into Inputs and Outputs is the port
// number.
type Node struct {
	Compute ComputeNode
	Inputs  []PipeKey
	Outputs []PipeKey
}

// LogicalPipe connects an output port of Sender with an input port of
// Receiver.
type LogicalPipe struct {
	Sender   NodeKey
	SendPort int
	Receiver NodeKey
	RecvPort int

	SendState PortState
	RecvState PortState
}

// Finished reports whether both sides of p are done.
func (p *LogicalPipe) Finished() bool { return p.SendState == Done && p.RecvState == Done }

// Input references an output port of a node.
type Input struct {
	Node NodeKey
	Port int
}

// Graph is the runtime graph of an execution.
type Graph struct {
	Nodes *arena.Arena[NodeKey, Node]
	Pipes *arena.Arena[PipeKey, LogicalPipe]
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		Nodes: arena.New[NodeKey, Node](),
		Pipes: arena.New[PipeKey, LogicalPipe](),
	}
}

// AddNode adds a node fed by inputs, connecting input i to port i of the new
// node. Every output port may be connected once.
func (g *Graph) AddNode(compute ComputeNode, inputs []Input) NodeKey {
	key := g.Nodes.Insert(Node{Compute: compute})
	node := g.Nodes.MustGet(key)

	for recvPort, in := range inputs {
		pk := g.Pipes.Insert(LogicalPipe{
			Sender:    in.Node,
			SendPort:  in.Port,
			Receiver:  key,
			RecvPort:  recvPort,
			SendState: Blocked,
			RecvState: Blocked,
		})
		node.Inputs = append(node.Inputs, pk)

		sender := g.Nodes.MustGet(in.Node)
		for len(sender.Outputs) <= in.Port {
			sender.Outputs = append(sender.Outputs, 0)
		}
		if sender.Outputs[in.Port] != 0 {
			panic(fmt.Sprintf("graph: output port %d of node %s connected twice", in.Port, in.Node))
		}
		sender.Outputs[in.Port] = pk
	}
	return key
}

// UpdateAllStates asks every node to update its port states and propagates
// changes to neighbours until no state changes.
func (g *Graph) UpdateAllStates(state *execstate.StreamingExecutionState) error {
	toUpdate := g.Nodes.Keys()
	scheduled := make(map[NodeKey]struct{}, len(toUpdate))
	for _, k := range toUpdate {
		scheduled[k] = struct{}{}
	}

	var recv, send []PortState
	for len(toUpdate) > 0 {
		key := toUpdate[len(toUpdate)-1]
		toUpdate = toUpdate[:len(toUpdate)-1]
		delete(scheduled, key)
		node := g.Nodes.MustGet(key)

		recv, send = recv[:0], send[:0]
		for _, in := range node.Inputs {
			recv = append(recv, g.Pipes.MustGet(in).SendState)
		}
		for _, out := range node.Outputs {
			send = append(send, g.Pipes.MustGet(out).RecvState)
		}

		if err := node.Compute.UpdateState(recv, send, state); err != nil {
			return fmt.Errorf("updating %s: %w", node.Compute.Name(), err)
		}

		schedule := func(k NodeKey) {
			if _, ok := scheduled[k]; !ok {
				scheduled[k] = struct{}{}
				toUpdate = append(toUpdate, k)
			}
		}
		for i, in := range node.Inputs {
			p := g.Pipes.MustGet(in)
			if p.RecvState != recv[i] {
				if p.RecvState == Done {
					panic(fmt.Sprintf("graph: %s moved receive state of pipe %s from done to %s", node.Compute.Name(), in, recv[i]))
				}
				p.RecvState = recv[i]
				schedule(p.Sender)
			}
		}
		for i, out := range node.Outputs {
			p := g.Pipes.MustGet(out)
			if p.SendState != send[i] {
				if p.SendState == Done {
					panic(fmt.Sprintf("graph: %s moved send state of pipe %s from done to %s", node.Compute.Name(), out, send[i]))
				}
				p.SendState = send[i]
				schedule(p.Receiver)
			}
		}
	}
	return nil
}

// CheckConnections panics if the pipes and the port lists of the nodes
// disagree.
func (g *Graph) CheckConnections() {
	for pk, p := range g.Pipes.All() {
		receiver, ok := g.Nodes.Get(p.Receiver)
		if !ok || p.RecvPort >= len(receiver.Inputs) || receiver.Inputs[p.RecvPort] != pk {
			panic(fmt.Sprintf("graph: pipe %s is not input %d of node %s", pk, p.RecvPort, p.Receiver))
		}
		sender, ok := g.Nodes.Get(p.Sender)
		if !ok || p.SendPort >= len(sender.Outputs) || sender.Outputs[p.SendPort] != pk {
			panic(fmt.Sprintf("graph: pipe %s is not output %d of node %s", pk, p.SendPort, p.Sender))
		}
	}
	for nk, n := range g.Nodes.All() {
		for port, pk := range n.Outputs {
			if !g.Pipes.Contains(pk) {
				panic(fmt.Sprintf("graph: output %d of node %s (%s) is not connected", port, nk, n.Compute.Name()))
			}
		}
	}
}

// AllPipesFinished reports whether every pipe is done on both sides.
func (g *Graph) AllPipesFinished() bool {
	for _, p := range g.Pipes.All() {
		if !p.Finished() {
			return false
		}
	}
	return true
}
