// Package logical provides the input plan of the streaming engine: an arena
// of relational operators referencing their inputs by key. Plans are built by
// callers and lowered once into a physical plan.
package logical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arena"
)

// NodeKey identifies a node of a [Plan]. The same key may be used as the
// input of several nodes; such shared subplans are executed once.
type NodeKey arena.Key

func (k NodeKey) String() string { return arena.Key(k).String() }

// Node is a logical operator.
type Node interface {
	// Inputs returns the keys of the nodes the operator consumes, in port
	// order.
	Inputs() []NodeKey

	// String returns a one-line description of the node.
	String() string

	isNode()
}

// Join and file format types shared with the runtime.
type (
	JoinType    = dataframe.JoinType
	JoinOptions = dataframe.JoinOptions
	FileFormat  = dataframe.FileFormat
)

const (
	JoinTypeInner = dataframe.JoinTypeInner
	JoinTypeLeft  = dataframe.JoinTypeLeft
	JoinTypeCross = dataframe.JoinTypeCross

	FileFormatCSV = dataframe.FileFormatCSV
	FileFormatIPC = dataframe.FileFormatIPC
)

// FileFormatFromPath infers the format of path from its extension, looking
// past a compression extension such as .gz.
func FileFormatFromPath(path string) (FileFormat, error) {
	return dataframe.FileFormatFromPath(path)
}

// Plan is an arena of logical nodes. Nodes must not be modified after they
// have been added.
type Plan struct {
	nodes   *arena.Arena[NodeKey, Node]
	schemas map[NodeKey]*arrow.Schema
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{
		nodes:   arena.New[NodeKey, Node](),
		schemas: make(map[NodeKey]*arrow.Schema),
	}
}

// Add inserts n into the plan. Inputs of n must already be part of the plan.
func (p *Plan) Add(n Node) (NodeKey, error) {
	for _, in := range n.Inputs() {
		if !p.nodes.Contains(in) {
			return 0, fmt.Errorf("%w: %s references unknown node %s", errors.ErrPlan, n, in)
		}
	}
	key := p.nodes.Insert(n)
	if _, err := p.Schema(key); err != nil {
		p.nodes.Remove(key)
		return 0, err
	}
	return key, nil
}

// MustAdd is like Add but panics on error. It is meant for tests and plans
// built from constants.
func (p *Plan) MustAdd(n Node) NodeKey {
	key, err := p.Add(n)
	if err != nil {
		panic(err)
	}
	return key
}

// Get returns the node stored under key.
func (p *Plan) Get(key NodeKey) (Node, bool) {
	n, ok := p.nodes.Get(key)
	if !ok {
		return nil, false
	}
	return *n, true
}

// Len returns the number of nodes of the plan.
func (p *Plan) Len() int { return p.nodes.Len() }

// Schema returns the schema of the frames produced by the node stored under
// key.
func (p *Plan) Schema(key NodeKey) (*arrow.Schema, error) {
	if s, ok := p.schemas[key]; ok {
		return s, nil
	}
	n, ok := p.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %s", errors.ErrPlan, key)
	}

	inputs := make([]*arrow.Schema, 0, len(n.Inputs()))
	for _, in := range n.Inputs() {
		s, err := p.Schema(in)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, s)
	}

	s, err := schemaOf(n, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n, err)
	}
	p.schemas[key] = s
	return s, nil
}
