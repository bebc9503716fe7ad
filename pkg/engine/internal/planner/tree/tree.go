// Package tree builds the text trees used to explain plans.
package tree

// Property is a key=value annotation of a [Node]. Multi-valued properties
// print as key=(v1, v2).
type Property struct {
	Key    string
	Values []any
	Multi  bool
}

func NewProperty(key string, multi bool, values ...any) Property {
	return Property{Key: key, Values: values, Multi: multi}
}

// Marker flags a [Node] in the printed tree.
type Marker uint8

const (
	// Blocker marks an operator that holds its whole input before it
	// produces anything.
	Blocker Marker = 1 << iota
	// Repeated marks an operator that is printed in full elsewhere in the
	// tree, so its inputs are left out.
	Repeated
)

func (m Marker) Has(o Marker) bool { return m&o != 0 }

// Node is one operator of a printed plan.
type Node struct {
	// ID is the key of the operator, printed as <ID> when set.
	ID   string
	Name string

	Properties []Property
	Markers    Marker

	// Port is the output port of this node that its parent reads. It is
	// only printed for nodes with several outputs; negative means unset.
	Port int

	Children []*Node
	// Comments are printed one level deeper than Children, above them. They
	// hold tree-shaped properties such as expressions.
	Comments []*Node
}

func NewNode(name, id string, properties ...Property) *Node {
	return &Node{ID: id, Name: name, Properties: properties, Port: -1}
}

// AddChild adds a new input to n and returns it.
func (n *Node) AddChild(name, id string, properties []Property) *Node {
	child := NewNode(name, id, properties...)
	n.Children = append(n.Children, child)
	return child
}

func (n *Node) AddComment(name, id string, properties []Property) *Node {
	node := NewNode(name, id, properties...)
	n.Comments = append(n.Comments, node)
	return node
}

// Mark sets m on n and returns n.
func (n *Node) Mark(m Marker) *Node {
	n.Markers |= m
	return n
}

// ReadPort records that the parent of n reads output port of n.
func (n *Node) ReadPort(port int) *Node {
	n.Port = port
	return n
}
