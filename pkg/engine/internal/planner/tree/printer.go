package tree

import (
	"fmt"
	"io"
	"strings"
)

const (
	symPrefix = "│   "
	symIndent = "    "
	symConn   = "├── "
	symLast   = "└── "
)

// Printer writes [Node]s as indented trees:
//
//	Sort [blocker] by=(a)
//	└── Filter predicate=GT(a, 1)
//	    └── Multiplexer port=1 ...
//
// Blockers are flagged, ports are printed for nodes read on a given port
// and repeated nodes end in "...".
type Printer struct {
	w io.Writer
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes the tree rooted at root.
func (p *Printer) Print(root *Node) {
	p.printNode(root)
	p.printChildren(root, "")
}

func (p *Printer) printNode(n *Node) {
	var sb strings.Builder
	sb.WriteString(n.Name)
	if n.ID != "" {
		fmt.Fprintf(&sb, " <%s>", n.ID)
	}
	if n.Port >= 0 {
		fmt.Fprintf(&sb, " port=%d", n.Port)
	}
	if n.Markers.Has(Blocker) {
		sb.WriteString(" [blocker]")
	}
	for _, prop := range n.Properties {
		sb.WriteString(" ")
		sb.WriteString(prop.String())
	}
	if n.Markers.Has(Repeated) {
		sb.WriteString(" ...")
	}
	fmt.Fprintln(p.w, sb.String())
}

func (p *Printer) printChildren(n *Node, prefix string) {
	for i, comment := range n.Comments {
		conn := symConn
		if i == len(n.Comments)-1 {
			conn = symLast
		}
		fmt.Fprint(p.w, prefix+symPrefix+conn)
		p.printNode(comment)
	}
	for i, child := range n.Children {
		conn, next := symConn, symPrefix
		if i == len(n.Children)-1 {
			conn, next = symLast, symIndent
		}
		fmt.Fprint(p.w, prefix+conn)
		p.printNode(child)
		p.printChildren(child, prefix+next)
	}
}

// String returns the property as key=value or key=(v1, v2, ...).
func (p Property) String() string {
	if !p.Multi {
		if len(p.Values) == 0 {
			return p.Key + "="
		}
		return fmt.Sprintf("%s=%v", p.Key, p.Values[0])
	}
	vals := make([]string, len(p.Values))
	for i, v := range p.Values {
		vals[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s=(%s)", p.Key, strings.Join(vals, ", "))
}
