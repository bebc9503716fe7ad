package physical

import (
	"strings"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/planner/tree"
)

// VisualizePlan renders the plan rooted at root as a tree. Nodes reached over
// several paths are expanded on first occurrence only.
func VisualizePlan(root NodeKey, p *Plan) string {
	var sb strings.Builder
	tree.NewPrinter(&sb).Print(buildTree(Stream{Node: root, Port: -1}, p, make(map[NodeKey]struct{})))
	return sb.String()
}

func buildTree(s Stream, p *Plan, seen map[NodeKey]struct{}) *tree.Node {
	n := p.MustGet(s.Node)
	t := tree.NewNode(n.Kind.Name(), s.Node.String(), properties(n.Kind)...)
	if memoryIntensive(n.Kind) {
		t.Mark(tree.Blocker)
	}
	if _, ok := n.Kind.(*Multiplexer); ok && s.Port >= 0 {
		t.ReadPort(s.Port)
	}
	if _, ok := seen[s.Node]; ok {
		return t.Mark(tree.Repeated)
	}
	seen[s.Node] = struct{}{}

	for _, e := range exprsOf(n.Kind) {
		t.AddComment("Expr", "", []tree.Property{tree.NewProperty("expr", false, e.String())})
	}
	if sm, ok := n.Kind.(*SinkMultiple); ok {
		for _, sink := range sm.Sinks {
			t.Children = append(t.Children, buildTree(Stream{Node: sink, Port: -1}, p, seen))
		}
		return t
	}
	for _, in := range n.Kind.inputs() {
		t.Children = append(t.Children, buildTree(*in, p, seen))
	}
	return t
}

// memoryIntensive reports whether k lowers to a node that keeps its whole
// input in memory.
func memoryIntensive(k Kind) bool {
	switch k.(type) {
	case *Sort, *GroupBy, *InMemoryMap, *InMemoryJoin:
		return true
	}
	return false
}

func properties(k Kind) []tree.Property {
	switch k := k.(type) {
	case *InMemorySource:
		return []tree.Property{tree.NewProperty("rows", false, k.DF.NumRows())}
	case *FileScan:
		return []tree.Property{tree.NewProperty("path", false, k.Path), tree.NewProperty("format", false, k.Format)}
	case *Select:
		return []tree.Property{tree.NewProperty("extend", false, k.Extend)}
	case *WithRowIndex:
		return []tree.Property{tree.NewProperty("column", false, k.Column), tree.NewProperty("offset", false, k.Offset)}
	case *Filter:
		return []tree.Property{tree.NewProperty("predicate", false, k.Predicate)}
	case *SimpleProjection:
		return []tree.Property{tree.NewProperty("columns", true, toAny(k.Columns)...)}
	case *StreamingSlice:
		return []tree.Property{tree.NewProperty("offset", false, k.Offset), tree.NewProperty("length", false, k.Length)}
	case *FileSink:
		return []tree.Property{tree.NewProperty("path", false, k.Path), tree.NewProperty("format", false, k.Format)}
	case *InMemoryMap:
		return []tree.Property{tree.NewProperty("name", false, k.Label)}
	case *Map:
		return []tree.Property{tree.NewProperty("name", false, k.Label)}
	case *Sort:
		return []tree.Property{tree.NewProperty("by", true, exprsAny(k.By)...)}
	case *GroupBy:
		return []tree.Property{tree.NewProperty("keys", true, exprsAny(k.Keys)...)}
	case *Zip:
		return []tree.Property{tree.NewProperty("null_extend", false, k.NullExtend)}
	case *InMemoryJoin:
		props := []tree.Property{tree.NewProperty("type", false, k.Options.Type)}
		if len(k.Options.LeftOn) > 0 {
			props = append(props,
				tree.NewProperty("left_on", true, toAny(k.Options.LeftOn)...),
				tree.NewProperty("right_on", true, toAny(k.Options.RightOn)...),
			)
		}
		return props
	default:
		return nil
	}
}

// exprsOf returns the expressions printed below a node.
func exprsOf(k Kind) []expr.Expr {
	switch k := k.(type) {
	case *InputIndependentSelect:
		return k.Selectors
	case *Select:
		return k.Selectors
	case *Reduce:
		return k.Aggs
	case *GroupBy:
		return k.Aggs
	default:
		return nil
	}
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func exprsAny(exprs []expr.Expr) []any {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		out[i] = e
	}
	return out
}
