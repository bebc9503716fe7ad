package dag

import "errors"

// WalkOrder defined the order in which current vertex and its children are
// visited.
type WalkOrder uint8

const (
	// PreOrderWalk processes the current vertex before visiting any of its
	// children.
	PreOrderWalk WalkOrder = iota

	// PostOrderWalk processes the current vertex after visiting all of its
	// children.
	PostOrderWalk
)

// ChildrenFunc returns the vertices reachable from n over a single edge. For
// plan graphs those are the inputs of n.
type ChildrenFunc[N comparable] func(n N) []N

// WalkFunc is a function that gets invoked when walking a graph. Walking will
// stop if WalkFunc returns a non-nil error.
type WalkFunc[N comparable] func(n N) error

// Walk performs a depth-first walk over the vertices reachable from roots,
// invoking f exactly once for each of them. Vertices shared between several
// roots or reachable over several paths are visited once. Walk returns the
// error returned by f.
func Walk[N comparable](roots []N, children ChildrenFunc[N], f WalkFunc[N], order WalkOrder) error {
	w := walker[N]{children: children, f: f, visited: make(map[N]struct{})}
	for _, root := range roots {
		var err error
		switch order {
		case PreOrderWalk:
			err = w.preOrder(root)
		case PostOrderWalk:
			err = w.postOrder(root)
		default:
			return errors.New("unsupported walk order. must be one of PreOrderWalk and PostOrderWalk")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type walker[N comparable] struct {
	children ChildrenFunc[N]
	f        WalkFunc[N]
	visited  map[N]struct{}
}

func (w *walker[N]) visit(n N) bool {
	if _, ok := w.visited[n]; ok {
		return false
	}
	w.visited[n] = struct{}{}
	return true
}

func (w *walker[N]) preOrder(n N) error {
	if !w.visit(n) {
		return nil
	}
	if err := w.f(n); err != nil {
		return err
	}
	for _, child := range w.children(n) {
		if err := w.preOrder(child); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker[N]) postOrder(n N) error {
	if !w.visit(n) {
		return nil
	}
	for _, child := range w.children(n) {
		if err := w.postOrder(child); err != nil {
			return err
		}
	}
	return w.f(n)
}
