package physical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/nodes"
	"github.com/grafana/morsel/pkg/engine/planner/logical"
)

// LowerContext carries state across the lowering of one logical plan.
type LowerContext struct {
	// streams caches the lowered stream of every logical node so that a
	// logical node shared by several consumers is lowered once.
	streams map[logical.NodeKey]Stream
	// sinks caches lowered sinks, which have no output stream.
	sinks map[logical.NodeKey]NodeKey
}

func NewLowerContext() *LowerContext {
	return &LowerContext{
		streams: make(map[logical.NodeKey]Stream),
		sinks:   make(map[logical.NodeKey]NodeKey),
	}
}

// Sinks returns the physical sink lowered from every logical sink.
func (lc *LowerContext) Sinks() map[logical.NodeKey]NodeKey {
	out := make(map[logical.NodeKey]NodeKey, len(lc.sinks))
	for k, v := range lc.sinks {
		out[k] = v
	}
	return out
}

// BuildPhysicalPlan lowers the logical plan rooted at root into phys and
// returns the key of the physical root. Roots that are not sinks are
// collected into memory. Streams read by more than one consumer are fed
// through multiplexers.
func BuildPhysicalPlan(root logical.NodeKey, ir *logical.Plan, phys *Plan, lc *LowerContext) (NodeKey, error) {
	if lc == nil {
		lc = NewLowerContext()
	}
	l := &lowerer{ir: ir, phys: phys, lc: lc}

	n, ok := ir.Get(root)
	if !ok {
		return 0, fmt.Errorf("%w: unknown root %s", errors.ErrPlan, root)
	}

	var key NodeKey
	switch n.(type) {
	case *logical.Sink, *logical.SinkMultiple:
		k, err := l.lowerSink(root)
		if err != nil {
			return 0, err
		}
		key = k
	default:
		s, err := l.lower(root)
		if err != nil {
			return 0, err
		}
		key = phys.Add(phys.MustGet(s.Node).OutputSchema, &InMemorySink{Input: s})
	}

	insertMultiplexers([]NodeKey{key}, phys)
	if err := phys.Validate([]NodeKey{key}); err != nil {
		return 0, err
	}
	return key, nil
}

type lowerer struct {
	ir   *logical.Plan
	phys *Plan
	lc   *LowerContext
}

func (l *lowerer) lowerSink(key logical.NodeKey) (NodeKey, error) {
	if k, ok := l.lc.sinks[key]; ok {
		return k, nil
	}
	n, _ := l.ir.Get(key)

	var out NodeKey
	switch n := n.(type) {
	case *logical.Sink:
		in, err := l.lower(n.Input)
		if err != nil {
			return 0, err
		}
		schema := l.schema(in)
		switch n.Kind {
		case logical.SinkMemory:
			out = l.phys.Add(schema, &InMemorySink{Input: in})
		case logical.SinkFile:
			out = l.phys.Add(schema, &FileSink{Input: in, Path: n.Path, Format: n.Format})
		default:
			return 0, fmt.Errorf("%w: %s sink", errors.ErrNotImplemented, n.Kind)
		}

	case *logical.SinkMultiple:
		sinks := make([]NodeKey, len(n.Sinks))
		for i, s := range n.Sinks {
			k, err := l.lowerSink(s)
			if err != nil {
				return 0, err
			}
			sinks[i] = k
		}
		out = l.phys.Add(arrow.NewSchema(nil, nil), &SinkMultiple{Sinks: sinks})

	default:
		return 0, fmt.Errorf("%w: %s is not a sink", errors.ErrPlan, n)
	}

	l.lc.sinks[key] = out
	return out, nil
}

func (l *lowerer) schema(s Stream) *arrow.Schema { return l.phys.MustGet(s.Node).OutputSchema }

func (l *lowerer) lower(key logical.NodeKey) (Stream, error) {
	if s, ok := l.lc.streams[key]; ok {
		return s, nil
	}
	n, ok := l.ir.Get(key)
	if !ok {
		return Stream{}, fmt.Errorf("%w: unknown node %s", errors.ErrPlan, key)
	}
	outSchema, err := l.ir.Schema(key)
	if err != nil {
		return Stream{}, err
	}

	inputs := make([]Stream, 0, len(n.Inputs()))
	for _, in := range n.Inputs() {
		s, err := l.lower(in)
		if err != nil {
			return Stream{}, err
		}
		inputs = append(inputs, s)
	}

	kind, err := l.lowerKind(n, inputs)
	if err != nil {
		return Stream{}, fmt.Errorf("lowering %s: %w", n, err)
	}
	s := First(l.phys.Add(outSchema, kind))
	l.lc.streams[key] = s
	return s, nil
}

func (l *lowerer) lowerKind(n logical.Node, inputs []Stream) (Kind, error) {
	switch n := n.(type) {
	case *logical.Scan:
		return &InMemorySource{DF: n.DF}, nil

	case *logical.FileScan:
		return &FileScan{Path: n.Path, Format: n.Format, Schema: n.Schema}, nil

	case *logical.Select:
		if allInputIndependent(n.Exprs) {
			return &InputIndependentSelect{Selectors: n.Exprs}, nil
		}
		if cols, ok := bareColumns(n.Exprs); ok {
			return &SimpleProjection{Input: inputs[0], Columns: cols}, nil
		}
		return &Select{Input: inputs[0], Selectors: n.Exprs}, nil

	case *logical.WithColumns:
		return &Select{Input: inputs[0], Selectors: n.Exprs, Extend: true}, nil

	case *logical.Filter:
		return &Filter{Input: inputs[0], Predicate: n.Predicate}, nil

	case *logical.Slice:
		if n.Offset >= 0 {
			return &StreamingSlice{Input: inputs[0], Offset: n.Offset, Length: n.Length}, nil
		}
		// Counting from the end needs the input length.
		offset, length := n.Offset, n.Length
		return &InMemoryMap{
			Input: inputs[0],
			Label: "slice",
			Func:  func(df arrow.Record) (arrow.Record, error) { return sliceFromEnd(df, offset, length), nil },
		}, nil

	case *logical.RowIndex:
		return &WithRowIndex{Input: inputs[0], Column: n.Name, Offset: n.Offset}, nil

	case *logical.MapFunction:
		if n.Streamable {
			return &Map{Input: inputs[0], Label: n.Name, Func: n.Func}, nil
		}
		return &InMemoryMap{Input: inputs[0], Label: n.Name, Func: n.Func}, nil

	case *logical.Sort:
		return &Sort{
			Input: inputs[0],
			By:    n.By,
			Options: nodes.SortOptions{
				Descending: n.Descending,
				NullsLast:  n.NullsLast,
				Length:     -1,
			},
		}, nil

	case *logical.GroupBy:
		if len(n.Keys) == 0 {
			return &Reduce{Input: inputs[0], Aggs: n.Aggs}, nil
		}
		return &GroupBy{Input: inputs[0], Keys: n.Keys, Aggs: n.Aggs}, nil

	case *logical.Union:
		return &OrderedUnion{Inputs: inputs}, nil

	case *logical.HConcat:
		return &Zip{Inputs: inputs, NullExtend: n.NullExtend}, nil

	case *logical.Join:
		return &InMemoryJoin{Left: inputs[0], Right: inputs[1], Options: n.Options}, nil

	case *logical.Sink, *logical.SinkMultiple:
		return nil, fmt.Errorf("%w: sinks cannot be read from", errors.ErrPlan)

	default:
		return nil, fmt.Errorf("%w: logical node %T", errors.ErrNotImplemented, n)
	}
}

func allInputIndependent(exprs []expr.Expr) bool {
	for _, e := range exprs {
		if !expr.IsInputIndependent(e) {
			return false
		}
	}
	return len(exprs) > 0
}

func bareColumns(exprs []expr.Expr) ([]string, bool) {
	cols := make([]string, len(exprs))
	for i, e := range exprs {
		c, ok := e.(*expr.Column)
		if !ok {
			return nil, false
		}
		cols[i] = c.Name
	}
	return cols, true
}

// sliceFromEnd returns length rows of df starting offset rows before its
// end.
func sliceFromEnd(df arrow.Record, offset, length int64) arrow.Record {
	rows := df.NumRows()
	start := min(max(rows+offset, 0), rows)
	return df.NewSlice(start, start+min(max(length, 0), rows-start))
}
