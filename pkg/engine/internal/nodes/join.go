package nodes

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dolthub/swiss"

	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
)

// InMemoryJoinNode joins two fully materialised inputs. Output rows follow
// the order of the left input, matches in the order of the right input.
type InMemoryJoinNode struct {
	blockerNode
	schema *arrow.Schema
	opts   dataframe.JoinOptions
}

var _ graph.ComputeNode = (*InMemoryJoinNode)(nil)

func NewInMemoryJoin(left, right *arrow.Schema, opts dataframe.JoinOptions) (*InMemoryJoinNode, error) {
	schema, err := dataframe.JoinSchema(left, right, opts)
	if err != nil {
		return nil, err
	}
	n := &InMemoryJoinNode{schema: schema, opts: opts}
	n.blockerNode = newBlockerNode("in-memory-join", true, []*arrow.Schema{left, right}, n.join)
	return n, nil
}

func (n *InMemoryJoinNode) join(ctx context.Context, state *execstate.StreamingExecutionState, frames []arrow.Record) (arrow.Record, error) {
	left, right := frames[0], frames[1]

	var (
		leftIdx    []int64
		rightIdx   []int64
		rightValid []bool
	)
	if n.opts.Type == dataframe.JoinTypeCross {
		for l := int64(0); l < left.NumRows(); l++ {
			for r := int64(0); r < right.NumRows(); r++ {
				leftIdx = append(leftIdx, l)
				rightIdx = append(rightIdx, r)
				rightValid = append(rightValid, true)
			}
		}
	} else {
		lkeys, err := keyColumns(left, n.opts.LeftOn)
		if err != nil {
			return nil, err
		}
		rkeys, err := keyColumns(right, n.opts.RightOn)
		if err != nil {
			return nil, err
		}

		hasher := newRowHasher()
		table := swiss.NewMap[uint64, []int32](uint32(max(right.NumRows(), 1)))
		for r := 0; r < int(right.NumRows()); r++ {
			// Null keys never match.
			if hasNull(rkeys, r) {
				continue
			}
			h := hasher.hash(rkeys, r)
			rows, _ := table.Get(h)
			table.Put(h, append(rows, int32(r)))
		}

		for l := 0; l < int(left.NumRows()); l++ {
			matched := false
			if !hasNull(lkeys, l) {
				rows, _ := table.Get(hasher.hash(lkeys, l))
				for _, r := range rows {
					if !keysEqual(lkeys, l, rkeys, int(r)) {
						continue
					}
					matched = true
					leftIdx = append(leftIdx, int64(l))
					rightIdx = append(rightIdx, int64(r))
					rightValid = append(rightValid, true)
				}
			}
			if !matched && n.opts.Type == dataframe.JoinTypeLeft {
				leftIdx = append(leftIdx, int64(l))
				rightIdx = append(rightIdx, 0)
				rightValid = append(rightValid, false)
			}
		}
	}

	mem := state.InMemory.Allocator
	leftOut, err := dataframe.Take(ctx, mem, left, leftIdx, nil)
	if err != nil {
		return nil, err
	}
	defer leftOut.Release()

	// Only the kept right columns are gathered, under their output names.
	keep := n.opts.RightColumns(right.Schema())
	cols := make([]arrow.Array, len(keep))
	for i, c := range keep {
		cols[i] = right.Column(c)
	}
	rightFields := n.schema.Fields()[left.NumCols():]
	rightIn := array.NewRecord(arrow.NewSchema(rightFields, nil), cols, right.NumRows())
	defer rightIn.Release()

	var rightOut arrow.Record
	if right.NumRows() == 0 {
		rightOut = nullFrame(mem, rightIn.Schema(), len(leftIdx))
	} else if rightOut, err = dataframe.Take(ctx, mem, rightIn, rightIdx, rightValid); err != nil {
		return nil, err
	}
	defer rightOut.Release()

	return dataframe.HStack(leftOut, rightOut)
}

// nullFrame returns a frame of n all-null rows.
func nullFrame(mem memory.Allocator, schema *arrow.Schema, n int) arrow.Record {
	cols := make([]arrow.Array, schema.NumFields())
	defer func() { releaseArrays(cols) }()
	for i, f := range schema.Fields() {
		cols[i] = dataframe.NullColumn(mem, f.Type, n)
	}
	return array.NewRecord(schema, cols, int64(n))
}

func keyColumns(df arrow.Record, names []string) ([]arrow.Array, error) {
	out := make([]arrow.Array, len(names))
	for i, name := range names {
		idx, err := datatype.FieldIndex(df.Schema(), name)
		if err != nil {
			return nil, err
		}
		out[i] = df.Column(idx)
	}
	return out, nil
}
