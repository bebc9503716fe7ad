package nodes

import (
	"context"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
)

// SortOptions controls the order produced by a SortNode.
type SortOptions struct {
	// Descending and NullsLast are per key. Missing entries default to
	// false.
	Descending []bool
	NullsLast  []bool

	// Offset and Length restrict the sorted output. A negative Length keeps
	// every row after Offset.
	Offset int64
	Length int64
}

func (o SortOptions) descending(i int) bool { return i < len(o.Descending) && o.Descending[i] }
func (o SortOptions) nullsLast(i int) bool  { return i < len(o.NullsLast) && o.NullsLast[i] }

// SortNode sorts its whole input by a list of key expressions. The sort is
// stable.
type SortNode struct {
	blockerNode
	schema *arrow.Schema
	by     []expr.Expr
	opts   SortOptions
}

var _ graph.ComputeNode = (*SortNode)(nil)

func NewSort(schema *arrow.Schema, by []expr.Expr, opts SortOptions) *SortNode {
	n := &SortNode{schema: schema, by: by, opts: opts}
	n.blockerNode = newBlockerNode("sort", true, []*arrow.Schema{schema}, n.sort)
	return n
}

func (n *SortNode) sort(ctx context.Context, state *execstate.StreamingExecutionState, frames []arrow.Record) (arrow.Record, error) {
	df := frames[0]

	keys := make([]arrow.Array, 0, len(n.by))
	defer func() { releaseArrays(keys) }()
	for _, by := range n.by {
		k, err := state.InMemory.Evaluator.EvaluateArray(by, df)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		if err := dataframe.CheckKeyType(k.DataType()); err != nil {
			return nil, err
		}
	}

	indices := make([]int64, df.NumRows())
	for i := range indices {
		indices[i] = int64(i)
	}
	slices.SortStableFunc(indices, func(a, b int64) int {
		for k, key := range keys {
			if c := n.compareKey(k, key, int(a), int(b)); c != 0 {
				return c
			}
		}
		return 0
	})

	start := min(max(n.opts.Offset, 0), int64(len(indices)))
	end := int64(len(indices))
	if n.opts.Length >= 0 {
		end = min(start+n.opts.Length, end)
	}
	return dataframe.Take(ctx, state.InMemory.Allocator, df, indices[start:end], nil)
}

func (n *SortNode) compareKey(k int, key arrow.Array, i, j int) int {
	in, jn := datatype.IsNull(key, i), datatype.IsNull(key, j)
	if in || jn {
		if in == jn {
			return 0
		}
		// Null placement does not flip with the direction.
		if in == n.opts.nullsLast(k) {
			return 1
		}
		return -1
	}
	c := compareAt(key, i, key, j)
	if n.opts.descending(k) {
		return -c
	}
	return c
}
