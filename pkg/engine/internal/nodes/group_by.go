package nodes

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/dolthub/swiss"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
)

// GroupByNode aggregates its input per distinct key. Groups are emitted in
// order of their first row.
type GroupByNode struct {
	blockerNode
	schema    *arrow.Schema
	keys      []expr.Expr
	keyFields []arrow.Field
	agg       *aggregator
}

var _ graph.ComputeNode = (*GroupByNode)(nil)

// NewGroupBy returns a node grouping input frames with the given schema by
// keys and evaluating aggs per group.
func NewGroupBy(schema *arrow.Schema, keys, aggs []expr.Expr) (*GroupByNode, error) {
	keyFields := make([]arrow.Field, len(keys))
	for i, k := range keys {
		field, err := expr.OutputField(schema, k)
		if err != nil {
			return nil, err
		}
		if err := dataframe.CheckKeyType(field.Type); err != nil {
			return nil, err
		}
		keyFields[i] = field
	}
	planned, err := planAggregations(schema, aggs)
	if err != nil {
		return nil, err
	}

	n := &GroupByNode{schema: schema, keys: keys, keyFields: keyFields, agg: &aggregator{aggs: planned}}
	n.blockerNode = newBlockerNode("group-by", true, []*arrow.Schema{schema}, n.groupBy)
	return n, nil
}

func (n *GroupByNode) groupBy(ctx context.Context, state *execstate.StreamingExecutionState, frames []arrow.Record) (arrow.Record, error) {
	df := frames[0]
	eval := state.InMemory.Evaluator

	keys := make([]arrow.Array, 0, len(n.keys))
	defer func() { releaseArrays(keys) }()
	for _, k := range n.keys {
		arr, err := eval.EvaluateArray(k, df)
		if err != nil {
			return nil, err
		}
		keys = append(keys, arr)
	}
	inputs, err := n.agg.inputs(eval, df)
	if err != nil {
		return nil, err
	}
	defer releaseArrays(inputs)

	var (
		hasher  = newRowHasher()
		buckets = swiss.NewMap[uint64, []int32](64)
		firsts  []int64 // first row of every group
		groups  [][]accumulator
	)
	for row := 0; row < int(df.NumRows()); row++ {
		h := hasher.hash(keys, row)
		candidates, _ := buckets.Get(h)

		group := -1
		for _, g := range candidates {
			if keysEqual(keys, int(firsts[g]), keys, row) {
				group = int(g)
				break
			}
		}
		if group < 0 {
			group = len(groups)
			firsts = append(firsts, int64(row))
			groups = append(groups, n.agg.newGroup())
			buckets.Put(h, append(candidates, int32(group)))
		}

		pos := position{row: int64(row)}
		for i := range groups[group] {
			groups[group][i].update(inputs[i], row, pos)
		}
	}

	keyFrame := array.NewRecord(arrow.NewSchema(n.keyFields, nil), keys, df.NumRows())
	defer keyFrame.Release()
	keyCols, err := dataframe.Take(ctx, state.InMemory.Allocator, keyFrame, firsts, nil)
	if err != nil {
		return nil, err
	}
	defer keyCols.Release()

	aggCols := n.agg.build(state.InMemory.Allocator, groups)
	defer releaseArrays(aggCols)
	aggFrame := array.NewRecord(arrow.NewSchema(n.agg.fields(), nil), aggCols, int64(len(groups)))
	defer aggFrame.Release()

	return dataframe.HStack(keyCols, aggFrame)
}
