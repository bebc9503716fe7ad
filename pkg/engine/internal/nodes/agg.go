package nodes

import (
	"cmp"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
)

// aggregation is an aggregate expression split into its parts.
type aggregation struct {
	kind  expr.AggKind
	input expr.Expr // nil for len
	field arrow.Field
}

// planAggregations resolves aggs against schema. Every expression must be
// an aggregation over a non-aggregating input, optionally renamed.
func planAggregations(schema *arrow.Schema, aggs []expr.Expr) ([]aggregation, error) {
	out := make([]aggregation, len(aggs))
	for i, e := range aggs {
		inner := e
		if alias, ok := inner.(*expr.Alias); ok {
			inner = alias.Expr
		}
		agg, ok := inner.(*expr.Agg)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an aggregation", errors.ErrNotImplemented, e)
		}
		if agg.Input != nil && expr.ContainsAgg(agg.Input) {
			return nil, fmt.Errorf("%w: nested aggregation in %s", errors.ErrNotImplemented, e)
		}
		field, err := expr.OutputField(schema, e)
		if err != nil {
			return nil, err
		}
		out[i] = aggregation{kind: agg.Kind, input: agg.Input, field: field}
	}
	return out, nil
}

// position orders rows for first and last.
type position struct {
	seq morsel.Seq
	row int64
}

func (p position) compare(o position) int {
	if c := cmp.Compare(p.seq, o.seq); c != 0 {
		return c
	}
	return cmp.Compare(p.row, o.row)
}

// accumulator is the mergeable state of one aggregation over one group.
type accumulator struct {
	kind expr.AggKind

	rows    int64 // rows seen, nulls included
	nonNull int64
	sumInt  int64
	sumFlt  float64

	set   bool
	value any // nil for null
	pos   position
}

// update adds row i of arr. arr is nil for len.
func (a *accumulator) update(arr arrow.Array, i int, pos position) {
	a.rows++
	if arr == nil {
		return
	}

	v := valueAt(arr, i)
	switch a.kind {
	case expr.AggKindFirst:
		if !a.set || pos.compare(a.pos) < 0 {
			a.set, a.value, a.pos = true, v, pos
		}
		return
	case expr.AggKindLast:
		if !a.set || pos.compare(a.pos) > 0 {
			a.set, a.value, a.pos = true, v, pos
		}
		return
	}

	if v == nil {
		return
	}
	a.nonNull++
	switch a.kind {
	case expr.AggKindSum, expr.AggKindMean:
		switch v := v.(type) {
		case int64:
			a.sumInt += v
			a.sumFlt += float64(v)
		case float64:
			a.sumFlt += v
		}
	case expr.AggKindMin:
		if !a.set || compareValues(v, a.value) < 0 {
			a.set, a.value = true, v
		}
	case expr.AggKindMax:
		if !a.set || compareValues(v, a.value) > 0 {
			a.set, a.value = true, v
		}
	}
}

// merge folds o into a.
func (a *accumulator) merge(o *accumulator) {
	a.rows += o.rows
	a.nonNull += o.nonNull
	a.sumInt += o.sumInt
	a.sumFlt += o.sumFlt
	if !o.set {
		return
	}
	if !a.set {
		a.set, a.value, a.pos = true, o.value, o.pos
		return
	}
	switch a.kind {
	case expr.AggKindFirst:
		if o.pos.compare(a.pos) < 0 {
			a.value, a.pos = o.value, o.pos
		}
	case expr.AggKindLast:
		if o.pos.compare(a.pos) > 0 {
			a.value, a.pos = o.value, o.pos
		}
	case expr.AggKindMin:
		if compareValues(o.value, a.value) < 0 {
			a.value = o.value
		}
	case expr.AggKindMax:
		if compareValues(o.value, a.value) > 0 {
			a.value = o.value
		}
	}
}

// appendTo appends the result of a to b, whose type is the output type of
// the aggregation.
func (a *accumulator) appendTo(b array.Builder) {
	switch a.kind {
	case expr.AggKindLen:
		b.(*array.Int64Builder).Append(a.rows)
	case expr.AggKindCount:
		b.(*array.Int64Builder).Append(a.nonNull)
	case expr.AggKindSum:
		switch b := b.(type) {
		case *array.Int64Builder:
			b.Append(a.sumInt)
		case *array.Float64Builder:
			b.Append(a.sumFlt)
		default:
			b.AppendNull()
		}
	case expr.AggKindMean:
		if a.nonNull == 0 {
			b.AppendNull()
			return
		}
		b.(*array.Float64Builder).Append(a.sumFlt / float64(a.nonNull))
	default:
		appendValue(b, a.value)
	}
}

// aggregator evaluates aggregations over groups of rows.
type aggregator struct {
	aggs []aggregation
}

// inputs evaluates the inputs of every aggregation against df. Entries for
// len are nil.
func (g *aggregator) inputs(eval expr.Evaluator, df arrow.Record) ([]arrow.Array, error) {
	arrs := make([]arrow.Array, len(g.aggs))
	for i, agg := range g.aggs {
		if agg.input == nil {
			continue
		}
		arr, err := eval.EvaluateArray(agg.input, df)
		if err != nil {
			releaseArrays(arrs)
			return nil, err
		}
		arrs[i] = arr
	}
	return arrs, nil
}

func (g *aggregator) newGroup() []accumulator {
	accs := make([]accumulator, len(g.aggs))
	for i, agg := range g.aggs {
		accs[i].kind = agg.kind
	}
	return accs
}

// build turns the accumulators of every group into one column per
// aggregation.
func (g *aggregator) build(mem memory.Allocator, groups [][]accumulator) []arrow.Array {
	cols := make([]arrow.Array, len(g.aggs))
	for i, agg := range g.aggs {
		b := array.NewBuilder(mem, agg.field.Type)
		b.Reserve(len(groups))
		for _, accs := range groups {
			accs[i].appendTo(b)
		}
		cols[i] = b.NewArray()
		b.Release()
	}
	return cols
}

func (g *aggregator) fields() []arrow.Field {
	fields := make([]arrow.Field, len(g.aggs))
	for i, agg := range g.aggs {
		fields[i] = agg.field
	}
	return fields
}

// valueAt returns row i of arr as a Go value, or nil if it is null.
func valueAt(arr arrow.Array, i int) any {
	if datatype.IsNull(arr, i) {
		return nil
	}
	switch arr := arr.(type) {
	case *array.Int64:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Boolean:
		return arr.Value(i)
	case *array.Timestamp:
		return arr.Value(i)
	}
	return nil
}

func compareValues(a, b any) int {
	switch a := a.(type) {
	case int64:
		return cmp.Compare(a, b.(int64))
	case float64:
		return cmp.Compare(a, b.(float64))
	case string:
		return cmp.Compare(a, b.(string))
	case arrow.Timestamp:
		return cmp.Compare(a, b.(arrow.Timestamp))
	case bool:
		switch bv := b.(bool); {
		case a == bv:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	}
	panic(fmt.Sprintf("compareValues: unsupported type %T", a))
}

func appendValue(b array.Builder, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.Int64Builder:
		b.Append(v.(int64))
	case *array.Float64Builder:
		b.Append(v.(float64))
	case *array.StringBuilder:
		b.Append(v.(string))
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.TimestampBuilder:
		b.Append(v.(arrow.Timestamp))
	default:
		b.AppendNull()
	}
}
