package expr

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// Evaluator evaluates expressions against frames. Implementations must be
// safe for concurrent use, as every lane of an operator shares one.
type Evaluator interface {
	// Evaluate evaluates exprs against df, whose schema is schema, and
	// returns a frame with one column per expression. The caller owns the
	// returned record.
	Evaluate(schema *arrow.Schema, exprs []Expr, df arrow.Record) (arrow.Record, error)

	// EvaluateArray evaluates a single expression. The caller owns the
	// returned array.
	EvaluateArray(e Expr, df arrow.Record) (arrow.Array, error)
}

// DefaultEvaluator is a row-at-a-time evaluator built on arrow builders.
type DefaultEvaluator struct {
	mem memory.Allocator
}

var _ Evaluator = (*DefaultEvaluator)(nil)

// NewEvaluator returns an evaluator allocating from mem. A nil mem uses the
// default Go allocator.
func NewEvaluator(mem memory.Allocator) *DefaultEvaluator {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &DefaultEvaluator{mem: mem}
}

func (e *DefaultEvaluator) Evaluate(schema *arrow.Schema, exprs []Expr, df arrow.Record) (arrow.Record, error) {
	fields := make([]arrow.Field, 0, len(exprs))
	cols := make([]arrow.Array, 0, len(exprs))
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	for _, ex := range exprs {
		field, err := OutputField(schema, ex)
		if err != nil {
			return nil, err
		}
		col, err := e.EvaluateArray(ex, df)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		cols = append(cols, col)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, df.NumRows()), nil
}

func (e *DefaultEvaluator) EvaluateArray(ex Expr, df arrow.Record) (arrow.Array, error) {
	n := int(df.NumRows())

	switch ex := ex.(type) {
	case *Column:
		idx, err := datatype.FieldIndex(df.Schema(), ex.Name)
		if err != nil {
			return nil, err
		}
		col := df.Column(idx)
		col.Retain()
		return col, nil

	case *Literal:
		return e.literal(ex.Value, n)

	case *Alias:
		return e.EvaluateArray(ex.Expr, df)

	case *Unary:
		in, err := e.EvaluateArray(ex.Value, df)
		if err != nil {
			return nil, err
		}
		defer in.Release()
		return e.unary(ex.Op, in)

	case *Binary:
		left, err := e.EvaluateArray(ex.Left, df)
		if err != nil {
			return nil, err
		}
		defer left.Release()
		right, err := e.EvaluateArray(ex.Right, df)
		if err != nil {
			return nil, err
		}
		defer right.Release()
		return e.binary(ex.Op, left, right)

	case *Agg:
		return nil, fmt.Errorf("%w: aggregation %s outside of a reduction", errors.ErrNotImplemented, ex)

	default:
		return nil, fmt.Errorf("%w: expression %T", errors.ErrNotImplemented, ex)
	}
}

func (e *DefaultEvaluator) literal(v any, n int) (arrow.Array, error) {
	switch v := v.(type) {
	case nil:
		return array.NewNull(n), nil
	case bool:
		b := array.NewBooleanBuilder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for range n {
			b.Append(v)
		}
		return b.NewArray(), nil
	case int64:
		b := array.NewInt64Builder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for range n {
			b.Append(v)
		}
		return b.NewArray(), nil
	case float64:
		b := array.NewFloat64Builder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for range n {
			b.Append(v)
		}
		return b.NewArray(), nil
	case string:
		b := array.NewStringBuilder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for range n {
			b.Append(v)
		}
		return b.NewArray(), nil
	case time.Time:
		b := array.NewTimestampBuilder(e.mem, datatype.ArrowType.Timestamp.(*arrow.TimestampType))
		defer b.Release()
		b.Reserve(n)
		for range n {
			b.Append(arrow.Timestamp(v.UnixNano()))
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported literal %T", errors.ErrType, v)
	}
}

func (e *DefaultEvaluator) unary(op UnaryOpKind, in arrow.Array) (arrow.Array, error) {
	if _, err := unaryResultType(op, in.DataType()); err != nil {
		return nil, err
	}
	n := in.Len()
	if in.DataType().ID() == arrow.NULL {
		return e.nulls(op == UnaryOpKindNot, n), nil
	}

	switch in := in.(type) {
	case *array.Boolean:
		b := array.NewBooleanBuilder(e.mem)
		defer b.Release()
		for i := range n {
			if in.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(!in.Value(i))
		}
		return b.NewArray(), nil
	case *array.Int64:
		b := array.NewInt64Builder(e.mem)
		defer b.Release()
		for i := range n {
			if in.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(-in.Value(i))
		}
		return b.NewArray(), nil
	case *array.Float64:
		b := array.NewFloat64Builder(e.mem)
		defer b.Release()
		for i := range n {
			if in.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(-in.Value(i))
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("%w: cannot apply %s to %s", errors.ErrType, op, in.DataType())
	}
}

// nulls returns an all-null array of length n, typed boolean if typed is set.
func (e *DefaultEvaluator) nulls(typed bool, n int) arrow.Array {
	if !typed {
		return array.NewNull(n)
	}
	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	b.AppendNulls(n)
	return b.NewArray()
}

func (e *DefaultEvaluator) binary(op BinOpKind, left, right arrow.Array) (arrow.Array, error) {
	if left.Len() != right.Len() {
		return nil, fmt.Errorf("%w: operands of %s have %d and %d rows", errors.ErrLength, op, left.Len(), right.Len())
	}
	resultType, err := binaryResultType(op, left.DataType(), right.DataType())
	if err != nil {
		return nil, err
	}
	n := left.Len()
	if left.DataType().ID() == arrow.NULL || right.DataType().ID() == arrow.NULL {
		return e.nulls(resultType.ID() == arrow.BOOL, n), nil
	}

	switch {
	case op.isComparison():
		return e.compare(op, left, right)
	case op.isLogical():
		return e.logical(op, left.(*array.Boolean), right.(*array.Boolean))
	default:
		return e.arith(op, resultType, left, right)
	}
}

func (e *DefaultEvaluator) compare(op BinOpKind, left, right arrow.Array) (arrow.Array, error) {
	cmp, err := comparator(left, right)
	if err != nil {
		return nil, err
	}

	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	for i := range left.Len() {
		if left.IsNull(i) || right.IsNull(i) {
			b.AppendNull()
			continue
		}
		c := cmp(i)
		var v bool
		switch op {
		case BinOpKindEq:
			v = c == 0
		case BinOpKindNeq:
			v = c != 0
		case BinOpKindGt:
			v = c > 0
		case BinOpKindGte:
			v = c >= 0
		case BinOpKindLt:
			v = c < 0
		case BinOpKindLte:
			v = c <= 0
		}
		b.Append(v)
	}
	return b.NewArray(), nil
}

// comparator returns a function comparing row i of left with row i of right.
func comparator(left, right arrow.Array) (func(i int) int, error) {
	switch l := left.(type) {
	case *array.Int64:
		if r, ok := right.(*array.Int64); ok {
			return func(i int) int { return cmpOrdered(l.Value(i), r.Value(i)) }, nil
		}
	case *array.String:
		if r, ok := right.(*array.String); ok {
			return func(i int) int { return strings.Compare(l.Value(i), r.Value(i)) }, nil
		}
	case *array.Timestamp:
		if r, ok := right.(*array.Timestamp); ok {
			return func(i int) int { return cmpOrdered(l.Value(i), r.Value(i)) }, nil
		}
	case *array.Boolean:
		if r, ok := right.(*array.Boolean); ok {
			return func(i int) int { return cmpBool(l.Value(i), r.Value(i)) }, nil
		}
	}
	if isNumeric(left.DataType().ID()) && isNumeric(right.DataType().ID()) {
		return func(i int) int { return cmpOrdered(floatAt(left, i), floatAt(right, i)) }, nil
	}
	return nil, fmt.Errorf("%w: cannot compare %s and %s", errors.ErrType, left.DataType(), right.DataType())
}

func cmpOrdered[T int64 | float64 | arrow.Timestamp](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func floatAt(arr arrow.Array, i int) float64 {
	switch arr := arr.(type) {
	case *array.Int64:
		return float64(arr.Value(i))
	case *array.Float64:
		return arr.Value(i)
	default:
		return math.NaN()
	}
}

func (e *DefaultEvaluator) logical(op BinOpKind, left, right *array.Boolean) (arrow.Array, error) {
	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	for i := range left.Len() {
		if left.IsNull(i) || right.IsNull(i) {
			b.AppendNull()
			continue
		}
		l, r := left.Value(i), right.Value(i)
		switch op {
		case BinOpKindAnd:
			b.Append(l && r)
		case BinOpKindOr:
			b.Append(l || r)
		case BinOpKindXor:
			b.Append(l != r)
		}
	}
	return b.NewArray(), nil
}

func (e *DefaultEvaluator) arith(op BinOpKind, resultType arrow.DataType, left, right arrow.Array) (arrow.Array, error) {
	n := left.Len()

	if resultType.ID() == arrow.INT64 {
		l, r := left.(*array.Int64), right.(*array.Int64)
		b := array.NewInt64Builder(e.mem)
		defer b.Release()
		for i := range n {
			if l.IsNull(i) || r.IsNull(i) {
				b.AppendNull()
				continue
			}
			a, c := l.Value(i), r.Value(i)
			switch op {
			case BinOpKindAdd:
				b.Append(a + c)
			case BinOpKindSub:
				b.Append(a - c)
			case BinOpKindMul:
				b.Append(a * c)
			case BinOpKindMod:
				if c == 0 {
					b.AppendNull()
					continue
				}
				b.Append(a % c)
			}
		}
		return b.NewArray(), nil
	}

	b := array.NewFloat64Builder(e.mem)
	defer b.Release()
	for i := range n {
		if left.IsNull(i) || right.IsNull(i) {
			b.AppendNull()
			continue
		}
		a, c := floatAt(left, i), floatAt(right, i)
		switch op {
		case BinOpKindAdd:
			b.Append(a + c)
		case BinOpKindSub:
			b.Append(a - c)
		case BinOpKindMul:
			b.Append(a * c)
		case BinOpKindDiv:
			b.Append(a / c)
		case BinOpKindMod:
			b.Append(math.Mod(a, c))
		}
	}
	return b.NewArray(), nil
}
