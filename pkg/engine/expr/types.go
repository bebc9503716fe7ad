package expr

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// OutputField derives the field e produces when evaluated against a frame with
// the given schema.
func OutputField(schema *arrow.Schema, e Expr) (arrow.Field, error) {
	dt, err := OutputType(schema, e)
	if err != nil {
		return arrow.Field{}, err
	}
	return arrow.Field{Name: OutputName(e), Type: dt, Nullable: true}, nil
}

// OutputType derives the type e produces when evaluated against a frame with
// the given schema.
func OutputType(schema *arrow.Schema, e Expr) (arrow.DataType, error) {
	switch e := e.(type) {
	case *Column:
		idx, err := datatype.FieldIndex(schema, e.Name)
		if err != nil {
			return nil, err
		}
		return schema.Field(idx).Type, nil

	case *Literal:
		return literalType(e.Value)

	case *Alias:
		return OutputType(schema, e.Expr)

	case *Unary:
		inner, err := OutputType(schema, e.Value)
		if err != nil {
			return nil, err
		}
		return unaryResultType(e.Op, inner)

	case *Binary:
		lt, err := OutputType(schema, e.Left)
		if err != nil {
			return nil, err
		}
		rt, err := OutputType(schema, e.Right)
		if err != nil {
			return nil, err
		}
		return binaryResultType(e.Op, lt, rt)

	case *Agg:
		if e.Kind == AggKindLen {
			return datatype.ArrowType.Integer, nil
		}
		inner, err := OutputType(schema, e.Input)
		if err != nil {
			return nil, err
		}
		return aggResultType(e.Kind, inner)

	default:
		return nil, fmt.Errorf("%w: expression %T", errors.ErrNotImplemented, e)
	}
}

func literalType(v any) (arrow.DataType, error) {
	switch v.(type) {
	case nil:
		return datatype.ArrowType.Null, nil
	case bool:
		return datatype.ArrowType.Bool, nil
	case int64:
		return datatype.ArrowType.Integer, nil
	case float64:
		return datatype.ArrowType.Float, nil
	case string:
		return datatype.ArrowType.String, nil
	case time.Time:
		return datatype.ArrowType.Timestamp, nil
	default:
		return nil, fmt.Errorf("%w: unsupported literal %T", errors.ErrType, v)
	}
}

func isNumeric(id arrow.Type) bool { return id == arrow.INT64 || id == arrow.FLOAT64 }

func unaryResultType(op UnaryOpKind, in arrow.DataType) (arrow.DataType, error) {
	switch op {
	case UnaryOpKindNot:
		if in.ID() == arrow.BOOL || in.ID() == arrow.NULL {
			return datatype.ArrowType.Bool, nil
		}
	case UnaryOpKindNeg:
		if isNumeric(in.ID()) || in.ID() == arrow.NULL {
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot apply %s to %s", errors.ErrType, op, in)
}

func binaryResultType(op BinOpKind, lt, rt arrow.DataType) (arrow.DataType, error) {
	l, r := lt.ID(), rt.ID()
	switch {
	case op.isComparison():
		if l == arrow.NULL || r == arrow.NULL {
			return datatype.ArrowType.Bool, nil
		}
		switch {
		case isNumeric(l) && isNumeric(r),
			l == r && (l == arrow.STRING || l == arrow.TIMESTAMP),
			l == arrow.BOOL && r == arrow.BOOL && (op == BinOpKindEq || op == BinOpKindNeq):
			return datatype.ArrowType.Bool, nil
		}

	case op.isLogical():
		if (l == arrow.BOOL || l == arrow.NULL) && (r == arrow.BOOL || r == arrow.NULL) {
			return datatype.ArrowType.Bool, nil
		}

	case op.isArithmetic():
		if l == arrow.NULL || r == arrow.NULL {
			return datatype.ArrowType.Null, nil
		}
		if isNumeric(l) && isNumeric(r) {
			if l == arrow.INT64 && r == arrow.INT64 && op != BinOpKindDiv {
				return datatype.ArrowType.Integer, nil
			}
			return datatype.ArrowType.Float, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot apply %s to %s and %s", errors.ErrType, op, lt, rt)
}

func aggResultType(kind AggKind, in arrow.DataType) (arrow.DataType, error) {
	switch kind {
	case AggKindCount, AggKindLen:
		return datatype.ArrowType.Integer, nil
	case AggKindMean:
		if isNumeric(in.ID()) {
			return datatype.ArrowType.Float, nil
		}
	case AggKindSum:
		if isNumeric(in.ID()) {
			return in, nil
		}
	case AggKindMin, AggKindMax, AggKindFirst, AggKindLast:
		switch in.ID() {
		case arrow.INT64, arrow.FLOAT64, arrow.STRING, arrow.TIMESTAMP, arrow.BOOL:
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot apply %s to %s", errors.ErrType, kind, in)
}
