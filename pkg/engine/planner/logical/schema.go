package logical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// schemaOf derives the output schema of n from the schemas of its inputs.
func schemaOf(n Node, inputs []*arrow.Schema) (*arrow.Schema, error) {
	switch n := n.(type) {
	case *Scan:
		if n.DF == nil {
			return nil, fmt.Errorf("%w: scan without frame", errors.ErrPlan)
		}
		return n.DF.Schema(), nil

	case *FileScan:
		if n.Schema == nil {
			return nil, fmt.Errorf("%w: file scan without schema", errors.ErrPlan)
		}
		return n.Schema, nil

	case *Select:
		fields, err := exprFields(inputs[0], n.Exprs)
		if err != nil {
			return nil, err
		}
		return uniqueSchema(fields)

	case *WithColumns:
		added, err := exprFields(inputs[0], n.Exprs)
		if err != nil {
			return nil, err
		}
		if _, err := uniqueSchema(added); err != nil {
			return nil, err
		}
		fields := append([]arrow.Field(nil), inputs[0].Fields()...)
		for _, f := range added {
			if indices := inputs[0].FieldIndices(f.Name); len(indices) > 0 {
				fields[indices[0]] = f
				continue
			}
			fields = append(fields, f)
		}
		return arrow.NewSchema(fields, nil), nil

	case *Filter:
		dt, err := expr.OutputType(inputs[0], n.Predicate)
		if err != nil {
			return nil, err
		}
		if dt.ID() != arrow.BOOL {
			return nil, fmt.Errorf("%w: predicate %s has type %s", errors.ErrType, n.Predicate, dt)
		}
		return inputs[0], nil

	case *Slice:
		if n.Length < 0 {
			return nil, fmt.Errorf("%w: negative slice length %d", errors.ErrPlan, n.Length)
		}
		return inputs[0], nil

	case *RowIndex:
		if len(inputs[0].FieldIndices(n.Name)) > 0 {
			return nil, fmt.Errorf("%w: duplicate column %q", errors.ErrSchema, n.Name)
		}
		fields := append([]arrow.Field{{Name: n.Name, Type: datatype.ArrowType.Integer}}, inputs[0].Fields()...)
		return arrow.NewSchema(fields, nil), nil

	case *MapFunction:
		if n.Func == nil {
			return nil, fmt.Errorf("%w: map %s without function", errors.ErrPlan, n.Name)
		}
		if n.Schema != nil {
			return n.Schema, nil
		}
		return inputs[0], nil

	case *Sort:
		if len(n.By) == 0 {
			return nil, fmt.Errorf("%w: sort without keys", errors.ErrPlan)
		}
		if _, err := exprFields(inputs[0], n.By); err != nil {
			return nil, err
		}
		return inputs[0], nil

	case *GroupBy:
		fields, err := exprFields(inputs[0], n.Keys)
		if err != nil {
			return nil, err
		}
		for _, a := range n.Aggs {
			inner := a
			if alias, ok := inner.(*expr.Alias); ok {
				inner = alias.Expr
			}
			if _, ok := inner.(*expr.Agg); !ok {
				return nil, fmt.Errorf("%w: %s is not an aggregation", errors.ErrNotImplemented, a)
			}
		}
		aggs, err := exprFields(inputs[0], n.Aggs)
		if err != nil {
			return nil, err
		}
		return uniqueSchema(append(fields, aggs...))

	case *Union:
		if len(inputs) == 0 {
			return nil, fmt.Errorf("%w: union without inputs", errors.ErrPlan)
		}
		for _, s := range inputs[1:] {
			if !datatype.SchemaEqual(inputs[0], s) {
				return nil, fmt.Errorf("%w: cannot union %s with %s", errors.ErrSchema, inputs[0], s)
			}
		}
		return inputs[0], nil

	case *HConcat:
		if len(inputs) == 0 {
			return nil, fmt.Errorf("%w: hconcat without inputs", errors.ErrPlan)
		}
		var fields []arrow.Field
		for _, s := range inputs {
			fields = append(fields, s.Fields()...)
		}
		return uniqueSchema(fields)

	case *Join:
		return dataframe.JoinSchema(inputs[0], inputs[1], n.Options)

	case *Sink:
		if n.Kind == SinkFile && n.Path == "" {
			return nil, fmt.Errorf("%w: file sink without path", errors.ErrPlan)
		}
		return inputs[0], nil

	case *SinkMultiple:
		return arrow.NewSchema(nil, nil), nil

	default:
		return nil, fmt.Errorf("%w: logical node %T", errors.ErrNotImplemented, n)
	}
}

func exprFields(schema *arrow.Schema, exprs []expr.Expr) ([]arrow.Field, error) {
	fields := make([]arrow.Field, len(exprs))
	for i, e := range exprs {
		f, err := expr.OutputField(schema, e)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return fields, nil
}

func uniqueSchema(fields []arrow.Field) (*arrow.Schema, error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate column %q", errors.ErrSchema, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return arrow.NewSchema(fields, nil), nil
}
