package expr

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arrowtest"
)

var testFields = []arrow.Field{
	{Name: "name", Type: datatype.ArrowType.String, Nullable: true},
	{Name: "age", Type: datatype.ArrowType.Integer, Nullable: true},
	{Name: "score", Type: datatype.ArrowType.Float, Nullable: true},
	{Name: "active", Type: datatype.ArrowType.Bool, Nullable: true},
}

const testCSV = `
Alice,30,1.5,true
Bob,25,2.5,false
Carol,,4.0,true
`

func TestEvaluateArray(t *testing.T) {
	rec := arrowtest.MustCSV(testFields, testCSV)
	defer rec.Release()
	e := NewEvaluator(nil)

	for _, tt := range []struct {
		name string
		expr Expr
		want []any
	}{
		{"column", Col("name"), []any{"Alice", "Bob", "Carol"}},
		{"literal broadcast", Lit(7), []any{int64(7), int64(7), int64(7)}},
		{"null literal", Lit(nil), []any{nil, nil, nil}},
		{"int comparison", BinOp(Col("age"), BinOpKindGt, Lit(26)), []any{true, false, nil}},
		{"mixed comparison", BinOp(Col("age"), BinOpKindLt, Col("score")), []any{false, false, nil}},
		{"string equality", BinOp(Col("name"), BinOpKindEq, Lit("Bob")), []any{false, true, false}},
		{"int arithmetic", BinOp(Col("age"), BinOpKindAdd, Lit(1)), []any{int64(31), int64(26), nil}},
		{"division is float", BinOp(Col("age"), BinOpKindDiv, Lit(2)), []any{15.0, 12.5, nil}},
		{"float arithmetic", BinOp(Col("score"), BinOpKindMul, Lit(2.0)), []any{3.0, 5.0, 8.0}},
		{"modulo by zero is null", BinOp(Col("age"), BinOpKindMod, Lit(0)), []any{nil, nil, nil}},
		{"logical", BinOp(Col("active"), BinOpKindAnd, BinOp(Col("score"), BinOpKindGt, Lit(2.0))), []any{false, false, true}},
		{"not", Not(Col("active")), []any{false, true, false}},
		{"negate", Neg(Col("score")), []any{-1.5, -2.5, -4.0}},
		{"alias", As(Col("age"), "years"), []any{int64(30), int64(25), nil}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			arr, err := e.EvaluateArray(tt.expr, rec)
			require.NoError(t, err)
			defer arr.Release()

			got := make([]any, arr.Len())
			for i := range got {
				got[i] = arrowtest.Value(arr, i)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate(t *testing.T) {
	rec := arrowtest.MustCSV(testFields, testCSV)
	defer rec.Release()
	e := NewEvaluator(nil)

	t.Run("should name and type output columns", func(t *testing.T) {
		out, err := e.Evaluate(rec.Schema(), []Expr{
			Col("name"),
			As(BinOp(Col("age"), BinOpKindMul, Lit(2)), "double_age"),
			BinOp(Col("score"), BinOpKindGte, Lit(2.5)),
		}, rec)
		require.NoError(t, err)
		defer out.Release()

		require.Equal(t, int64(3), out.NumRows())
		require.Equal(t, "name", out.Schema().Field(0).Name)
		require.Equal(t, "double_age", out.Schema().Field(1).Name)
		require.True(t, arrow.TypeEqual(datatype.ArrowType.Integer, out.Schema().Field(1).Type))
		require.Equal(t, "score", out.Schema().Field(2).Name)
		require.True(t, arrow.TypeEqual(datatype.ArrowType.Bool, out.Schema().Field(2).Type))
		require.Equal(t, []any{int64(60), int64(50), nil}, arrowtest.Column(out, "double_age"))
	})

	t.Run("should reject missing columns", func(t *testing.T) {
		_, err := e.Evaluate(rec.Schema(), []Expr{Col("missing")}, rec)
		require.ErrorIs(t, err, errors.ErrKey)
	})

	t.Run("should reject ill-typed expressions", func(t *testing.T) {
		_, err := e.Evaluate(rec.Schema(), []Expr{BinOp(Col("name"), BinOpKindAdd, Lit(1))}, rec)
		require.ErrorIs(t, err, errors.ErrType)
	})

	t.Run("should reject aggregations", func(t *testing.T) {
		_, err := e.Evaluate(rec.Schema(), []Expr{Sum(Col("age"))}, rec)
		require.ErrorIs(t, err, errors.ErrNotImplemented)
	})
}

func TestExprHelpers(t *testing.T) {
	e := BinOp(As(Col("a"), "x"), BinOpKindAdd, BinOp(Col("b"), BinOpKindMul, Col("a")))
	require.Equal(t, []string{"a", "b"}, Columns(e))
	require.Equal(t, "x", OutputName(e))
	require.False(t, IsInputIndependent(e))
	require.True(t, IsInputIndependent(BinOp(Lit(1), BinOpKindAdd, Lit(2))))
	require.True(t, IsColumn(As(Col("a"), "b")))
	require.False(t, IsColumn(Lit(1)))
	require.True(t, ContainsAgg(As(Sum(Col("a")), "total")))
	require.Equal(t, "len", OutputName(Len()))
	require.Equal(t, `ADD(a AS x, MUL(b, a))`, e.String())
}
