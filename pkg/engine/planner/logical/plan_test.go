package logical

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arrowtest"
)

var testFields = []arrow.Field{
	{Name: "a", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
}

func names(s *arrow.Schema) []string {
	out := make([]string, s.NumFields())
	for i, f := range s.Fields() {
		out[i] = f.Name
	}
	return out
}

func TestPlan(t *testing.T) {
	df := arrowtest.MustCSV(testFields, "1,x\n2,y")
	defer df.Release()

	t.Run("should derive schemas of chained nodes", func(t *testing.T) {
		p := NewPlan()
		scan := p.MustAdd(&Scan{DF: df})
		filter := p.MustAdd(&Filter{Input: scan, Predicate: expr.BinOp(expr.Col("a"), expr.BinOpKindGt, expr.Lit(int64(1)))})
		with := p.MustAdd(&WithColumns{Input: filter, Exprs: []expr.Expr{
			expr.As(expr.BinOp(expr.Col("a"), expr.BinOpKindMul, expr.Lit(int64(2))), "c"),
			expr.As(expr.Lit("z"), "b"),
		}})
		idx := p.MustAdd(&RowIndex{Input: with, Name: "idx"})

		s, err := p.Schema(idx)
		require.NoError(t, err)
		require.Equal(t, []string{"idx", "a", "b", "c"}, names(s))
		require.Equal(t, 4, p.Len())
	})

	t.Run("should reject unknown inputs", func(t *testing.T) {
		p := NewPlan()
		_, err := p.Add(&Filter{Input: NodeKey(42), Predicate: expr.Lit(true)})
		require.ErrorIs(t, err, errors.ErrPlan)
		require.Equal(t, 0, p.Len())
	})

	t.Run("should reject nodes with invalid schemas", func(t *testing.T) {
		p := NewPlan()
		scan := p.MustAdd(&Scan{DF: df})

		for _, tc := range []struct {
			name string
			node Node
			err  error
		}{
			{"non-boolean predicate", &Filter{Input: scan, Predicate: expr.Col("a")}, errors.ErrType},
			{"unknown column", &Select{Input: scan, Exprs: []expr.Expr{expr.Col("missing")}}, errors.ErrKey},
			{"duplicate column", &Select{Input: scan, Exprs: []expr.Expr{expr.Col("a"), expr.Col("a")}}, errors.ErrSchema},
			{"plain expression as aggregation", &GroupBy{Input: scan, Keys: []expr.Expr{expr.Col("b")}, Aggs: []expr.Expr{expr.Col("a")}}, errors.ErrNotImplemented},
			{"negative slice length", &Slice{Input: scan, Length: -1}, errors.ErrPlan},
			{"file sink without path", &Sink{Input: scan, Kind: SinkFile}, errors.ErrPlan},
			{"join on missing key", &Join{Left: scan, Right: scan, Options: JoinOptions{Type: JoinTypeInner, LeftOn: []string{"x"}, RightOn: []string{"a"}}}, errors.ErrKey},
		} {
			t.Run(tc.name, func(t *testing.T) {
				_, err := p.Add(tc.node)
				require.ErrorIs(t, err, tc.err)
			})
		}
		require.Equal(t, 1, p.Len())
	})

	t.Run("should reject joins on unsupported key types", func(t *testing.T) {
		int32s := arrowtest.MustCSV([]arrow.Field{{Name: "k", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, "1\n2")
		defer int32s.Release()

		p := NewPlan()
		left := p.MustAdd(&Scan{DF: int32s})
		right := p.MustAdd(&Scan{DF: int32s})
		_, err := p.Add(&Join{Left: left, Right: right, Options: JoinOptions{Type: JoinTypeInner, LeftOn: []string{"k"}, RightOn: []string{"k"}}})
		require.ErrorIs(t, err, errors.ErrType)
		require.Equal(t, 2, p.Len())
	})

	t.Run("should name group by and join columns", func(t *testing.T) {
		p := NewPlan()
		scan := p.MustAdd(&Scan{DF: df})

		gb := p.MustAdd(&GroupBy{Input: scan, Keys: []expr.Expr{expr.Col("b")}, Aggs: []expr.Expr{
			expr.As(expr.Sum(expr.Col("a")), "total"),
			expr.As(expr.Len(), "n"),
		}})
		s, err := p.Schema(gb)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "total", "n"}, names(s))

		join := p.MustAdd(&Join{Left: scan, Right: gb, Options: JoinOptions{Type: JoinTypeLeft, LeftOn: []string{"b"}, RightOn: []string{"b"}}})
		s, err = p.Schema(join)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "total", "n"}, names(s))

		cross := p.MustAdd(&Join{Left: scan, Right: scan, Options: JoinOptions{Type: JoinTypeCross}})
		s, err = p.Schema(cross)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "a_right", "b_right"}, names(s))
	})

	t.Run("should require equal schemas for unions", func(t *testing.T) {
		p := NewPlan()
		scan := p.MustAdd(&Scan{DF: df})
		sel := p.MustAdd(&Select{Input: scan, Exprs: []expr.Expr{expr.Col("a")}})

		_, err := p.Add(&Union{Sources: []NodeKey{scan, sel}})
		require.ErrorIs(t, err, errors.ErrSchema)

		u := p.MustAdd(&Union{Sources: []NodeKey{scan, scan}})
		s, err := p.Schema(u)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, names(s))

		_, err = p.Add(&HConcat{Sources: []NodeKey{scan, scan}})
		require.ErrorIs(t, err, errors.ErrSchema)
	})
}
