package nodes_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/execute"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/nodes"
	"github.com/grafana/morsel/pkg/engine/internal/util/arrowtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	fieldA = arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int64, Nullable: true}
	fieldB = arrow.Field{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true}
	fields = []arrow.Field{fieldA, fieldB}
)

// frame returns a frame with rows (i, "s<i>") for i in [1, n].
func frame(t *testing.T, n int) arrow.Record {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "%d,s%d\n", i, i)
	}
	return csvFrame(t, fields, sb.String())
}

func csvFrame(t *testing.T, fields []arrow.Field, data string) arrow.Record {
	t.Helper()
	df := arrowtest.MustCSV(fields, data)
	t.Cleanup(df.Release)
	return df
}

func seq(from, to int64) []any {
	var out []any
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func config(morselSize int64) execute.Config {
	return execute.Config{NumPipelines: 3, IdealMorselSize: morselSize}
}

// collect runs g and returns the output of sink.
func collect(t *testing.T, g *graph.Graph, sink graph.NodeKey, cfg execute.Config) arrow.Record {
	t.Helper()
	out, err := execute.ExecuteGraph(t.Context(), g, cfg)
	require.NoError(t, err)
	for key, df := range out {
		if key != sink {
			df.Release()
		}
	}
	df, ok := out[sink]
	require.True(t, ok, "sink produced no output")
	t.Cleanup(df.Release)
	return df
}

// pipeline runs df through the operators added by build and collects the
// result.
func pipeline(t *testing.T, df arrow.Record, morselSize int64, schema *arrow.Schema, build func(g *graph.Graph, in graph.NodeKey) graph.NodeKey) arrow.Record {
	t.Helper()
	g := graph.New()
	src := g.AddNode(nodes.NewInMemorySource(df), nil)
	last := build(g, src)
	sink := g.AddNode(nodes.NewInMemorySink(schema), []graph.Input{{Node: last}})
	return collect(t, g, sink, config(morselSize))
}

func input(key graph.NodeKey) []graph.Input { return []graph.Input{{Node: key}} }

func TestStreamingOperators(t *testing.T) {
	df := frame(t, 10)

	t.Run("should slice across morsels", func(t *testing.T) {
		for _, tc := range []struct {
			offset, length int64
			want           []any
		}{
			{offset: 2, length: 4, want: seq(3, 6)},
			{offset: 0, length: 1, want: seq(1, 1)},
			{offset: 8, length: 10, want: seq(9, 10)},
			{offset: 20, length: 5, want: nil},
			{offset: 3, length: 0, want: nil},
		} {
			t.Run(fmt.Sprintf("offset=%d length=%d", tc.offset, tc.length), func(t *testing.T) {
				out := pipeline(t, df, 3, df.Schema(), func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
					return g.AddNode(nodes.NewStreamingSlice(tc.offset, tc.length), input(in))
				})
				got := arrowtest.Column(out, "a")
				if tc.want == nil {
					require.Empty(t, got)
					return
				}
				require.Equal(t, tc.want, got)
			})
		}
	})

	t.Run("should number rows across morsels", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{{Name: "idx", Type: arrow.PrimitiveTypes.Int64}, fieldA, fieldB}, nil)
		out := pipeline(t, df, 3, schema, func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
			return g.AddNode(nodes.NewWithRowIndex("idx", 100), input(in))
		})
		require.Equal(t, seq(100, 109), arrowtest.Column(out, "idx"))
		require.Equal(t, seq(1, 10), arrowtest.Column(out, "a"))
	})

	t.Run("should filter and extend", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{fieldA, fieldB, {Name: "c", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
		out := pipeline(t, df, 4, schema, func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
			filter := g.AddNode(nodes.NewFilter(expr.BinOp(expr.Col("a"), expr.BinOpKindGt, expr.Lit(int64(6)))), input(in))
			return g.AddNode(nodes.NewSelect(df.Schema(), []expr.Expr{
				expr.As(expr.BinOp(expr.Col("a"), expr.BinOpKindMul, expr.Lit(int64(10))), "c"),
			}, true), input(filter))
		})
		require.Equal(t, seq(7, 10), arrowtest.Column(out, "a"))
		require.Equal(t, []any{int64(70), int64(80), int64(90), int64(100)}, arrowtest.Column(out, "c"))
	})

	t.Run("should project columns", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{fieldB}, nil)
		out := pipeline(t, df, 4, schema, func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
			return g.AddNode(nodes.NewSimpleProjection([]string{"b"}), input(in))
		})
		require.Equal(t, int64(1), out.NumCols())
		require.Equal(t, "s10", arrowtest.Column(out, "b")[9])
	})

	t.Run("should evaluate input independent selectors once", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{{Name: "one", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
		g := graph.New()
		sel := g.AddNode(nodes.NewInputIndependentSelect([]expr.Expr{expr.As(expr.Lit(int64(1)), "one")}), nil)
		sink := g.AddNode(nodes.NewInMemorySink(schema), input(sel))

		out := collect(t, g, sink, config(4))
		require.Equal(t, []any{int64(1)}, arrowtest.Column(out, "one"))
	})

	t.Run("should union inputs in order", func(t *testing.T) {
		other := frame(t, 3)
		g := graph.New()
		src1 := g.AddNode(nodes.NewInMemorySource(df), nil)
		src2 := g.AddNode(nodes.NewInMemorySource(other), nil)
		union := g.AddNode(nodes.NewOrderedUnion(), []graph.Input{{Node: src1}, {Node: src2}})
		sink := g.AddNode(nodes.NewInMemorySink(df.Schema()), input(union))

		out := collect(t, g, sink, config(4))
		require.Equal(t, append(seq(1, 10), seq(1, 3)...), arrowtest.Column(out, "a"))
	})

	t.Run("should feed every multiplexer output", func(t *testing.T) {
		g := graph.New()
		src := g.AddNode(nodes.NewInMemorySource(df), nil)
		mux := g.AddNode(nodes.NewMultiplexer(), input(src))
		var sinks []graph.NodeKey
		for port := range 3 {
			sinks = append(sinks, g.AddNode(nodes.NewInMemorySink(df.Schema()), []graph.Input{{Node: mux, Port: port}}))
		}

		out, err := execute.ExecuteGraph(t.Context(), g, config(3))
		require.NoError(t, err)
		for _, sink := range sinks {
			require.Equal(t, seq(1, 10), arrowtest.Column(out[sink], "a"))
		}
		for _, df := range out {
			df.Release()
		}
	})

	t.Run("should resume a source stopped by a slice for other consumers", func(t *testing.T) {
		g := graph.New()
		src := g.AddNode(nodes.NewInMemorySource(df), nil)
		mux := g.AddNode(nodes.NewMultiplexer(), input(src))
		slice := g.AddNode(nodes.NewStreamingSlice(0, 2), []graph.Input{{Node: mux, Port: 0}})
		limited := g.AddNode(nodes.NewInMemorySink(df.Schema()), input(slice))
		full := g.AddNode(nodes.NewInMemorySink(df.Schema()), []graph.Input{{Node: mux, Port: 1}})

		out, err := execute.ExecuteGraph(t.Context(), g, config(1))
		require.NoError(t, err)
		defer func() {
			for _, df := range out {
				df.Release()
			}
		}()
		require.Equal(t, seq(1, 2), arrowtest.Column(out[limited], "a"))
		// The stop only pauses the source until the next phase, so the
		// other consumer still sees every row.
		require.Equal(t, seq(1, 10), arrowtest.Column(out[full], "a"))
	})
}

func TestBlockingOperators(t *testing.T) {
	t.Run("should sort with nulls placement", func(t *testing.T) {
		df := csvFrame(t, fields, "3,c\n,n\n1,a\n2,b\n1,z")

		for _, tc := range []struct {
			name string
			opts nodes.SortOptions
			want []any
		}{
			{"ascending", nodes.SortOptions{Length: -1}, []any{nil, int64(1), int64(1), int64(2), int64(3)}},
			{"descending", nodes.SortOptions{Descending: []bool{true}, Length: -1}, []any{nil, int64(3), int64(2), int64(1), int64(1)}},
			{"nulls last", nodes.SortOptions{NullsLast: []bool{true}, Length: -1}, []any{int64(1), int64(1), int64(2), int64(3), nil}},
			{"sliced", nodes.SortOptions{Offset: 1, Length: 2}, []any{int64(1), int64(1)}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				out := pipeline(t, df, 2, df.Schema(), func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
					return g.AddNode(nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("a")}, tc.opts), input(in))
				})
				require.Equal(t, tc.want, arrowtest.Column(out, "a"))
			})
		}

		t.Run("stable on ties", func(t *testing.T) {
			out := pipeline(t, df, 2, df.Schema(), func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
				return g.AddNode(nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("a")}, nodes.SortOptions{NullsLast: []bool{true}, Length: -1}), input(in))
			})
			require.Equal(t, []any{"a", "z", "b", "c", "n"}, arrowtest.Column(out, "b"))
		})
	})

	t.Run("should group by key in order of first occurrence", func(t *testing.T) {
		df := csvFrame(t, fields, "1,x\n2,y\n3,x\n,y\n5,z\n6,x")
		aggs := []expr.Expr{
			expr.As(expr.Sum(expr.Col("a")), "sum"),
			expr.As(expr.Count(expr.Col("a")), "count"),
			expr.As(expr.Len(), "len"),
			expr.As(expr.Min(expr.Col("a")), "min"),
			expr.As(expr.Last(expr.Col("a")), "last"),
		}
		gb, err := nodes.NewGroupBy(df.Schema(), []expr.Expr{expr.Col("b")}, aggs)
		require.NoError(t, err)

		schema := arrow.NewSchema([]arrow.Field{
			fieldB,
			{Name: "sum", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "len", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "min", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "last", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		}, nil)
		out := pipeline(t, df, 2, schema, func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
			return g.AddNode(gb, input(in))
		})

		require.Equal(t, [][]any{
			{"x", int64(10), int64(3), int64(3), int64(1), int64(6)},
			{"y", int64(2), int64(1), int64(2), int64(2), nil},
			{"z", int64(5), int64(1), int64(1), int64(5), int64(5)},
		}, arrowtest.Rows(out))
	})

	t.Run("should reduce to a single row", func(t *testing.T) {
		df := frame(t, 10)
		reduce, err := nodes.NewReduce(df.Schema(), []expr.Expr{
			expr.As(expr.Sum(expr.Col("a")), "sum"),
			expr.As(expr.Mean(expr.Col("a")), "mean"),
			expr.As(expr.Max(expr.Col("b")), "max"),
		})
		require.NoError(t, err)

		schema := arrow.NewSchema([]arrow.Field{
			{Name: "sum", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "mean", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			{Name: "max", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil)
		out := pipeline(t, df, 3, schema, func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
			return g.AddNode(reduce, input(in))
		})
		require.Equal(t, [][]any{{int64(55), 5.5, "s9"}}, arrowtest.Rows(out))
	})

	t.Run("should reject non-aggregations", func(t *testing.T) {
		_, err := nodes.NewReduce(arrow.NewSchema(fields, nil), []expr.Expr{expr.Col("a")})
		require.ErrorIs(t, err, errors.ErrNotImplemented)
	})

	t.Run("should reject unsupported key types", func(t *testing.T) {
		fieldK := arrow.Field{Name: "k", Type: arrow.PrimitiveTypes.Int32, Nullable: true}
		df := csvFrame(t, []arrow.Field{fieldK, fieldB}, "2,x\n1,y\n2,z")

		t.Run("group by", func(t *testing.T) {
			_, err := nodes.NewGroupBy(df.Schema(), []expr.Expr{expr.Col("k")}, []expr.Expr{expr.Len()})
			require.ErrorIs(t, err, errors.ErrType)
		})

		for _, typ := range []dataframe.JoinType{dataframe.JoinTypeInner, dataframe.JoinTypeLeft} {
			t.Run("join "+typ.String(), func(t *testing.T) {
				opts := dataframe.JoinOptions{Type: typ, LeftOn: []string{"k"}, RightOn: []string{"k"}}
				_, err := nodes.NewInMemoryJoin(df.Schema(), df.Schema(), opts)
				require.ErrorIs(t, err, errors.ErrType)
			})
		}

		t.Run("sort returns the error from the executor", func(t *testing.T) {
			g := graph.New()
			src := g.AddNode(nodes.NewInMemorySource(df), nil)
			sort := g.AddNode(nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("k")}, nodes.SortOptions{Length: -1}), input(src))
			g.AddNode(nodes.NewInMemorySink(df.Schema()), input(sort))

			var out map[graph.NodeKey]arrow.Record
			require.NotPanics(t, func() {
				var err error
				out, err = execute.ExecuteGraph(t.Context(), g, config(2))
				require.ErrorIs(t, err, errors.ErrType)
			})
			require.Nil(t, out)
		})
	})

	t.Run("should join", func(t *testing.T) {
		left := csvFrame(t, fields, "1,x\n2,y\n3,z\n,w")
		right := csvFrame(t, []arrow.Field{fieldA, {Name: "c", Type: arrow.BinaryTypes.String, Nullable: true}}, "1,one\n3,three\n3,drei\n,null")

		for _, tc := range []struct {
			opts dataframe.JoinOptions
			want [][]any
		}{
			{
				opts: dataframe.JoinOptions{Type: dataframe.JoinTypeInner, LeftOn: []string{"a"}, RightOn: []string{"a"}},
				want: [][]any{{int64(1), "x", "one"}, {int64(3), "z", "three"}, {int64(3), "z", "drei"}},
			},
			{
				opts: dataframe.JoinOptions{Type: dataframe.JoinTypeLeft, LeftOn: []string{"a"}, RightOn: []string{"a"}},
				want: [][]any{{int64(1), "x", "one"}, {int64(2), "y", nil}, {int64(3), "z", "three"}, {int64(3), "z", "drei"}, {nil, "w", nil}},
			},
		} {
			t.Run(tc.opts.Type.String(), func(t *testing.T) {
				schema, err := dataframe.JoinSchema(left.Schema(), right.Schema(), tc.opts)
				require.NoError(t, err)
				join, err := nodes.NewInMemoryJoin(left.Schema(), right.Schema(), tc.opts)
				require.NoError(t, err)

				g := graph.New()
				l := g.AddNode(nodes.NewInMemorySource(left), nil)
				r := g.AddNode(nodes.NewInMemorySource(right), nil)
				j := g.AddNode(join, []graph.Input{{Node: l}, {Node: r}})
				sink := g.AddNode(nodes.NewInMemorySink(schema), input(j))

				out := collect(t, g, sink, config(2))
				require.Equal(t, tc.want, arrowtest.Rows(out))
			})
		}

		t.Run("CROSS", func(t *testing.T) {
			opts := dataframe.JoinOptions{Type: dataframe.JoinTypeCross}
			small := csvFrame(t, fields, "1,x\n2,y")
			schema, err := dataframe.JoinSchema(small.Schema(), small.Schema(), opts)
			require.NoError(t, err)
			join, err := nodes.NewInMemoryJoin(small.Schema(), small.Schema(), opts)
			require.NoError(t, err)

			g := graph.New()
			l := g.AddNode(nodes.NewInMemorySource(small), nil)
			r := g.AddNode(nodes.NewInMemorySource(small), nil)
			j := g.AddNode(join, []graph.Input{{Node: l}, {Node: r}})
			sink := g.AddNode(nodes.NewInMemorySink(schema), input(j))

			out := collect(t, g, sink, config(2))
			require.Equal(t, []any{int64(1), int64(1), int64(2), int64(2)}, arrowtest.Column(out, "a"))
			require.Equal(t, []any{int64(1), int64(2), int64(1), int64(2)}, arrowtest.Column(out, "a_right"))
		})
	})

	t.Run("should zip inputs", func(t *testing.T) {
		long := frame(t, 3)
		short := csvFrame(t, []arrow.Field{{Name: "c", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, "7")
		schema := arrow.NewSchema(append(append([]arrow.Field(nil), fields...), short.Schema().Field(0)), nil)

		build := func(nullExtend bool) (*graph.Graph, graph.NodeKey) {
			g := graph.New()
			l := g.AddNode(nodes.NewInMemorySource(long), nil)
			s := g.AddNode(nodes.NewInMemorySource(short), nil)
			z := g.AddNode(nodes.NewZip([]*arrow.Schema{long.Schema(), short.Schema()}, nullExtend), []graph.Input{{Node: l}, {Node: s}})
			return g, g.AddNode(nodes.NewInMemorySink(schema), input(z))
		}

		g, sink := build(true)
		out := collect(t, g, sink, config(2))
		require.Equal(t, []any{int64(7), nil, nil}, arrowtest.Column(out, "c"))

		g, _ = build(false)
		_, err := execute.ExecuteGraph(t.Context(), g, config(2))
		require.ErrorIs(t, err, errors.ErrLength)
	})

	t.Run("should zip streams", func(t *testing.T) {
		df := frame(t, 10)
		fieldC := arrow.Field{Name: "c", Type: arrow.PrimitiveTypes.Int64, Nullable: true}
		schemas := []*arrow.Schema{arrow.NewSchema([]arrow.Field{fieldA}, nil), arrow.NewSchema([]arrow.Field{fieldC}, nil)}
		schema := arrow.NewSchema([]arrow.Field{fieldA, fieldC}, nil)

		run := func(t *testing.T, g *graph.Graph, sink graph.NodeKey) (arrow.Record, []execute.PhaseInfo) {
			var phases []execute.PhaseInfo
			cfg := config(3)
			cfg.Observer = func(info execute.PhaseInfo) { phases = append(phases, info) }
			return collect(t, g, sink, cfg), phases
		}

		t.Run("in one phase", func(t *testing.T) {
			g := graph.New()
			src := g.AddNode(nodes.NewInMemorySource(df), nil)
			mux := g.AddNode(nodes.NewMultiplexer(), input(src))
			left := g.AddNode(nodes.NewSimpleProjection([]string{"a"}), []graph.Input{{Node: mux, Port: 0}})
			times10 := expr.As(expr.BinOp(expr.Col("a"), expr.BinOpKindMul, expr.Lit(int64(10))), "c")
			right := g.AddNode(nodes.NewSelect(df.Schema(), []expr.Expr{times10}, false), []graph.Input{{Node: mux, Port: 1}})
			z := g.AddNode(nodes.NewZip(schemas, false), []graph.Input{{Node: left}, {Node: right}})
			sink := g.AddNode(nodes.NewInMemorySink(schema), input(z))

			out, phases := run(t, g, sink)
			require.Equal(t, seq(1, 10), arrowtest.Column(out, "a"))
			require.Equal(t, []any{int64(10), int64(20), int64(30), int64(40), int64(50), int64(60), int64(70), int64(80), int64(90), int64(100)}, arrowtest.Column(out, "c"))
			require.Len(t, phases, 1)
			require.Zero(t, phases[0].MemoryIntensive)
		})

		t.Run("after a blocked input", func(t *testing.T) {
			g := graph.New()
			left := g.AddNode(nodes.NewInMemorySource(df), nil)
			leftA := g.AddNode(nodes.NewSimpleProjection([]string{"a"}), input(left))
			right := g.AddNode(nodes.NewInMemorySource(df), nil)
			sorted := g.AddNode(nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("a")}, nodes.SortOptions{Descending: []bool{true}, Length: -1}), input(right))
			rightC := g.AddNode(nodes.NewSelect(df.Schema(), []expr.Expr{expr.As(expr.Col("a"), "c")}, false), input(sorted))
			z := g.AddNode(nodes.NewZip(schemas, false), []graph.Input{{Node: leftA}, {Node: rightC}})
			sink := g.AddNode(nodes.NewInMemorySink(schema), input(z))

			out, phases := run(t, g, sink)
			require.Equal(t, seq(1, 10), arrowtest.Column(out, "a"))
			require.Equal(t, []any{int64(10), int64(9), int64(8), int64(7), int64(6), int64(5), int64(4), int64(3), int64(2), int64(1)}, arrowtest.Column(out, "c"))
			require.Len(t, phases, 2)
		})
	})

	t.Run("should map the whole input at once", func(t *testing.T) {
		df := frame(t, 7)
		var calls int
		fn := func(df arrow.Record) (arrow.Record, error) {
			calls++
			return df.NewSlice(df.NumRows()-2, df.NumRows()), nil
		}
		out := pipeline(t, df, 2, df.Schema(), func(g *graph.Graph, in graph.NodeKey) graph.NodeKey {
			return g.AddNode(nodes.NewInMemoryMap("tail", df.Schema(), fn), input(in))
		})
		require.Equal(t, seq(6, 7), arrowtest.Column(out, "a"))
		require.Equal(t, 1, calls)
	})
}

func TestBlockerStates(t *testing.T) {
	state := execstate.New(t.Context(), 1, 1, execstate.InMemoryExecState{}, nil)
	df := frame(t, 1)

	t.Run("should block output while collecting", func(t *testing.T) {
		sort := nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("a")}, nodes.SortOptions{Length: -1})
		recv := []graph.PortState{graph.Ready}
		send := []graph.PortState{graph.Ready}
		require.NoError(t, sort.UpdateState(recv, send, state))
		require.Equal(t, graph.Ready, recv[0])
		require.Equal(t, graph.Blocked, send[0])
		require.True(t, sort.IsMemoryIntensivePipelineBlocker())
	})

	t.Run("should finish when the consumer is done", func(t *testing.T) {
		sort := nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("a")}, nodes.SortOptions{Length: -1})
		recv := []graph.PortState{graph.Ready}
		send := []graph.PortState{graph.Done}
		require.NoError(t, sort.UpdateState(recv, send, state))
		require.Equal(t, graph.Done, recv[0])
		require.Equal(t, graph.Done, send[0])
	})

	t.Run("should emit an empty result for empty input", func(t *testing.T) {
		sort := nodes.NewSort(df.Schema(), []expr.Expr{expr.Col("a")}, nodes.SortOptions{Length: -1})
		recv := []graph.PortState{graph.Done}
		send := []graph.PortState{graph.Ready}
		require.NoError(t, sort.UpdateState(recv, send, state))
		require.Equal(t, graph.Done, recv[0])
		require.Equal(t, graph.Done, send[0])
	})
}

func TestFileRoundTrip(t *testing.T) {
	df := csvFrame(t, fields, "1,a\n2,\n,c\n4,d\n5,e")

	for _, tc := range []struct {
		path   string
		format dataframe.FileFormat
	}{
		{path: "out/plain.csv", format: dataframe.FileFormatCSV},
		{path: "out/frames.csv.gz", format: dataframe.FileFormatCSV},
		{path: "out/frames.arrow", format: dataframe.FileFormatIPC},
		{path: "out/frames.arrow.zst", format: dataframe.FileFormatIPC},
		{path: "out/frames.arrow.lz4", format: dataframe.FileFormatIPC},
		{path: "out/frames.csv.sz", format: dataframe.FileFormatCSV},
	} {
		t.Run(tc.path, func(t *testing.T) {
			cfg := config(2)
			cfg.InMemory = execstate.InMemoryExecState{Fs: afero.NewMemMapFs()}

			g := graph.New()
			src := g.AddNode(nodes.NewInMemorySource(df), nil)
			g.AddNode(nodes.NewFileSink(tc.path, tc.format, df.Schema(), 64), input(src))
			out, err := execute.ExecuteGraph(t.Context(), g, cfg)
			require.NoError(t, err)
			require.Empty(t, out)

			ok, err := afero.Exists(cfg.InMemory.Fs, tc.path)
			require.NoError(t, err)
			require.True(t, ok)

			g = graph.New()
			scan := g.AddNode(nodes.NewFileScan(tc.path, tc.format, df.Schema()), nil)
			sink := g.AddNode(nodes.NewInMemorySink(df.Schema()), input(scan))
			got := collect(t, g, sink, cfg)
			require.Equal(t, arrowtest.Rows(df), arrowtest.Rows(got))
		})
	}

	t.Run("should write a header for empty input", func(t *testing.T) {
		empty := df.NewSlice(0, 0)
		t.Cleanup(empty.Release)
		cfg := config(2)
		cfg.InMemory = execstate.InMemoryExecState{Fs: afero.NewMemMapFs()}

		g := graph.New()
		src := g.AddNode(nodes.NewInMemorySource(empty), nil)
		g.AddNode(nodes.NewFileSink("empty.csv", dataframe.FileFormatCSV, df.Schema(), 0), input(src))
		_, err := execute.ExecuteGraph(t.Context(), g, cfg)
		require.NoError(t, err)

		data, err := afero.ReadFile(cfg.InMemory.Fs, "empty.csv")
		require.NoError(t, err)
		require.Equal(t, "a,b\n", string(data))
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		cfg := config(2)
		cfg.InMemory = execstate.InMemoryExecState{Fs: afero.NewMemMapFs()}

		g := graph.New()
		scan := g.AddNode(nodes.NewFileScan("missing.csv", dataframe.FileFormatCSV, df.Schema()), nil)
		g.AddNode(nodes.NewInMemorySink(df.Schema()), input(scan))
		_, err := execute.ExecuteGraph(t.Context(), g, cfg)
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing.csv")
	})
}
