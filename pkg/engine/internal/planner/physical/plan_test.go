package physical

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arrowtest"
	"github.com/grafana/morsel/pkg/engine/planner/logical"
)

var testFields = []arrow.Field{
	{Name: "a", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
}

func testFrame(t *testing.T) arrow.Record {
	t.Helper()
	df := arrowtest.MustCSV(testFields, "1,x\n2,y\n3,z")
	t.Cleanup(df.Release)
	return df
}

func gt(col string, v int64) expr.Expr {
	return expr.BinOp(expr.Col(col), expr.BinOpKindGt, expr.Lit(v))
}

// lowerSingle lowers root and returns the kind of the node feeding the sink.
func lowerSingle(t *testing.T, ir *logical.Plan, root logical.NodeKey) (*Plan, Kind) {
	t.Helper()
	phys := NewPlan()
	key, err := BuildPhysicalPlan(root, ir, phys, nil)
	require.NoError(t, err)

	sink, ok := phys.MustGet(key).Kind.(*InMemorySink)
	require.True(t, ok, "root is %T", phys.MustGet(key).Kind)
	return phys, phys.MustGet(sink.Input.Node).Kind
}

func TestBuildPhysicalPlan(t *testing.T) {
	df := testFrame(t)

	t.Run("should pick specialised operators", func(t *testing.T) {
		for _, tc := range []struct {
			name  string
			build func(p *logical.Plan, scan logical.NodeKey) logical.Node
			want  Kind
		}{
			{
				name: "literal select",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.Select{Input: scan, Exprs: []expr.Expr{expr.As(expr.Lit(int64(1)), "one")}}
				},
				want: &InputIndependentSelect{},
			},
			{
				name: "column select",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.Select{Input: scan, Exprs: []expr.Expr{expr.Col("b")}}
				},
				want: &SimpleProjection{},
			},
			{
				name: "expression select",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.Select{Input: scan, Exprs: []expr.Expr{gt("a", 1)}}
				},
				want: &Select{},
			},
			{
				name: "global aggregation",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.GroupBy{Input: scan, Aggs: []expr.Expr{expr.Sum(expr.Col("a"))}}
				},
				want: &Reduce{},
			},
			{
				name: "slice from the start",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.Slice{Input: scan, Offset: 1, Length: 1}
				},
				want: &StreamingSlice{},
			},
			{
				name: "slice from the end",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.Slice{Input: scan, Offset: -2, Length: 1}
				},
				want: &InMemoryMap{},
			},
			{
				name: "streamable map",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.MapFunction{Input: scan, Name: "id", Func: identity, Streamable: true}
				},
				want: &Map{},
			},
			{
				name: "blocking map",
				build: func(_ *logical.Plan, scan logical.NodeKey) logical.Node {
					return &logical.MapFunction{Input: scan, Name: "id", Func: identity}
				},
				want: &InMemoryMap{},
			},
		} {
			t.Run(tc.name, func(t *testing.T) {
				ir := logical.NewPlan()
				scan := ir.MustAdd(&logical.Scan{DF: df})
				root := ir.MustAdd(tc.build(ir, scan))

				_, kind := lowerSingle(t, ir, root)
				require.IsType(t, tc.want, kind)
			})
		}
	})

	t.Run("should lower sinks without wrapping them", func(t *testing.T) {
		ir := logical.NewPlan()
		scan := ir.MustAdd(&logical.Scan{DF: df})
		mem := ir.MustAdd(&logical.Sink{Input: scan})
		file := ir.MustAdd(&logical.Sink{Input: scan, Kind: logical.SinkFile, Path: "out.csv", Format: logical.FileFormatCSV})
		root := ir.MustAdd(&logical.SinkMultiple{Sinks: []logical.NodeKey{mem, file}})

		phys := NewPlan()
		key, err := BuildPhysicalPlan(root, ir, phys, nil)
		require.NoError(t, err)

		sm, ok := phys.MustGet(key).Kind.(*SinkMultiple)
		require.True(t, ok)
		require.Len(t, sm.Sinks, 2)
		require.IsType(t, &InMemorySink{}, phys.MustGet(sm.Sinks[0]).Kind)
		require.IsType(t, &FileSink{}, phys.MustGet(sm.Sinks[1]).Kind)

		// Both sinks read the scan, so they read separate multiplexer ports.
		mux := phys.Inputs(sm.Sinks[0])[0]
		require.IsType(t, &Multiplexer{}, phys.MustGet(mux.Node).Kind)
		require.Equal(t, Stream{Node: mux.Node, Port: 1}, phys.Inputs(sm.Sinks[1])[0])
	})

	t.Run("should reject reading from a sink", func(t *testing.T) {
		ir := logical.NewPlan()
		scan := ir.MustAdd(&logical.Scan{DF: df})
		sink := ir.MustAdd(&logical.Sink{Input: scan})
		root := ir.MustAdd(&logical.Filter{Input: sink, Predicate: gt("a", 1)})

		_, err := BuildPhysicalPlan(root, ir, NewPlan(), nil)
		require.ErrorIs(t, err, errors.ErrPlan)
	})
}

func identity(df arrow.Record) (arrow.Record, error) {
	df.Retain()
	return df, nil
}

func TestInsertMultiplexers(t *testing.T) {
	df := testFrame(t)

	t.Run("should feed shared streams through one multiplexer", func(t *testing.T) {
		ir := logical.NewPlan()
		scan := ir.MustAdd(&logical.Scan{DF: df})
		left := ir.MustAdd(&logical.Filter{Input: scan, Predicate: gt("a", 1)})
		right := ir.MustAdd(&logical.Filter{Input: scan, Predicate: gt("a", 2)})
		union := ir.MustAdd(&logical.Union{Sources: []logical.NodeKey{left, right, scan}})

		phys := NewPlan()
		root, err := BuildPhysicalPlan(union, ir, phys, nil)
		require.NoError(t, err)

		var (
			muxes []NodeKey
			ports = make(map[int]int)
		)
		visitNodeInputs([]NodeKey{root}, phys, func(s *Stream) {
			if _, ok := phys.MustGet(s.Node).Kind.(*Multiplexer); ok {
				if len(muxes) == 0 || muxes[0] != s.Node {
					muxes = append(muxes, s.Node)
				}
				ports[s.Port]++
			}
		})
		require.Len(t, muxes, 1)
		require.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, ports)

		mux := phys.MustGet(muxes[0]).Kind.(*Multiplexer)
		require.IsType(t, &InMemorySource{}, phys.MustGet(mux.Input.Node).Kind)
		require.NoError(t, phys.Validate([]NodeKey{root}))
	})

	t.Run("should leave single consumers alone", func(t *testing.T) {
		ir := logical.NewPlan()
		scan := ir.MustAdd(&logical.Scan{DF: df})
		filter := ir.MustAdd(&logical.Filter{Input: scan, Predicate: gt("a", 1)})

		phys := NewPlan()
		_, err := BuildPhysicalPlan(filter, ir, phys, nil)
		require.NoError(t, err)
		require.Equal(t, 3, phys.Len())
	})

	t.Run("should connect a node reading one stream twice to two ports", func(t *testing.T) {
		phys := NewPlan()
		src := phys.Add(df.Schema(), &InMemorySource{DF: df})
		renamed := arrow.NewSchema([]arrow.Field{testFields[0], testFields[1], {Name: "a2", Type: testFields[0].Type}, {Name: "b2", Type: testFields[1].Type}}, nil)
		zip := phys.Add(renamed, &Zip{Inputs: []Stream{First(src), First(src)}})
		sink := phys.Add(renamed, &InMemorySink{Input: First(zip)})

		require.ErrorIs(t, phys.Validate([]NodeKey{sink}), errors.ErrPlan)
		insertMultiplexers([]NodeKey{sink}, phys)
		require.NoError(t, phys.Validate([]NodeKey{sink}))

		z := phys.MustGet(zip).Kind.(*Zip)
		require.Equal(t, z.Inputs[0].Node, z.Inputs[1].Node)
		require.Equal(t, []int{0, 1}, []int{z.Inputs[0].Port, z.Inputs[1].Port})
	})
}

func TestValidate(t *testing.T) {
	df := testFrame(t)

	t.Run("should reject unknown inputs", func(t *testing.T) {
		phys := NewPlan()
		sink := phys.Add(df.Schema(), &InMemorySink{Input: First(NodeKey(99))})
		require.ErrorIs(t, phys.Validate([]NodeKey{sink}), errors.ErrPlan)
	})

	t.Run("should reject ports of single-output nodes", func(t *testing.T) {
		phys := NewPlan()
		src := phys.Add(df.Schema(), &InMemorySource{DF: df})
		sink := phys.Add(df.Schema(), &InMemorySink{Input: Stream{Node: src, Port: 1}})
		require.ErrorIs(t, phys.Validate([]NodeKey{sink}), errors.ErrPlan)
	})

	t.Run("should reject schema changes in pass-through operators", func(t *testing.T) {
		phys := NewPlan()
		src := phys.Add(df.Schema(), &InMemorySource{DF: df})
		other := arrow.NewSchema(testFields[:1], nil)
		filter := phys.Add(other, &Filter{Input: First(src), Predicate: gt("a", 1)})
		sink := phys.Add(other, &InMemorySink{Input: First(filter)})
		require.ErrorIs(t, phys.Validate([]NodeKey{sink}), errors.ErrSchema)
	})
}

func TestVisualizePlan(t *testing.T) {
	df := testFrame(t)

	phys := NewPlan()
	src := phys.Add(df.Schema(), &InMemorySource{DF: df})
	filter := phys.Add(df.Schema(), &Filter{Input: First(src), Predicate: gt("a", 1)})
	sel := phys.Add(df.Schema(), &Select{Input: First(filter), Selectors: []expr.Expr{expr.Col("a"), expr.As(expr.Lit("x"), "b")}})
	sink := phys.Add(df.Schema(), &InMemorySink{Input: First(sel)})

	expect := `InMemorySink <3v1>
└── Select <2v1> extend=false
    │   ├── Expr expr=a
    │   └── Expr expr=lit("x") AS b
    └── Filter <1v1> predicate=GT(a, lit(1))
        └── InMemorySource <0v1> rows=3
`
	require.Equal(t, expect, VisualizePlan(sink, phys))
}

func TestVisualizePlan_SharedStreams(t *testing.T) {
	df := testFrame(t)

	phys := NewPlan()
	src := phys.Add(df.Schema(), &InMemorySource{DF: df})
	mux := phys.Add(df.Schema(), &Multiplexer{Input: First(src)})
	sort := phys.Add(df.Schema(), &Sort{Input: Stream{Node: mux, Port: 0}, By: []expr.Expr{expr.Col("a")}})
	filter := phys.Add(df.Schema(), &Filter{Input: Stream{Node: mux, Port: 1}, Predicate: gt("a", 1)})
	union := phys.Add(df.Schema(), &OrderedUnion{Inputs: []Stream{First(sort), First(filter)}})
	sink := phys.Add(df.Schema(), &InMemorySink{Input: First(union)})

	expect := `InMemorySink <5v1>
└── OrderedUnion <4v1>
    ├── Sort <2v1> [blocker] by=(a)
    │   └── Multiplexer <1v1> port=0
    │       └── InMemorySource <0v1> rows=3
    └── Filter <3v1> predicate=GT(a, lit(1))
        └── Multiplexer <1v1> port=1 ...
`
	require.Equal(t, expect, VisualizePlan(sink, phys))
}
