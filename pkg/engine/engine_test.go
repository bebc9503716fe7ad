package engine_test

import (
	"context"
	"flag"
	"runtime"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/morsel/pkg/engine"
	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arrowtest"
	"github.com/grafana/morsel/pkg/engine/planner/logical"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fields = []arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "team", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "score", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}

const playersCSV = `ada,red,7
bob,blue,3
cy,red,9
dee,blue,
eve,green,5`

func newEngine(t *testing.T, fs afero.Fs, reg prometheus.Registerer) *engine.Engine {
	t.Helper()
	var cfg engine.Config
	cfg.RegisterFlagsWithPrefix("engine.", flag.NewFlagSet("test", flag.PanicOnError))
	cfg.NumPipelines = 2
	cfg.IdealMorselSize = 2

	e, err := engine.New(engine.Params{Config: cfg, Fs: fs, Registerer: reg})
	require.NoError(t, err)
	return e
}

func players(t *testing.T) arrow.Record {
	t.Helper()
	df := arrowtest.MustCSV(fields, playersCSV)
	t.Cleanup(df.Release)
	return df
}

func TestEngine_Execute(t *testing.T) {
	t.Run("should collect a non-sink root in memory", func(t *testing.T) {
		e := newEngine(t, afero.NewMemMapFs(), nil)

		plan := logical.NewPlan()
		scan := plan.MustAdd(&logical.Scan{DF: players(t)})
		filter := plan.MustAdd(&logical.Filter{Input: scan, Predicate: expr.BinOp(expr.Col("score"), expr.BinOpKindGte, expr.Lit(int64(5)))})
		sort := plan.MustAdd(&logical.Sort{Input: filter, By: []expr.Expr{expr.Col("score")}, Descending: []bool{true}})

		res, err := e.Execute(t.Context(), plan, sort)
		require.NoError(t, err)
		defer res.Release()

		require.Len(t, res.Frames, 1)
		require.Equal(t, []any{"cy", "ada", "eve"}, arrowtest.Column(res.Frames[sort], "name"))
		require.Equal(t, int64(3), res.Stats.Rows)
		require.GreaterOrEqual(t, res.Stats.Phases, 2)
		require.Equal(t, 1, res.Stats.MemoryIntensivePhases)
		require.False(t, res.QueryID.IsZero())
	})

	t.Run("should run memory and file sinks sharing a subplan", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		e := newEngine(t, fs, nil)

		plan := logical.NewPlan()
		scan := plan.MustAdd(&logical.Scan{DF: players(t)})
		totals := plan.MustAdd(&logical.GroupBy{
			Input: scan,
			Keys:  []expr.Expr{expr.Col("team")},
			Aggs:  []expr.Expr{expr.As(expr.Sum(expr.Col("score")), "total")},
		})
		mem := plan.MustAdd(&logical.Sink{Input: totals})
		file := plan.MustAdd(&logical.Sink{Input: totals, Kind: logical.SinkFile, Path: "out/totals.csv.gz", Format: logical.FileFormatCSV})
		root := plan.MustAdd(&logical.SinkMultiple{Sinks: []logical.NodeKey{mem, file}})

		res, err := e.Execute(t.Context(), plan, root)
		require.NoError(t, err)
		defer res.Release()

		require.Len(t, res.Frames, 1)
		want := [][]any{{"red", int64(16)}, {"blue", int64(3)}, {"green", int64(5)}}
		require.Equal(t, want, arrowtest.Rows(res.Frames[mem]))

		// Read the file back through the engine.
		schema, err := engine.InferSchema(fs, "out/totals.csv.gz", logical.FileFormatCSV)
		require.NoError(t, err)
		require.Equal(t, []string{"team", "total"}, fieldNames(schema))

		plan = logical.NewPlan()
		scanFile := plan.MustAdd(&logical.FileScan{Path: "out/totals.csv.gz", Format: logical.FileFormatCSV, Schema: schema})
		back, err := e.Execute(t.Context(), plan, scanFile)
		require.NoError(t, err)
		defer back.Release()
		require.Equal(t, want, arrowtest.Rows(back.Frames[scanFile]))
	})

	t.Run("should wrap planning errors", func(t *testing.T) {
		e := newEngine(t, afero.NewMemMapFs(), nil)

		plan := logical.NewPlan()
		scan := plan.MustAdd(&logical.Scan{DF: players(t)})
		sink := plan.MustAdd(&logical.Sink{Input: scan})
		root := plan.MustAdd(&logical.Filter{Input: sink, Predicate: expr.Lit(true)})

		_, err := e.Execute(t.Context(), plan, root)
		require.ErrorIs(t, err, engine.ErrPlanningFailed)
		require.ErrorIs(t, err, errors.ErrPlan)
	})

	t.Run("should wrap execution errors", func(t *testing.T) {
		e := newEngine(t, afero.NewMemMapFs(), nil)

		plan := logical.NewPlan()
		scan := plan.MustAdd(&logical.Scan{DF: players(t)})

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := e.Execute(ctx, plan, scan)
		require.ErrorIs(t, err, engine.ErrExecutionFailed)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should count queries by status", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		e := newEngine(t, afero.NewMemMapFs(), reg)

		plan := logical.NewPlan()
		scan := plan.MustAdd(&logical.Scan{DF: players(t)})
		res, err := e.Execute(t.Context(), plan, scan)
		require.NoError(t, err)
		res.Release()

		_, err = e.Execute(t.Context(), plan, logical.NodeKey(12345))
		require.Error(t, err)

		require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP morsel_engine_queries_total Total number of queries by status
# TYPE morsel_engine_queries_total counter
morsel_engine_queries_total{status="failure"} 1
morsel_engine_queries_total{status="success"} 1
`), "morsel_engine_queries_total"))
	})
}

func TestEngine_Explain(t *testing.T) {
	e := newEngine(t, afero.NewMemMapFs(), nil)

	plan := logical.NewPlan()
	scan := plan.MustAdd(&logical.Scan{DF: players(t)})
	slice := plan.MustAdd(&logical.Slice{Input: scan, Offset: 1, Length: 2})

	out, err := e.Explain(plan, slice)
	require.NoError(t, err)
	require.Contains(t, out, "InMemorySink")
	require.Contains(t, out, "StreamingSlice")
	require.Contains(t, out, "InMemorySource")
}

func TestConfig_Validate(t *testing.T) {
	defaults := func() engine.Config {
		var cfg engine.Config
		cfg.RegisterFlagsWithPrefix("", flag.NewFlagSet("test", flag.PanicOnError))
		return cfg
	}

	t.Run("should default the number of pipelines", func(t *testing.T) {
		cfg := defaults()
		require.NoError(t, cfg.Validate())
		require.Equal(t, runtime.GOMAXPROCS(0), cfg.NumPipelines)
		require.Equal(t, 4<<20, int(cfg.FileSinkBufferSize))
	})

	for _, tc := range []struct {
		name   string
		modify func(*engine.Config)
	}{
		{"negative pipelines", func(cfg *engine.Config) { cfg.NumPipelines = -1 }},
		{"empty morsels", func(cfg *engine.Config) { cfg.IdealMorselSize = 0 }},
		{"no pipe capacity", func(cfg *engine.Config) { cfg.PipeCapacity = 0 }},
	} {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}
