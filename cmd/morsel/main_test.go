package main

import (
	"bytes"
	"flag"
	"io"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/morsel/pkg/engine/expr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const playersCSV = `name,team,score
ada,red,7
bob,blue,3
cy,red,9
dee,blue,
eve,green,5
`

func testConfig(t *testing.T, args ...string) Config {
	t.Helper()
	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	require.NoError(t, c.Validate())
	return c
}

func runQuery(t *testing.T, fs afero.Fs, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cfg := testConfig(t, append([]string{"-engine.num-pipelines=2", "-engine.ideal-morsel-size=2"}, args...)...)
	require.NoError(t, run(t.Context(), log.NewNopLogger(), cfg, fs, &out))
	return out.String()
}

func TestRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "players.csv", []byte(playersCSV), 0o644))

	t.Run("should aggregate and sort", func(t *testing.T) {
		out := runQuery(t, fs, "-input=players.csv", "-group-by=team", "-agg=sum(score),len()", "-sort=sum_score", "-desc")
		require.Equal(t, "team,sum_score,len\nred,16,2\ngreen,5,1\nblue,3,2\n", out)
	})

	t.Run("should write and read back compressed files", func(t *testing.T) {
		out := runQuery(t, fs, "-input=players.csv", "-where=score > 4", "-select=name,score", "-limit=2", "-output=out/top.arrow.zst")
		require.Empty(t, out)

		out = runQuery(t, fs, "-input=out/top.arrow.zst", "-row-index=n")
		require.Equal(t, "n,name,score\n0,ada,7\n1,cy,9\n", out)
	})

	t.Run("should slice from the end", func(t *testing.T) {
		out := runQuery(t, fs, "-input=players.csv", "-input.schema=name:string,team:string,score:int64", "-select=name", "-offset=-2")
		require.Equal(t, "name\ndee\neve\n", out)
	})

	t.Run("should explain", func(t *testing.T) {
		out := runQuery(t, fs, "-input=players.csv", "-where=team == red", "-explain")
		require.Contains(t, out, "Filter")
		require.Contains(t, out, "FileScan")
	})
}

func TestQueryConfig_Validate(t *testing.T) {
	var c QueryConfig
	c.RegisterFlags(flag.NewFlagSet("test", flag.PanicOnError))
	require.Error(t, c.Validate())

	c.Input = "in.csv"
	require.NoError(t, c.Validate())

	require.NoError(t, c.GroupBy.Set("a"))
	require.Error(t, c.Validate())
}

func TestParsePredicate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"score >= 5", "GTE(score, lit(5))"},
		{"team == red", `EQ(team, lit("red"))`},
		{`team != "a b"`, `NEQ(team, lit("a b"))`},
		{"x<1.5", "LT(x, lit(1.5))"},
		{"ok = true", "EQ(ok, lit(true))"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			e, err := parsePredicate(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, e.String())
		})
	}

	_, err := parsePredicate("score")
	require.Error(t, err)
}

func TestParseAgg(t *testing.T) {
	e, err := parseAgg("Sum(score)")
	require.NoError(t, err)
	require.Equal(t, "sum_score", expr.OutputName(e))

	e, err = parseAgg("len()")
	require.NoError(t, err)
	require.Equal(t, "len", expr.OutputName(e))

	for _, in := range []string{"sum", "median(a)", "sum()", "len(a)"} {
		_, err := parseAgg(in)
		require.Error(t, err, in)
	}
}
