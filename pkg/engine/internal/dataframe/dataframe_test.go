package dataframe

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/util/arrowtest"
)

var fields = []arrow.Field{
	{Name: "id", Type: datatype.ArrowType.Integer, Nullable: true},
	{Name: "name", Type: datatype.ArrowType.String, Nullable: true},
}

func TestSplitConcat(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := arrowtest.MustCSV(fields, "1,a\n2,b\n3,c\n4,d\n5,e")
	defer df.Release()

	parts := Split(df, 2)
	require.Len(t, parts, 3)
	require.Equal(t, int64(1), parts[2].NumRows())
	require.Equal(t, int64(5), RowCount(parts))

	out, err := Concat(mem, df.Schema(), parts)
	require.NoError(t, err)
	defer out.Release()
	Release(parts)

	require.Equal(t, arrowtest.Rows(df), arrowtest.Rows(out))

	t.Run("should return empty frame for no inputs", func(t *testing.T) {
		empty, err := Concat(mem, df.Schema(), nil)
		require.NoError(t, err)
		require.Equal(t, int64(0), empty.NumRows())
		require.True(t, datatype.SchemaEqual(df.Schema(), empty.Schema()))
	})

	t.Run("should reject mismatched schemas", func(t *testing.T) {
		other := arrowtest.MustCSV([]arrow.Field{{Name: "x", Type: datatype.ArrowType.Integer}}, "1")
		_, err := Concat(mem, df.Schema(), []arrow.Record{df, other})
		require.ErrorIs(t, err, errors.ErrSchema)
	})
}

func TestFilterTake(t *testing.T) {
	ctx := t.Context()
	mem := memory.NewGoAllocator()
	df := arrowtest.MustCSV(fields, "1,a\n2,b\n3,c")
	defer df.Release()

	mb := array.NewBooleanBuilder(mem)
	mb.AppendValues([]bool{true, false, true}, []bool{true, true, true})
	mask := mb.NewArray()
	defer mask.Release()

	filtered, err := Filter(ctx, df, mask)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1), "a"}, {int64(3), "c"}}, arrowtest.Rows(filtered))

	taken, err := Take(ctx, mem, df, []int64{2, 0, 0}, []bool{true, true, false})
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(3), "c"}, {int64(1), "a"}, {nil, nil}}, arrowtest.Rows(taken))
}

func TestStacking(t *testing.T) {
	a := arrowtest.MustCSV(fields, "1,a\n2,b")
	b := arrowtest.MustCSV([]arrow.Field{{Name: "score", Type: datatype.ArrowType.Float}}, "0.5\n1.5")

	out, err := HStack(a, b)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1), "a", 0.5}, {int64(2), "b", 1.5}}, arrowtest.Rows(out))

	_, err = HStack(a, a)
	require.ErrorIs(t, err, errors.ErrSchema)

	short := arrowtest.MustCSV([]arrow.Field{{Name: "score", Type: datatype.ArrowType.Float}}, "0.5")
	_, err = HStack(a, short)
	require.ErrorIs(t, err, errors.ErrLength)

	replaced, err := WithColumns(a, arrowtest.MustCSV([]arrow.Field{{Name: "name", Type: datatype.ArrowType.String}}, "x\ny"))
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1), "x"}, {int64(2), "y"}}, arrowtest.Rows(replaced))

	projected, err := Project(a, []string{"name"})
	require.NoError(t, err)
	require.Equal(t, [][]any{{"a"}, {"b"}}, arrowtest.Rows(projected))
}
