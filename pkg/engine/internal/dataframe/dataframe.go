// Package dataframe contains helpers operating on whole frames
// ([arrow.Record]s) as moved between operators.
package dataframe

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// Empty returns a frame with the given schema and no rows.
func Empty(mem memory.Allocator, schema *arrow.Schema) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	return b.NewRecord()
}

// Concat vertically concatenates frames. All frames must match schema. The
// caller owns the returned frame; the inputs are not released.
func Concat(mem memory.Allocator, schema *arrow.Schema, frames []arrow.Record) (arrow.Record, error) {
	var rows int64
	nonEmpty := make([]arrow.Record, 0, len(frames))
	for _, f := range frames {
		if !datatype.SchemaEqual(schema, f.Schema()) {
			return nil, fmt.Errorf("%w: cannot concatenate %s onto %s", errors.ErrSchema, f.Schema(), schema)
		}
		if f.NumRows() > 0 {
			nonEmpty = append(nonEmpty, f)
			rows += f.NumRows()
		}
	}

	switch len(nonEmpty) {
	case 0:
		return Empty(mem, schema), nil
	case 1:
		nonEmpty[0].Retain()
		return nonEmpty[0], nil
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	parts := make([]arrow.Array, len(nonEmpty))
	for i := range cols {
		for j, f := range nonEmpty {
			parts[j] = f.Column(i)
		}
		col, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return array.NewRecord(schema, cols, rows), nil
}

// Split cuts df into frames of at most size rows. The returned frames are
// zero-copy slices of df and must be released by the caller. An empty df
// yields no frames.
func Split(df arrow.Record, size int64) []arrow.Record {
	if size <= 0 {
		size = df.NumRows()
	}
	var out []arrow.Record
	for start := int64(0); start < df.NumRows(); start += size {
		end := min(start+size, df.NumRows())
		out = append(out, df.NewSlice(start, end))
	}
	return out
}

// HStack joins frames horizontally. All frames must have the same number of
// rows and column names must be unique.
func HStack(frames ...arrow.Record) (arrow.Record, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", errors.ErrPlan)
	}
	rows := frames[0].NumRows()
	var (
		fields []arrow.Field
		cols   []arrow.Array
		seen   = map[string]struct{}{}
	)
	for _, f := range frames {
		if f.NumRows() != rows {
			return nil, fmt.Errorf("%w: cannot stack frames of %d and %d rows", errors.ErrLength, rows, f.NumRows())
		}
		for i, field := range f.Schema().Fields() {
			if _, ok := seen[field.Name]; ok {
				return nil, fmt.Errorf("%w: duplicate column %q", errors.ErrSchema, field.Name)
			}
			seen[field.Name] = struct{}{}
			fields = append(fields, field)
			cols = append(cols, f.Column(i))
		}
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rows), nil
}

// WithColumns returns df with cols appended, replacing existing columns of
// the same name in place.
func WithColumns(df, cols arrow.Record) (arrow.Record, error) {
	if df.NumRows() != cols.NumRows() {
		return nil, fmt.Errorf("%w: cannot add %d rows of columns to %d rows", errors.ErrLength, cols.NumRows(), df.NumRows())
	}
	fields := append([]arrow.Field(nil), df.Schema().Fields()...)
	arrs := append([]arrow.Array(nil), df.Columns()...)
	for i, field := range cols.Schema().Fields() {
		if indices := df.Schema().FieldIndices(field.Name); len(indices) > 0 {
			fields[indices[0]] = field
			arrs[indices[0]] = cols.Column(i)
			continue
		}
		fields = append(fields, field)
		arrs = append(arrs, cols.Column(i))
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), arrs, df.NumRows()), nil
}

// Project returns the named columns of df in the given order.
func Project(df arrow.Record, names []string) (arrow.Record, error) {
	fields := make([]arrow.Field, len(names))
	cols := make([]arrow.Array, len(names))
	for i, name := range names {
		idx, err := datatype.FieldIndex(df.Schema(), name)
		if err != nil {
			return nil, err
		}
		fields[i] = df.Schema().Field(idx)
		cols[i] = df.Column(idx)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, df.NumRows()), nil
}

// Filter keeps the rows of df for which mask is true. Null mask entries drop
// the row.
func Filter(ctx context.Context, df arrow.Record, mask arrow.Array) (arrow.Record, error) {
	if mask.DataType().ID() != arrow.BOOL {
		return nil, fmt.Errorf("%w: predicate returned non-boolean type %s", errors.ErrType, mask.DataType())
	}
	if int64(mask.Len()) != df.NumRows() {
		return nil, fmt.Errorf("%w: mask of %d rows for frame of %d rows", errors.ErrLength, mask.Len(), df.NumRows())
	}
	return compute.FilterRecordBatch(ctx, df, mask, compute.DefaultFilterOptions())
}

// Take gathers the rows of df at indices. Null indices produce null rows.
func Take(ctx context.Context, mem memory.Allocator, df arrow.Record, indices []int64, valid []bool) (arrow.Record, error) {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(indices, valid)
	idx := b.NewArray()
	defer idx.Release()

	cols := make([]arrow.Array, df.NumCols())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i := range cols {
		col, err := compute.TakeArray(ctx, df.Column(i), idx)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return array.NewRecord(df.Schema(), cols, int64(len(indices))), nil
}

// NullColumn returns an all-null array of type dt and length n.
func NullColumn(mem memory.Allocator, dt arrow.DataType, n int) arrow.Array {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.AppendNulls(n)
	return b.NewArray()
}

// RowCount sums the rows of frames.
func RowCount(frames []arrow.Record) int64 {
	var n int64
	for _, f := range frames {
		n += f.NumRows()
	}
	return n
}

// Release releases every non-nil frame.
func Release(frames []arrow.Record) {
	for _, f := range frames {
		if f != nil {
			f.Release()
		}
	}
}
