// Package arrowtest provides helpers for building and inspecting frames in
// tests.
package arrowtest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
)

// CSVToArrow converts a CSV string to an Arrow record based on the provided schema.
// It uses the Arrow CSV reader for parsing.
func CSVToArrow(fields []arrow.Field, csvData string) (arrow.Record, error) {
	return CSVToArrowWithAllocator(memory.NewGoAllocator(), fields, csvData)
}

// CSVToArrowWithAllocator converts a CSV string to an Arrow record based on the provided schema
// using the specified memory allocator. It reads all rows from the CSV into a single record.
func CSVToArrowWithAllocator(allocator memory.Allocator, fields []arrow.Field, csvData string) (arrow.Record, error) {
	// first, trim the csvData to remove any preceding and trailing whitespace/line breaks
	csvData = strings.TrimSpace(csvData)

	schema := arrow.NewSchema(fields, nil)
	if csvData == "" {
		return array.NewRecordBuilder(allocator, schema).NewRecord(), nil
	}

	reader := csv.NewReader(
		strings.NewReader(csvData),
		schema,
		csv.WithAllocator(allocator),
		csv.WithNullReader(true),
		csv.WithComma(','),
		csv.WithChunk(-1), // Read all rows
	)
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("failed to read CSV data")
	}

	rec := reader.Record()
	rec.Retain()
	return rec, nil
}

// MustCSV is like CSVToArrow but panics on error.
func MustCSV(fields []arrow.Field, csvData string) arrow.Record {
	rec, err := CSVToArrow(fields, csvData)
	if err != nil {
		panic(err)
	}
	return rec
}

// Rows returns the values of rec row by row. Nulls are returned as nil.
func Rows(rec arrow.Record) [][]any {
	rows := make([][]any, rec.NumRows())
	for i := range rows {
		row := make([]any, rec.NumCols())
		for j := range row {
			row[j] = Value(rec.Column(j), i)
		}
		rows[i] = row
	}
	return rows
}

// Column returns all values of the column called name.
func Column(rec arrow.Record, name string) []any {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		panic(fmt.Sprintf("column %q not found", name))
	}
	col := rec.Column(indices[0])
	out := make([]any, col.Len())
	for i := range out {
		out[i] = Value(col, i)
	}
	return out
}

// Value returns the value at row i of arr as a plain Go value.
func Value(arr arrow.Array, i int) any {
	if datatype.IsNull(arr, i) {
		return nil
	}
	switch arr := arr.(type) {
	case *array.Int64:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Boolean:
		return arr.Value(i)
	case *array.Timestamp:
		return int64(arr.Value(i))
	default:
		return arr.ValueStr(i)
	}
}
