package engine

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/spf13/afero"

	"github.com/grafana/morsel/pkg/compression"
	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/planner/logical"
)

// InferSchema returns the schema of the file at path. CSV column types are
// inferred from the first row; types the engine does not support are read
// as strings.
func InferSchema(fs afero.Fs, path string, format logical.FileFormat) (*arrow.Schema, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	codec, _ := compression.FromPath(path)
	r, err := compression.NewReader(codec, f)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	defer r.Close()

	var schema *arrow.Schema
	switch format {
	case logical.FileFormatCSV:
		schema, err = inferCSV(r)
	case logical.FileFormatIPC:
		var rd *ipc.Reader
		if rd, err = ipc.NewReader(r); err == nil {
			schema = rd.Schema()
			rd.Release()
		}
	default:
		err = fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("reading schema of %s: %w", path, err)
	}
	return schema, nil
}

func inferCSV(r io.Reader) (*arrow.Schema, error) {
	rd := csv.NewInferringReader(r, csv.WithHeader(true), csv.WithNullReader(true, ""))
	defer rd.Release()
	if !rd.Next() {
		if err := rd.Err(); err != nil {
			return nil, err
		}
	}
	inferred := rd.Schema()
	if inferred == nil {
		return nil, fmt.Errorf("cannot infer column types without a data row")
	}

	fields := make([]arrow.Field, inferred.NumFields())
	for i, f := range inferred.Fields() {
		dt := f.Type
		if _, err := datatype.FromArrow(dt); err != nil || dt.ID() == arrow.NULL {
			dt = datatype.ArrowType.String
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// ParseSchema parses a schema of the form "name:type,name:type". Types are
// bool, int64, float64, string and timestamp.
func ParseSchema(s string) (*arrow.Schema, error) { return datatype.ParseSchema(s) }
