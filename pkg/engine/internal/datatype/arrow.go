package datatype

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// DataType is the logical column type of a frame.
type DataType uint8

const (
	Null DataType = iota
	Bool
	Integer
	Float
	String
	Timestamp
)

var names = map[DataType]string{
	Null:      "null",
	Bool:      "bool",
	Integer:   "int64",
	Float:     "float64",
	String:    "string",
	Timestamp: "timestamp",
}

func (t DataType) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", t)
}

var (
	ArrowType = struct {
		Null      arrow.DataType
		Bool      arrow.DataType
		String    arrow.DataType
		Integer   arrow.DataType
		Float     arrow.DataType
		Timestamp arrow.DataType
	}{
		Null:      arrow.Null,
		Bool:      arrow.FixedWidthTypes.Boolean,
		String:    arrow.BinaryTypes.String,
		Integer:   arrow.PrimitiveTypes.Int64,
		Float:     arrow.PrimitiveTypes.Float64,
		Timestamp: arrow.FixedWidthTypes.Timestamp_ns,
	}

	ToArrow = map[DataType]arrow.DataType{
		Null:      ArrowType.Null,
		Bool:      ArrowType.Bool,
		String:    ArrowType.String,
		Integer:   ArrowType.Integer,
		Float:     ArrowType.Float,
		Timestamp: ArrowType.Timestamp,
	}
)

// FromArrow maps an arrow type onto the supported column types.
func FromArrow(dt arrow.DataType) (DataType, error) {
	switch dt.ID() {
	case arrow.NULL:
		return Null, nil
	case arrow.BOOL:
		return Bool, nil
	case arrow.INT64:
		return Integer, nil
	case arrow.FLOAT64:
		return Float, nil
	case arrow.STRING:
		return String, nil
	case arrow.TIMESTAMP:
		return Timestamp, nil
	default:
		return Null, fmt.Errorf("%w: unsupported arrow type %s", errors.ErrType, dt)
	}
}

// Parse resolves a type name as printed by DataType.String. A few common
// aliases are accepted.
func Parse(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "null":
		return Null, nil
	case "bool", "boolean":
		return Bool, nil
	case "int", "int64", "integer":
		return Integer, nil
	case "float", "float64", "double":
		return Float, nil
	case "string", "str", "utf8":
		return String, nil
	case "timestamp", "ts":
		return Timestamp, nil
	default:
		return Null, fmt.Errorf("%w: unknown type %q", errors.ErrType, name)
	}
}

// ParseSchema parses a schema of the form "name:type,name:type".
func ParseSchema(s string) (*arrow.Schema, error) {
	var fields []arrow.Field
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: field %q has no type", errors.ErrType, part)
		}
		dt, err := Parse(typ)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: strings.TrimSpace(name), Type: ToArrow[dt], Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

// FieldIndex returns the index of the column called name.
func FieldIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return -1, fmt.Errorf("%w: column %q not found", errors.ErrKey, name)
	}
	return indices[0], nil
}

// SchemaEqual reports whether a and b have the same column names and types,
// ignoring nullability and metadata.
func SchemaEqual(a, b *arrow.Schema) bool {
	if a.NumFields() != b.NumFields() {
		return false
	}
	for i := range a.NumFields() {
		fa, fb := a.Field(i), b.Field(i)
		if fa.Name != fb.Name || !arrow.TypeEqual(fa.Type, fb.Type) {
			return false
		}
	}
	return true
}

// IsNull reports whether row i of arr is null. Arrays of the null type carry
// no validity bitmap, so every row of them is null.
func IsNull(arr arrow.Array, i int) bool {
	return arr.DataType().ID() == arrow.NULL || arr.IsNull(i)
}
