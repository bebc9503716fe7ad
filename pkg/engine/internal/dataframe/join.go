package dataframe

import (
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// JoinType selects which rows a join produces.
type JoinType int

const (
	JoinTypeInner JoinType = iota
	JoinTypeLeft
	JoinTypeCross
)

func (t JoinType) String() string {
	switch t {
	case JoinTypeInner:
		return "INNER"
	case JoinTypeLeft:
		return "LEFT"
	case JoinTypeCross:
		return "CROSS"
	default:
		return fmt.Sprintf("JoinType(%d)", int(t))
	}
}

// JoinSuffix is appended to right column names that collide with left ones.
const JoinSuffix = "_right"

// JoinOptions describes an equi-join or cross join.
type JoinOptions struct {
	Type    JoinType
	LeftOn  []string
	RightOn []string
}

// CheckKeyType returns an error if arrays of dt cannot be used as join,
// group or sort keys.
func CheckKeyType(dt arrow.DataType) error {
	switch dt.ID() {
	case arrow.INT64, arrow.FLOAT64, arrow.STRING, arrow.TIMESTAMP, arrow.BOOL, arrow.NULL:
		return nil
	}
	return fmt.Errorf("%w: cannot use %s as a key", errors.ErrType, dt)
}

// Validate checks the key columns against the input schemas.
func (o JoinOptions) Validate(left, right *arrow.Schema) error {
	if o.Type == JoinTypeCross {
		if len(o.LeftOn) > 0 || len(o.RightOn) > 0 {
			return fmt.Errorf("%w: cross join with keys", errors.ErrPlan)
		}
		return nil
	}
	if len(o.LeftOn) == 0 || len(o.LeftOn) != len(o.RightOn) {
		return fmt.Errorf("%w: join needs the same non-zero number of keys on both sides, got %d and %d", errors.ErrPlan, len(o.LeftOn), len(o.RightOn))
	}
	for i := range o.LeftOn {
		li, err := datatype.FieldIndex(left, o.LeftOn[i])
		if err != nil {
			return err
		}
		ri, err := datatype.FieldIndex(right, o.RightOn[i])
		if err != nil {
			return err
		}
		lt, rt := left.Field(li).Type, right.Field(ri).Type
		if !arrow.TypeEqual(lt, rt) {
			return fmt.Errorf("%w: cannot join %s on %s", errors.ErrType, lt, rt)
		}
		if err := CheckKeyType(lt); err != nil {
			return err
		}
	}
	return nil
}

// RightColumns returns the indices of the right columns kept in the output.
// Right key columns are dropped from equi-joins.
func (o JoinOptions) RightColumns(right *arrow.Schema) []int {
	var out []int
	for i, f := range right.Fields() {
		if o.Type != JoinTypeCross && slices.Contains(o.RightOn, f.Name) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// JoinSchema returns the schema of joining left and right.
func JoinSchema(left, right *arrow.Schema, opts JoinOptions) (*arrow.Schema, error) {
	if err := opts.Validate(left, right); err != nil {
		return nil, err
	}

	fields := append([]arrow.Field(nil), left.Fields()...)
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		seen[f.Name] = struct{}{}
	}
	for _, i := range opts.RightColumns(right) {
		f := right.Field(i)
		f.Nullable = f.Nullable || opts.Type == JoinTypeLeft
		if _, ok := seen[f.Name]; ok {
			f.Name += JoinSuffix
			if _, ok := seen[f.Name]; ok {
				return nil, fmt.Errorf("%w: duplicate column %q", errors.ErrSchema, f.Name)
			}
		}
		seen[f.Name] = struct{}{}
		fields = append(fields, f)
	}
	return arrow.NewSchema(fields, nil), nil
}
