package logical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/expr"
)

// Select evaluates a list of expressions, producing one column each.
type Select struct {
	Input NodeKey
	Exprs []expr.Expr
}

var _ Node = (*Select)(nil)

func (s *Select) Inputs() []NodeKey { return []NodeKey{s.Input} }

func (s *Select) String() string {
	return fmt.Sprintf("SELECT %s [exprs=(%s)]", s.Input, expr.Join(s.Exprs))
}

func (s *Select) isNode() {}

// WithColumns evaluates a list of expressions and adds the results to the
// input columns. Results replace input columns of the same name.
type WithColumns struct {
	Input NodeKey
	Exprs []expr.Expr
}

var _ Node = (*WithColumns)(nil)

func (w *WithColumns) Inputs() []NodeKey { return []NodeKey{w.Input} }

func (w *WithColumns) String() string {
	return fmt.Sprintf("WITH_COLUMNS %s [exprs=(%s)]", w.Input, expr.Join(w.Exprs))
}

func (w *WithColumns) isNode() {}

// Filter keeps the rows for which Predicate is true.
type Filter struct {
	Input     NodeKey
	Predicate expr.Expr
}

var _ Node = (*Filter)(nil)

func (f *Filter) Inputs() []NodeKey { return []NodeKey{f.Input} }

func (f *Filter) String() string {
	return fmt.Sprintf("FILTER %s [predicate=%s]", f.Input, f.Predicate)
}

func (f *Filter) isNode() {}

// Slice keeps Length rows starting at Offset. A negative Offset counts from
// the end of the input.
type Slice struct {
	Input  NodeKey
	Offset int64
	Length int64
}

var _ Node = (*Slice)(nil)

func (s *Slice) Inputs() []NodeKey { return []NodeKey{s.Input} }

func (s *Slice) String() string {
	return fmt.Sprintf("SLICE %s [offset=%d, length=%d]", s.Input, s.Offset, s.Length)
}

func (s *Slice) isNode() {}

// RowIndex prepends an int64 column numbering the rows of its input, starting
// at Offset.
type RowIndex struct {
	Input  NodeKey
	Name   string
	Offset int64
}

var _ Node = (*RowIndex)(nil)

func (r *RowIndex) Inputs() []NodeKey { return []NodeKey{r.Input} }

func (r *RowIndex) String() string {
	return fmt.Sprintf("ROW_INDEX %s [name=%s, offset=%d]", r.Input, r.Name, r.Offset)
}

func (r *RowIndex) isNode() {}

// MapFunc is a user function applied to frames. The caller owns the returned
// frame, so returning df itself requires retaining it first.
type MapFunc = func(df arrow.Record) (arrow.Record, error)

// MapFunction applies a user function to its input.
type MapFunction struct {
	Input NodeKey
	Name  string
	Func  MapFunc

	// Schema is the schema of the frames Func returns. A nil Schema means
	// Func preserves the input schema.
	Schema *arrow.Schema

	// Streamable is set when Func can be applied to every morsel
	// independently. Otherwise Func is called once with the whole input.
	Streamable bool
}

var _ Node = (*MapFunction)(nil)

func (m *MapFunction) Inputs() []NodeKey { return []NodeKey{m.Input} }

func (m *MapFunction) String() string {
	return fmt.Sprintf("MAP %s [name=%s, streamable=%t]", m.Input, m.Name, m.Streamable)
}

func (m *MapFunction) isNode() {}
