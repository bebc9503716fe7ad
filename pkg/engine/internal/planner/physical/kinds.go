package physical

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/nodes"
)

// Kind is the operator of a [Node].
type Kind interface {
	// Name returns the operator name used when printing plans.
	Name() string

	// inputs returns pointers to the input streams of the operator so passes
	// can rewrite them in place.
	inputs() []*Stream

	isKind()
}

// InMemorySource emits an in-memory frame.
type InMemorySource struct {
	DF arrow.Record
}

// FileScan reads a file.
type FileScan struct {
	Path   string
	Format dataframe.FileFormat
	Schema *arrow.Schema
}

// InputIndependentSelect evaluates expressions without columns once.
type InputIndependentSelect struct {
	Selectors []expr.Expr
}

// Select evaluates Selectors against every morsel. With Extend set the results
// are added to the input columns.
type Select struct {
	Input     Stream
	Selectors []expr.Expr
	Extend    bool
}

// WithRowIndex prepends a row number column.
type WithRowIndex struct {
	Input  Stream
	Column string
	Offset int64
}

type Filter struct {
	Input     Stream
	Predicate expr.Expr
}

// SimpleProjection selects columns by name without evaluating expressions.
type SimpleProjection struct {
	Input   Stream
	Columns []string
}

// Reduce aggregates its whole input into a single row.
type Reduce struct {
	Input Stream
	Aggs  []expr.Expr
}

// StreamingSlice keeps Length rows starting at a non-negative Offset.
type StreamingSlice struct {
	Input  Stream
	Offset int64
	Length int64
}

// InMemorySink collects its input into a frame.
type InMemorySink struct {
	Input Stream
}

// FileSink writes its input to a file.
type FileSink struct {
	Input  Stream
	Path   string
	Format dataframe.FileFormat
}

// SinkMultiple groups sinks executed together. It has no runtime node.
type SinkMultiple struct {
	Sinks []NodeKey
}

// InMemoryMap applies Func to the whole input at once.
type InMemoryMap struct {
	Input Stream
	Label string
	Func  nodes.MapFunc
}

// Map applies Func to every morsel.
type Map struct {
	Input Stream
	Label string
	Func  nodes.MapFunc
}

type Sort struct {
	Input   Stream
	By      []expr.Expr
	Options nodes.SortOptions
}

type GroupBy struct {
	Input Stream
	Keys  []expr.Expr
	Aggs  []expr.Expr
}

// OrderedUnion emits its inputs one after another.
type OrderedUnion struct {
	Inputs []Stream
}

// Zip concatenates its inputs horizontally.
type Zip struct {
	Inputs     []Stream
	NullExtend bool
}

// Multiplexer copies its input to every output port. Multiplexers are
// inserted after lowering for every stream with more than one consumer.
type Multiplexer struct {
	Input Stream
}

// InMemoryJoin joins its fully materialized inputs.
type InMemoryJoin struct {
	Left, Right Stream
	Options     dataframe.JoinOptions
}

func (*InMemorySource) Name() string         { return "InMemorySource" }
func (*FileScan) Name() string               { return "FileScan" }
func (*InputIndependentSelect) Name() string { return "InputIndependentSelect" }
func (*Select) Name() string                 { return "Select" }
func (*WithRowIndex) Name() string           { return "WithRowIndex" }
func (*Filter) Name() string                 { return "Filter" }
func (*SimpleProjection) Name() string       { return "SimpleProjection" }
func (*Reduce) Name() string                 { return "Reduce" }
func (*StreamingSlice) Name() string         { return "StreamingSlice" }
func (*InMemorySink) Name() string           { return "InMemorySink" }
func (*FileSink) Name() string               { return "FileSink" }
func (*SinkMultiple) Name() string           { return "SinkMultiple" }
func (*InMemoryMap) Name() string            { return "InMemoryMap" }
func (*Map) Name() string                    { return "Map" }
func (*Sort) Name() string                   { return "Sort" }
func (*GroupBy) Name() string                { return "GroupBy" }
func (*OrderedUnion) Name() string           { return "OrderedUnion" }
func (*Zip) Name() string                    { return "Zip" }
func (*Multiplexer) Name() string            { return "Multiplexer" }
func (*InMemoryJoin) Name() string           { return "InMemoryJoin" }

func (*InMemorySource) inputs() []*Stream         { return nil }
func (*FileScan) inputs() []*Stream               { return nil }
func (*InputIndependentSelect) inputs() []*Stream { return nil }
func (k *Select) inputs() []*Stream               { return []*Stream{&k.Input} }
func (k *WithRowIndex) inputs() []*Stream         { return []*Stream{&k.Input} }
func (k *Filter) inputs() []*Stream               { return []*Stream{&k.Input} }
func (k *SimpleProjection) inputs() []*Stream     { return []*Stream{&k.Input} }
func (k *Reduce) inputs() []*Stream               { return []*Stream{&k.Input} }
func (k *StreamingSlice) inputs() []*Stream       { return []*Stream{&k.Input} }
func (k *InMemorySink) inputs() []*Stream         { return []*Stream{&k.Input} }
func (k *FileSink) inputs() []*Stream             { return []*Stream{&k.Input} }
func (*SinkMultiple) inputs() []*Stream           { return nil }
func (k *InMemoryMap) inputs() []*Stream          { return []*Stream{&k.Input} }
func (k *Map) inputs() []*Stream                  { return []*Stream{&k.Input} }
func (k *Sort) inputs() []*Stream                 { return []*Stream{&k.Input} }
func (k *GroupBy) inputs() []*Stream              { return []*Stream{&k.Input} }
func (k *OrderedUnion) inputs() []*Stream         { return streamPointers(k.Inputs) }
func (k *Zip) inputs() []*Stream                  { return streamPointers(k.Inputs) }
func (k *Multiplexer) inputs() []*Stream          { return []*Stream{&k.Input} }
func (k *InMemoryJoin) inputs() []*Stream         { return []*Stream{&k.Left, &k.Right} }

func (*InMemorySource) isKind()         {}
func (*FileScan) isKind()               {}
func (*InputIndependentSelect) isKind() {}
func (*Select) isKind()                 {}
func (*WithRowIndex) isKind()           {}
func (*Filter) isKind()                 {}
func (*SimpleProjection) isKind()       {}
func (*Reduce) isKind()                 {}
func (*StreamingSlice) isKind()         {}
func (*InMemorySink) isKind()           {}
func (*FileSink) isKind()               {}
func (*SinkMultiple) isKind()           {}
func (*InMemoryMap) isKind()            {}
func (*Map) isKind()                    {}
func (*Sort) isKind()                   {}
func (*GroupBy) isKind()                {}
func (*OrderedUnion) isKind()           {}
func (*Zip) isKind()                    {}
func (*Multiplexer) isKind()            {}
func (*InMemoryJoin) isKind()           {}

func streamPointers(streams []Stream) []*Stream {
	out := make([]*Stream, len(streams))
	for i := range streams {
		out[i] = &streams[i]
	}
	return out
}

// isSink reports whether k has no output ports.
func isSink(k Kind) bool {
	switch k.(type) {
	case *InMemorySink, *FileSink, *SinkMultiple:
		return true
	default:
		return false
	}
}
