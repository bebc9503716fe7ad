// Package morsel defines the unit of data moved between operators.
package morsel

import (
	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/atomic"
)

// Seq orders morsels flowing through a pipe. Sequence numbers increase
// monotonically per producer lane and across re-instantiations of a pipe.
type Seq uint64

// OffsetBy returns s shifted by offset.
func (s Seq) OffsetBy(offset Seq) Seq { return s + offset }

// Successor returns the next sequence number.
func (s Seq) Successor() Seq { return s + 1 }

// SourceToken is shared by all morsels of one source during one phase. A
// consumer that needs no more data asks the source to stop through it.
type SourceToken struct {
	stop *atomic.Bool
}

// NewSourceToken returns a fresh token.
func NewSourceToken() SourceToken {
	return SourceToken{stop: atomic.NewBool(false)}
}

// StopRequest asks the source to stop producing morsels.
func (t SourceToken) StopRequest() {
	if t.stop != nil {
		t.stop.Store(true)
	}
}

// StopRequested reports whether any consumer asked the source to stop.
func (t SourceToken) StopRequested() bool {
	return t.stop != nil && t.stop.Load()
}

// Morsel is a bounded chunk of rows. The holder of a Morsel owns one
// reference to DF and must either pass it on or release it.
type Morsel struct {
	DF    arrow.Record
	Seq   Seq
	Token SourceToken
}

// New returns a morsel.
func New(df arrow.Record, seq Seq, token SourceToken) Morsel {
	return Morsel{DF: df, Seq: seq, Token: token}
}

// WithDF returns a morsel carrying df with the sequence number and source
// token of m. m's frame is not released.
func (m Morsel) WithDF(df arrow.Record) Morsel {
	return Morsel{DF: df, Seq: m.Seq, Token: m.Token}
}

// Release drops the reference to the frame.
func (m Morsel) Release() {
	if m.DF != nil {
		m.DF.Release()
	}
}
